package repository

import (
	"context"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/shared"
)

type Messages struct {
	*Repository[model.AIMessage, *model.AIMessage]
}

// BySession returns a conversation in insertion order.
func (m *Messages) BySession(ctx context.Context, userID, sessionID string) ([]model.AIMessage, error) {
	recs, err := m.store.GetAllByPeriod(ctx, persistence.AIMessages, shared.NormalizeUserID(userID), 0, sessionID)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.AIMessage](recs)
}
