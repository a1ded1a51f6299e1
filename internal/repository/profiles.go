package repository

import (
	"context"
	"time"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/shared"
)

// Profiles stores one UserProfile per user, keyed by the user id.
type Profiles struct {
	store *persistence.Store
	now   func() time.Time
}

func (p *Profiles) Get(ctx context.Context, userID string) (*model.UserProfile, bool, error) {
	rec, found, err := p.store.Get(ctx, persistence.Users, shared.NormalizeUserID(userID))
	if err != nil || !found {
		return nil, found, err
	}
	var profile model.UserProfile
	if err := rec.Decode(&profile); err != nil {
		return nil, false, err
	}
	return &profile, true, nil
}

func (p *Profiles) Save(ctx context.Context, profile *model.UserProfile) error {
	profile.ID = shared.NormalizeUserID(profile.ID)
	now := p.now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	if err := profile.Validate(); err != nil {
		return err
	}
	rec, err := persistence.MarshalRecord(persistence.Users, profile)
	if err != nil {
		return err
	}
	return p.store.Put(ctx, persistence.Users, rec)
}
