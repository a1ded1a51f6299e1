// Package migration moves data created before sign-in to the signed-in user.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/bus"
	"github.com/basket/bujo/internal/otel"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/shared"
)

var ErrInvalidTarget = errors.New("invalid migration target")

// Result reports how many records moved per partition.
type Result struct {
	TargetUserID string         `json:"targetUserId"`
	Moved        map[string]int `json:"moved"`
	ProfileMoved bool           `json:"profileMoved"`
	At           time.Time      `json:"at"`
}

// Total is the number of moved records across partitions, profile included.
func (r Result) Total() int {
	n := 0
	for _, c := range r.Moved {
		n += c
	}
	return n
}

// Migrator moves default-owned records to a real user.
type Migrator struct {
	store *persistence.Store
	bus   *bus.Bus
	tel   otel.Telemetry
	now   func() time.Time
}

func New(store *persistence.Store, eventBus *bus.Bus, tel otel.Telemetry) *Migrator {
	return &Migrator{store: store, bus: eventBus, tel: tel.OrNoop(), now: time.Now}
}

// Migrate moves every default-owned record to targetUserID inside one store
// transaction. The index key and the document's userId change together, so
// nothing stays reachable under the default user. The default profile only
// replaces the target's profile when the target has none. A second run finds
// nothing to move.
func (m *Migrator) Migrate(ctx context.Context, targetUserID string) (Result, error) {
	if targetUserID == "" || targetUserID == shared.DefaultUserID {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidTarget, targetUserID)
	}
	ctx, span := otel.StartSpan(ctx, m.tel.Tracer, "migration.migrate", otel.AttrUserID.String(targetUserID))
	defer span.End()

	at := m.now().UTC()
	res := Result{TargetUserID: targetUserID, At: at}
	err := m.store.WithTx(ctx, func(tx *persistence.Tx) error {
		moved, err := tx.RekeyUser(ctx, shared.DefaultUserID, targetUserID, at)
		if err != nil {
			return err
		}
		profileMoved, err := tx.MoveProfile(ctx, shared.DefaultUserID, targetUserID, at)
		if err != nil {
			return err
		}
		if profileMoved {
			moved[persistence.Users] = 1
		} else {
			moved[persistence.Users] = 0
		}
		res.Moved = moved
		res.ProfileMoved = profileMoved
		return nil
	})
	if err != nil {
		otel.Fail(span, err)
		audit.Record("migration.run", audit.OutcomeFailed, targetUserID, err.Error())
		return Result{}, fmt.Errorf("migrate to %s: %w", targetUserID, err)
	}

	m.tel.Metrics.RecordsMigrated.Add(ctx, int64(res.Total()))
	ledger, _ := json.Marshal(res)
	if err := m.store.KVSet(ctx, ledgerKey(targetUserID), string(ledger)); err != nil {
		return res, fmt.Errorf("record migration ledger: %w", err)
	}
	audit.Record("migration.run", audit.OutcomeOK, targetUserID, fmt.Sprintf("moved %d records", res.Total()))
	if m.bus != nil {
		m.bus.Publish(bus.TopicMigrationCompleted, bus.MigrationEvent{TargetUserID: targetUserID, Moved: res.Moved})
	}
	return res, nil
}

// Last returns the ledger entry of the latest migration to userID.
func (m *Migrator) Last(ctx context.Context, userID string) (Result, bool, error) {
	raw, err := m.store.KVGet(ctx, ledgerKey(userID))
	if err != nil || raw == "" {
		return Result{}, false, err
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, false, fmt.Errorf("decode migration ledger: %w", err)
	}
	return res, true, nil
}

func ledgerKey(userID string) string {
	return "migration:" + userID
}
