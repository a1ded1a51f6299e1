// Package repository provides typed access to the journal partitions.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/shared"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("record not found")

// Repository reads and writes one partition of T documents. P is *T.
type Repository[T any, P interface {
	*T
	model.Keyed
}] struct {
	store     *persistence.Store
	partition string
	now       func() time.Time
}

func newRepository[T any, P interface {
	*T
	model.Keyed
}](store *persistence.Store, partition string, now func() time.Time) *Repository[T, P] {
	return &Repository[T, P]{store: store, partition: partition, now: now}
}

func (r *Repository[T, P]) Partition() string {
	return r.partition
}

// Get returns the entity with id, reporting false when absent.
func (r *Repository[T, P]) Get(ctx context.Context, id string) (*T, bool, error) {
	rec, found, err := r.store.Get(ctx, r.partition, id)
	if err != nil || !found {
		return nil, found, err
	}
	var v T
	if err := rec.Decode(&v); err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

func (r *Repository[T, P]) mustGet(ctx context.Context, id string) (*T, error) {
	v, found, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, r.partition, id)
	}
	return v, nil
}

func decodeAll[T any](recs []persistence.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := rec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetByDate returns the user's entities for one day in insertion order. An
// empty userID means the default user.
func (r *Repository[T, P]) GetByDate(ctx context.Context, date, userID string) ([]T, error) {
	recs, err := r.store.GetAllByUserDate(ctx, r.partition, shared.NormalizeUserID(userID), date)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs)
}

// GetAll returns every entity owned by userID in insertion order.
func (r *Repository[T, P]) GetAll(ctx context.Context, userID string) ([]T, error) {
	recs, err := r.store.GetAllByUser(ctx, r.partition, shared.NormalizeUserID(userID))
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs)
}

// prepare assigns an id and owner when missing, stamps timestamps and
// validates, then encodes v for the store.
func (r *Repository[T, P]) prepare(v P) (persistence.Record, error) {
	if v.Key() == "" {
		v.SetKey(uuid.NewString())
	}
	v.SetOwner(shared.NormalizeUserID(v.Owner()))
	v.Touch(r.now().UTC())
	if err := v.Validate(); err != nil {
		return persistence.Record{}, err
	}
	return persistence.MarshalRecord(r.partition, v)
}

// Save upserts v.
func (r *Repository[T, P]) Save(ctx context.Context, v P) error {
	rec, err := r.prepare(v)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, r.partition, rec)
}

// Delete removes the entity. Deleting an absent id is a no-op; nothing
// cascades into journals or goals that reference it.
func (r *Repository[T, P]) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, r.partition, id)
}
