package repository

import (
	"context"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/shared"
)

// Daily holds at most one entity per user per date and soft-deletes.
// Sleep and mood logs use it.
type Daily[T any, P interface {
	*T
	model.SoftDeletable
}] struct {
	*Repository[T, P]
}

func visible[T any, P interface {
	*T
	model.SoftDeletable
}](in []T) []T {
	out := in[:0]
	for i := range in {
		if !P(&in[i]).Deleted() {
			out = append(out, in[i])
		}
	}
	return out
}

// GetByDate skips soft-deleted entries.
func (d *Daily[T, P]) GetByDate(ctx context.Context, date, userID string) ([]T, error) {
	all, err := d.Repository.GetByDate(ctx, date, userID)
	if err != nil {
		return nil, err
	}
	return visible[T, P](all), nil
}

// GetAll skips soft-deleted entries.
func (d *Daily[T, P]) GetAll(ctx context.Context, userID string) ([]T, error) {
	all, err := d.Repository.GetAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	return visible[T, P](all), nil
}

// Save reuses the id of an existing entry for the same user and date, so a
// day never holds two. Saving clears any soft-delete mark.
func (d *Daily[T, P]) Save(ctx context.Context, v P) error {
	if v.Key() == "" {
		existing, err := d.Repository.GetByDate(ctx, v.Day(), shared.NormalizeUserID(v.Owner()))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			v.SetKey(P(&existing[0]).Key())
		}
	}
	v.SetDeleted(nil)
	return d.Repository.Save(ctx, v)
}

// Delete marks the entry deleted. Absent ids are a no-op.
func (d *Daily[T, P]) Delete(ctx context.Context, id string) error {
	v, found, err := d.Repository.Get(ctx, id)
	if err != nil || !found {
		return err
	}
	p := P(v)
	if p.Deleted() {
		return nil
	}
	at := d.now().UTC()
	p.SetDeleted(&at)
	return d.Repository.Save(ctx, p)
}

// Restore clears the soft-delete mark.
func (d *Daily[T, P]) Restore(ctx context.Context, id string) error {
	v, err := d.mustGet(ctx, id)
	if err != nil {
		return err
	}
	p := P(v)
	p.SetDeleted(nil)
	return d.Repository.Save(ctx, p)
}
