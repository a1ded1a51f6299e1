package repository

import (
	"context"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/shared"
)

type Goals struct {
	*Repository[model.Goal, *model.Goal]
}

// Save defaults a blank status to active.
func (g *Goals) Save(ctx context.Context, goal *model.Goal) error {
	if goal.Status == "" {
		goal.Status = model.GoalActive
	}
	return g.Repository.Save(ctx, goal)
}

// GetByPeriod returns the user's goals for a year and period key such as
// "Y", "Q2", "M11" or "W7".
func (g *Goals) GetByPeriod(ctx context.Context, userID string, year int, period string) ([]model.Goal, error) {
	recs, err := g.store.GetAllByPeriod(ctx, persistence.Goals, shared.NormalizeUserID(userID), year, period)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Goal](recs)
}

// UpdateProgress sets the current value. Reaching the target completes the
// goal; dropping below it reopens a completed goal.
func (g *Goals) UpdateProgress(ctx context.Context, id string, current float64) (*model.Goal, error) {
	goal, err := g.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	goal.CurrentValue = current
	reached := goal.TargetValue > 0 && current >= goal.TargetValue
	switch {
	case reached && goal.Status != model.GoalCompleted:
		now := g.now().UTC()
		goal.Status = model.GoalCompleted
		goal.CompletedAt = &now
	case !reached && goal.Status == model.GoalCompleted:
		goal.Status = model.GoalActive
		goal.CompletedAt = nil
	}
	return goal, g.Save(ctx, goal)
}

// LinkTask records taskID on the goal once.
func (g *Goals) LinkTask(ctx context.Context, goalID, taskID string) (*model.Goal, error) {
	goal, err := g.mustGet(ctx, goalID)
	if err != nil {
		return nil, err
	}
	goal.LinkTask(taskID)
	return goal, g.Save(ctx, goal)
}
