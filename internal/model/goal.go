package model

import (
	"fmt"
	"slices"
	"time"
)

type GoalType string

const (
	GoalYearly    GoalType = "yearly"
	GoalQuarterly GoalType = "quarterly"
	GoalMonthly   GoalType = "monthly"
	GoalWeekly    GoalType = "weekly"
)

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPaused    GoalStatus = "paused"
)

type Goal struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Type          GoalType   `json:"type"`
	Year          int        `json:"year"`
	Quarter       int        `json:"quarter,omitempty"`
	Month         int        `json:"month,omitempty"`
	Week          int        `json:"week,omitempty"`
	TargetValue   float64    `json:"targetValue"`
	CurrentValue  float64    `json:"currentValue"`
	Unit          string     `json:"unit,omitempty"`
	LinkedTaskIDs []string   `json:"linkedTaskIds,omitempty"`
	Status        GoalStatus `json:"status"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// PeriodKey is the index value used for (year, period) lookups.
func (g Goal) PeriodKey() string {
	return GoalPeriodKey(g.Type, g.Quarter, g.Month, g.Week)
}

// GoalPeriodKey returns "Y" for yearly goals and Q<n>, M<n> or W<n> otherwise.
func GoalPeriodKey(t GoalType, quarter, month, week int) string {
	switch t {
	case GoalQuarterly:
		return fmt.Sprintf("Q%d", quarter)
	case GoalMonthly:
		return fmt.Sprintf("M%d", month)
	case GoalWeekly:
		return fmt.Sprintf("W%d", week)
	default:
		return "Y"
	}
}

// Progress returns CurrentValue/TargetValue clamped to [0, 1].
func (g Goal) Progress() float64 {
	if g.TargetValue <= 0 {
		return 0
	}
	p := g.CurrentValue / g.TargetValue
	return min(max(p, 0), 1)
}

// LinkTask adds a task reference once.
func (g *Goal) LinkTask(taskID string) {
	if !slices.Contains(g.LinkedTaskIDs, taskID) {
		g.LinkedTaskIDs = append(g.LinkedTaskIDs, taskID)
	}
}

func (g Goal) Validate() error {
	if err := requireIDs("goal", g.ID, g.UserID); err != nil {
		return err
	}
	switch g.Status {
	case GoalActive, GoalCompleted, GoalPaused:
	default:
		return fmt.Errorf("%w: goal %s: unknown status %q", ErrInvalid, g.ID, g.Status)
	}
	if g.Year <= 0 {
		return fmt.Errorf("%w: goal %s: missing year", ErrInvalid, g.ID)
	}
	switch g.Type {
	case GoalYearly:
	case GoalQuarterly:
		if g.Quarter < 1 || g.Quarter > 4 {
			return fmt.Errorf("%w: goal %s: quarter %d out of range", ErrInvalid, g.ID, g.Quarter)
		}
	case GoalMonthly:
		if g.Month < 1 || g.Month > 12 {
			return fmt.Errorf("%w: goal %s: month %d out of range", ErrInvalid, g.ID, g.Month)
		}
	case GoalWeekly:
		if g.Week < 1 || g.Week > 53 {
			return fmt.Errorf("%w: goal %s: week %d out of range", ErrInvalid, g.ID, g.Week)
		}
	default:
		return fmt.Errorf("%w: goal %s: unknown type %q", ErrInvalid, g.ID, g.Type)
	}
	return nil
}
