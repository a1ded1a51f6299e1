package repository

import (
	"context"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/shared"
)

type Journals struct {
	*Repository[model.DailyJournal, *model.DailyJournal]
}

// Ensure returns the user's journal for date, creating an empty one if needed.
func (j *Journals) Ensure(ctx context.Context, date, userID string) (*model.DailyJournal, error) {
	userID = shared.NormalizeUserID(userID)
	existing, err := j.GetByDate(ctx, date, userID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}
	journal := &model.DailyJournal{
		UserID:   userID,
		Date:     date,
		Tasks:    model.EncodeRefs(nil),
		Expenses: model.EncodeRefs(nil),
	}
	if err := j.Save(ctx, journal); err != nil {
		return nil, err
	}
	return journal, nil
}

func (j *Journals) edit(ctx context.Context, date, userID string, fn func(*model.DailyJournal) error) (*model.DailyJournal, error) {
	journal, err := j.Ensure(ctx, date, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(journal); err != nil {
		return nil, err
	}
	return journal, j.Save(ctx, journal)
}

// AttachTask adds taskID to the day's task references.
func (j *Journals) AttachTask(ctx context.Context, date, userID, taskID string) (*model.DailyJournal, error) {
	return j.edit(ctx, date, userID, func(dj *model.DailyJournal) error {
		refs, err := model.AddRef(dj.Tasks, taskID)
		dj.Tasks = refs
		return err
	})
}

// AttachExpense adds expenseID to the day's expense references.
func (j *Journals) AttachExpense(ctx context.Context, date, userID, expenseID string) (*model.DailyJournal, error) {
	return j.edit(ctx, date, userID, func(dj *model.DailyJournal) error {
		refs, err := model.AddRef(dj.Expenses, expenseID)
		dj.Expenses = refs
		return err
	})
}

// SetSleep points the day's journal at a sleep record, replacing any other.
func (j *Journals) SetSleep(ctx context.Context, date, userID, sleepID string) (*model.DailyJournal, error) {
	return j.edit(ctx, date, userID, func(dj *model.DailyJournal) error {
		dj.SleepID = sleepID
		return nil
	})
}

// SetMood points the day's journal at a mood record, replacing any other.
func (j *Journals) SetMood(ctx context.Context, date, userID, moodID string) (*model.DailyJournal, error) {
	return j.edit(ctx, date, userID, func(dj *model.DailyJournal) error {
		dj.MoodID = moodID
		return nil
	})
}
