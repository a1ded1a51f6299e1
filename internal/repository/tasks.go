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

var (
	ErrTimerRunning    = errors.New("timer already running")
	ErrTimerNotRunning = errors.New("timer not running")
)

type Tasks struct {
	*Repository[model.Task, *model.Task]
}

// Save defaults a blank status to todo before storing.
func (t *Tasks) Save(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = model.TaskTodo
	}
	return t.Repository.Save(ctx, task)
}

// StartTimer records the timer start and moves a todo task to in-progress.
func (t *Tasks) StartTimer(ctx context.Context, id string) (*model.Task, error) {
	task, err := t.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.TimerStart != nil {
		return nil, fmt.Errorf("%w: task %s", ErrTimerRunning, id)
	}
	now := t.now().UTC()
	task.TimerStart = &now
	if task.Status == model.TaskTodo {
		task.Status = model.TaskInProgress
	}
	return task, t.Repository.Save(ctx, task)
}

// StopTimer appends a timer log for the elapsed whole minutes and adds them
// to spentTime.
func (t *Tasks) StopTimer(ctx context.Context, id string) (*model.Task, error) {
	task, err := t.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.TimerStart == nil {
		return nil, fmt.Errorf("%w: task %s", ErrTimerNotRunning, id)
	}
	now := t.now().UTC()
	start := *task.TimerStart
	minutes := int(now.Sub(start).Round(time.Minute) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	task.TimeLogs = append(task.TimeLogs, model.TimeLog{
		ID:        uuid.NewString(),
		Type:      model.TimeLogTimer,
		Minutes:   minutes,
		StartedAt: &start,
		EndedAt:   &now,
		CreatedAt: now,
	})
	task.SpentTime += minutes
	task.TimerStart = nil
	return task, t.Repository.Save(ctx, task)
}

// LogManual appends a manual time entry.
func (t *Tasks) LogManual(ctx context.Context, id string, minutes int, note string) (*model.Task, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: manual log needs positive minutes", model.ErrInvalid)
	}
	task, err := t.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	task.TimeLogs = append(task.TimeLogs, model.TimeLog{
		ID:        uuid.NewString(),
		Type:      model.TimeLogManual,
		Minutes:   minutes,
		Note:      note,
		CreatedAt: t.now().UTC(),
	})
	task.SpentTime += minutes
	return task, t.Repository.Save(ctx, task)
}

// CarryOver copies the user's unfinished copyToNextDay tasks dated from into
// fresh todo tasks dated to, and marks each source copiedToNextDay so a
// second run copies nothing. Returns the number of tasks created.
func (t *Tasks) CarryOver(ctx context.Context, userID, from, to string) (int, error) {
	userID = shared.NormalizeUserID(userID)
	sources, err := t.Repository.GetByDate(ctx, from, userID)
	if err != nil {
		return 0, err
	}

	var copied int
	err = t.store.WithTx(ctx, func(tx *persistence.Tx) error {
		for i := range sources {
			src := &sources[i]
			if !src.CopyToNextDay || src.CopiedToNextDay || src.Status == model.TaskDone {
				continue
			}
			next := &model.Task{
				UserID:        userID,
				Title:         src.Title,
				Status:        model.TaskTodo,
				Date:          to,
				EstimatedTime: src.EstimatedTime,
				CopyToNextDay: src.CopyToNextDay,
				TimeLogs:      []model.TimeLog{},
			}
			src.CopiedToNextDay = true
			for _, v := range []*model.Task{next, src} {
				rec, err := t.prepare(v)
				if err != nil {
					return err
				}
				if err := tx.Put(ctx, t.partition, rec); err != nil {
					return err
				}
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("carry over %s -> %s: %w", from, to, err)
	}
	return copied, nil
}
