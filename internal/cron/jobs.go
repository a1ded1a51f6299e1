package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/repository"
	bsync "github.com/basket/bujo/internal/sync"
)

// SyncJob runs a full sync for userID.
func SyncJob(schedule string, client *bsync.Client, userID string) Job {
	return Job{
		Name:     "sync",
		Schedule: schedule,
		Run: func(ctx context.Context, _ time.Time) error {
			res := client.PerformSync(ctx, userID)
			if !res.Success {
				return errors.New(res.Message)
			}
			return nil
		},
	}
}

// RolloverJob carries yesterday's unfinished copy-forward tasks into today.
func RolloverJob(schedule string, tasks *repository.Tasks, userID string) Job {
	return Job{
		Name:     "rollover",
		Schedule: schedule,
		Run: func(ctx context.Context, now time.Time) error {
			today := model.Day(now)
			yesterday := model.Day(now.AddDate(0, 0, -1))
			n, err := tasks.CarryOver(ctx, userID, yesterday, today)
			if err != nil {
				return err
			}
			if n > 0 {
				audit.Record("tasks.rollover", audit.OutcomeOK, userID, fmt.Sprintf("%d tasks to %s", n, today))
			}
			return nil
		},
	}
}

// SnapshotJob writes a database snapshot into dir, keeping the newest keep.
func SnapshotJob(schedule string, store *persistence.Store, dir string, keep int) Job {
	return Job{
		Name:     "snapshot",
		Schedule: schedule,
		Run: func(ctx context.Context, _ time.Time) error {
			path, err := store.Snapshot(ctx, dir, keep)
			if err != nil {
				audit.Record("store.snapshot", audit.OutcomeFailed, "", err.Error())
				return err
			}
			audit.Record("store.snapshot", audit.OutcomeOK, "", path)
			return nil
		},
	}
}
