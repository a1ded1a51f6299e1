package persistence

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// backoff retries a write while SQLite reports the database busy. It sits on
// top of the driver's busy_timeout, which covers most contention already.
type backoff struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

var writeBackoff = backoff{attempts: 6, base: 50 * time.Millisecond, max: 500 * time.Millisecond}

// delay is base doubled per attempt, capped at max, then jittered into
// [3/4, 5/4) of that.
func (b backoff) delay(attempt int) time.Duration {
	d := b.base << uint(attempt)
	if d <= 0 || d > b.max {
		d = b.max
	}
	return d - d/4 + time.Duration(rand.Int64N(int64(d/2)+1))
}

func (b backoff) do(ctx context.Context, f func() error) error {
	var err error
	for attempt := 0; attempt < b.attempts; attempt++ {
		if err = f(); err == nil || !isBusy(err) {
			return err
		}
		if attempt == b.attempts-1 {
			break
		}
		t := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// isBusy reports SQLITE_BUSY and SQLITE_LOCKED, whether surfaced as a driver
// error or only as text from a wrapping layer.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
