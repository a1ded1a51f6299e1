package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
)

var errLocked = errors.New("database is locked")

func fastBackoff(attempts int) backoff {
	return backoff{attempts: attempts, base: time.Millisecond, max: 2 * time.Millisecond}
}

func TestIsBusy(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":           {nil, false},
		"other":         {errors.New("no such table: tasks"), false},
		"locked text":   {errLocked, true},
		"table locked":  {errors.New("database table is locked: tasks"), true},
		"wrapped":       {fmt.Errorf("put tasks/t1: %w", errLocked), true},
		"driver busy":   {sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		"driver locked": {fmt.Errorf("exec: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), true},
		"driver other":  {sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
	}
	for name, tc := range cases {
		if got := isBusy(tc.err); got != tc.want {
			t.Errorf("%s: isBusy(%v) = %v, want %v", name, tc.err, got, tc.want)
		}
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := backoff{attempts: 6, base: 40 * time.Millisecond, max: 200 * time.Millisecond}
	for attempt := 0; attempt < 10; attempt++ {
		nominal := b.base << uint(attempt)
		if nominal > b.max {
			nominal = b.max
		}
		d := b.delay(attempt)
		if d < nominal*3/4 || d > nominal*5/4 {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, nominal*3/4, nominal*5/4)
		}
	}
}

func TestBackoff_Do(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		failures  int
		failWith  error
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", attempts: 3, failures: 0, wantCalls: 1},
		{name: "not busy", attempts: 3, failures: 5, failWith: errors.New("constraint failed"), wantCalls: 1, wantErr: true},
		{name: "busy then ok", attempts: 3, failures: 2, failWith: errLocked, wantCalls: 3},
		{name: "exhausted", attempts: 3, failures: 10, failWith: errLocked, wantCalls: 3, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := fastBackoff(tc.attempts).do(context.Background(), func() error {
				calls++
				if calls <= tc.failures {
					return tc.failWith
				}
				return nil
			})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tc.wantCalls)
			}
		})
	}
}

func TestBackoff_DoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := backoff{attempts: 5, base: time.Second, max: time.Second}.do(ctx, func() error {
		calls++
		cancel()
		return errLocked
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
