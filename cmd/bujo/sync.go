package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/config"
)

func runSyncCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("sync")
	userID := fs.String("user", "", "account to sync (default: user_id from config)")
	setToken := fs.String("set-token", "", "store a sync bearer token in config.yaml and exit")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: bujo sync [-user id] [-set-token token]")
		return 2
	}

	if tok := strings.TrimSpace(*setToken); tok != "" {
		home := config.HomeDir()
		if err := os.MkdirAll(home, 0o755); err != nil {
			return fail(nil, "", err)
		}
		if err := config.SetSyncToken(home, tok); err != nil {
			return fail(nil, "", err)
		}
		audit.Record("sync.token", audit.OutcomeOK, "", "token stored in config.yaml")
		fmt.Fprintln(stdout, "sync token saved")
		return 0
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	user := strings.TrimSpace(*userID)
	if user == "" {
		user = a.cfg.UserID
	}
	res := a.syncClient().PerformSync(ctx, user)
	fmt.Fprintln(stdout, res.Message)
	if !res.Success {
		return 1
	}
	if res.Ignored > 0 {
		fmt.Fprintf(stdout, "%d downloaded records belonged to another user and were skipped\n", res.Ignored)
	}
	return 0
}
