package main

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/bujo/internal/config"
	"github.com/basket/bujo/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("doctor")
	jsonOutput := fs.Bool("json", false, "print the report as JSON")
	initConfig := fs.Bool("init", false, "write a starter config.yaml when none exists")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: bujo doctor [-json] [-init]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil && !cfg.NeedsGenesis {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		// Continue so the config check can report it.
	}
	if *initConfig && cfg.NeedsGenesis {
		if err := config.WriteDefault(cfg.HomeDir); err != nil {
			fmt.Fprintf(stderr, "write config.yaml: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "wrote %s\n", config.ConfigPath(cfg.HomeDir))
		if cfg, err = config.Load(); err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		}
	}

	diag := doctor.Run(ctx, &cfg, Version)

	if *jsonOutput {
		if err := writeJSON(stdout, diag); err != nil {
			fmt.Fprintf(stderr, "Error encoding json: %v\n", err)
			return 1
		}
		if diag.Failed() {
			return 1
		}
		return 0
	}

	st := newStyles(isTerminal())
	fmt.Fprintln(stdout, st.title.Render(fmt.Sprintf("bujo doctor report (%s)", diag.Timestamp.Format(time.RFC3339))))
	fmt.Fprintf(stdout, "System: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Fprintln(stdout, "---")

	for _, res := range diag.Results {
		fmt.Fprintf(stdout, "%s %-15s: %s\n", st.status(fmt.Sprintf("%-4s", res.Status)), res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(stdout, "     %s\n", st.faint.Render(res.Detail))
		}
	}

	if diag.Failed() {
		return 1
	}
	return 0
}
