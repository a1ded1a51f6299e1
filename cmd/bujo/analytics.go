package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/repository"
)

func runAnalyticsCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("analytics")
	userID := fs.String("user", "", "account to report on (default: active user)")
	jsonOutput := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(stderr, "usage: bujo analytics [-user id] [-json] weekly|monthly <year> <period>")
		return 2
	}
	periodType := model.GoalType(fs.Arg(0))
	year, yerr := strconv.Atoi(fs.Arg(1))
	period, perr := strconv.Atoi(fs.Arg(2))
	if yerr != nil || perr != nil {
		fmt.Fprintf(stderr, "year and period must be integers, got %q %q\n", fs.Arg(1), fs.Arg(2))
		return 2
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	user := *userID
	if user == "" {
		user = a.cfg.UserID
	}
	rep, err := a.repos.Tasks.Analytics(ctx, user, periodType, year, period)
	if errors.Is(err, model.ErrInvalid) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	if err != nil {
		return fail(a.logger, "", err)
	}
	if *jsonOutput {
		if err := writeJSON(stdout, rep); err != nil {
			return fail(a.logger, "", err)
		}
		return 0
	}
	printAnalytics(rep, newStyles(isTerminal()))
	return 0
}

func printAnalytics(rep repository.TaskAnalytics, st styles) {
	line := func(label, value string) {
		fmt.Fprintf(stdout, "%s %s\n", st.label.Render(fmt.Sprintf("%-11s", label+":")), value)
	}
	fmt.Fprintln(stdout, st.title.Render(fmt.Sprintf("tasks %s..%s", rep.Start, rep.End)))
	line("created", strconv.Itoa(rep.TotalTasksCreated))
	line("completed", strconv.Itoa(rep.TotalTasksCompleted))
	line("time spent", fmt.Sprintf("%dh%02dm", rep.TotalTimeSpent/60, rep.TotalTimeSpent%60))
	line("active days", strconv.Itoa(rep.ActiveDays))

	days := make([]string, 0, len(rep.TimeSpentByDay)+len(rep.CompletedByDay))
	for d := range rep.TimeSpentByDay {
		days = append(days, d)
	}
	for d := range rep.CompletedByDay {
		days = append(days, d)
	}
	slices.Sort(days)
	for _, d := range slices.Compact(days) {
		fmt.Fprintf(stdout, "  %s  %s %s\n", d,
			st.pass.Render(fmt.Sprintf("%2d done", rep.CompletedByDay[d])),
			st.faint.Render(fmt.Sprintf("%4d min", rep.TimeSpentByDay[d])))
	}
}
