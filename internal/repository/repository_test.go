package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/repository"
	"github.com/basket/bujo/internal/shared"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func ptr[T any](v T) *T { return &v }

func openRepos(t *testing.T) (*repository.Set, *persistence.Store, *fakeClock) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "bujo.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := newClock()
	return repository.New(store, repository.WithClock(clock.Now)), store, clock
}

func TestTasks_RoundTripByDate(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	task := &model.Task{ID: "t1", UserID: "u1", Date: "2025-01-15", Title: "Write report", Status: model.TaskTodo}
	if err := repos.Tasks.Save(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repos.Tasks.GetByDate(ctx, "2025-01-15", "u1")
	if err != nil {
		t.Fatalf("get by date: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Write report" {
		t.Fatalf("expected one task titled Write report, got %+v", got)
	}
	if !got[0].UpdatedAt.Equal(newClock().Now()) {
		t.Fatalf("expected updatedAt stamped, got %v", got[0].UpdatedAt)
	}
}

func TestRepository_SaveAssignsIDAndDefaultUser(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	note := &model.CalendarNote{Date: "2025-01-15", Note: "dentist"}
	if err := repos.Notes.Save(ctx, note); err != nil {
		t.Fatalf("save: %v", err)
	}
	if note.ID == "" || note.UserID != shared.DefaultUserID {
		t.Fatalf("expected id and default owner, got %+v", note)
	}
	all, err := repos.Notes.GetAll(ctx, "")
	if err != nil || len(all) != 1 {
		t.Fatalf("expected note under default user, got %v %v", all, err)
	}
}

func TestRepository_UserIsolation(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	for _, e := range []*model.Expense{
		{UserID: "u1", Title: "coffee", Amount: 3, Type: model.ExpenseExpense, Date: "2025-01-15"},
		{UserID: "u2", Title: "salary", Amount: 100, Type: model.ExpenseIncome, Date: "2025-01-15"},
	} {
		if err := repos.Expenses.Save(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	u1, _ := repos.Expenses.GetByDate(ctx, "2025-01-15", "u1")
	if len(u1) != 1 || u1[0].UserID != "u1" {
		t.Fatalf("expected only u1 expense, got %+v", u1)
	}
}

func TestRepository_SaveValidates(t *testing.T) {
	repos, _, _ := openRepos(t)
	err := repos.Expenses.Save(context.Background(), &model.Expense{Title: "x", Type: "gift", Date: "2025-01-15"})
	if !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestRepository_DeleteDoesNotCascade(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	task := &model.Task{UserID: "u1", Date: "2025-01-15", Title: "a"}
	if err := repos.Tasks.Save(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := repos.Journals.AttachTask(ctx, "2025-01-15", "u1", task.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := repos.Tasks.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repos.Tasks.Delete(ctx, task.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	j, _ := repos.Journals.Ensure(ctx, "2025-01-15", "u1")
	refs, _ := model.DecodeRefs(j.Tasks)
	if len(refs) != 1 || refs[0] != task.ID {
		t.Fatalf("expected journal reference untouched, got %v", refs)
	}
}

func TestTasks_TimerAccumulatesSpentTime(t *testing.T) {
	repos, _, clock := openRepos(t)
	ctx := context.Background()

	task := &model.Task{UserID: "u1", Date: "2025-01-15", Title: "focus"}
	if err := repos.Tasks.Save(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}
	started, err := repos.Tasks.StartTimer(ctx, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != model.TaskInProgress {
		t.Fatalf("expected in-progress, got %s", started.Status)
	}
	if _, err := repos.Tasks.StartTimer(ctx, task.ID); !errors.Is(err, repository.ErrTimerRunning) {
		t.Fatalf("expected ErrTimerRunning, got %v", err)
	}

	clock.Advance(25 * time.Minute)
	stopped, err := repos.Tasks.StopTimer(ctx, task.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.SpentTime != 25 || stopped.TimerStart != nil || len(stopped.TimeLogs) != 1 {
		t.Fatalf("unexpected task after stop: %+v", stopped)
	}
	if _, err := repos.Tasks.StopTimer(ctx, task.ID); !errors.Is(err, repository.ErrTimerNotRunning) {
		t.Fatalf("expected ErrTimerNotRunning, got %v", err)
	}

	logged, err := repos.Tasks.LogManual(ctx, task.ID, 10, "reading")
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	if logged.SpentTime != 35 || logged.LoggedMinutes() != 35 {
		t.Fatalf("expected 35 minutes, got spent=%d logged=%d", logged.SpentTime, logged.LoggedMinutes())
	}
	if _, err := repos.Tasks.LogManual(ctx, task.ID, 0, ""); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for zero minutes, got %v", err)
	}
	if _, err := repos.Tasks.StartTimer(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTasks_CarryOverCopiesOnce(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	for _, task := range []*model.Task{
		{UserID: "u1", Date: "2025-01-14", Title: "carry", CopyToNextDay: true, EstimatedTime: ptr(30)},
		{UserID: "u1", Date: "2025-01-14", Title: "done", CopyToNextDay: true, Status: model.TaskDone},
		{UserID: "u1", Date: "2025-01-14", Title: "stay"},
		{UserID: "u2", Date: "2025-01-14", Title: "other user", CopyToNextDay: true},
	} {
		if err := repos.Tasks.Save(ctx, task); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	n, err := repos.Tasks.CarryOver(ctx, "u1", "2025-01-14", "2025-01-15")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 carried task, got %d %v", n, err)
	}
	again, err := repos.Tasks.CarryOver(ctx, "u1", "2025-01-14", "2025-01-15")
	if err != nil || again != 0 {
		t.Fatalf("expected rerun to copy nothing, got %d %v", again, err)
	}

	today, _ := repos.Tasks.GetByDate(ctx, "2025-01-15", "u1")
	if len(today) != 1 || today[0].Title != "carry" || today[0].Status != model.TaskTodo {
		t.Fatalf("unexpected carried tasks %+v", today)
	}
	if today[0].EstimatedTime == nil || *today[0].EstimatedTime != 30 {
		t.Fatalf("expected estimate carried over")
	}
}

func TestSleep_OnePerDayAndSoftDelete(t *testing.T) {
	repos, store, _ := openRepos(t)
	ctx := context.Background()

	first := &model.SleepInfo{UserID: "u1", Date: "2025-01-15", HoursSlept: 6, Quality: 5}
	if err := repos.Sleep.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := &model.SleepInfo{UserID: "u1", Date: "2025-01-15", HoursSlept: 8, Quality: 8}
	if err := repos.Sleep.Save(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the day's record to be reused, got %s and %s", first.ID, second.ID)
	}

	if err := repos.Sleep.Delete(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	visible, _ := repos.Sleep.GetByDate(ctx, "2025-01-15", "u1")
	if len(visible) != 0 {
		t.Fatalf("expected soft-deleted record hidden, got %+v", visible)
	}
	if _, found, _ := store.Get(ctx, persistence.Sleep, first.ID); !found {
		t.Fatalf("expected soft-deleted record kept in store")
	}

	if err := repos.Sleep.Restore(ctx, first.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	all, _ := repos.Sleep.GetAll(ctx, "u1")
	if len(all) != 1 || all[0].HoursSlept != 8 {
		t.Fatalf("expected restored record, got %+v", all)
	}
	if err := repos.Mood.Delete(ctx, "absent"); err != nil {
		t.Fatalf("expected no-op delete, got %v", err)
	}
}

func TestJournals_EnsureAndReferences(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	j1, err := repos.Journals.Ensure(ctx, "2025-01-15", "u1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	j2, _ := repos.Journals.Ensure(ctx, "2025-01-15", "u1")
	if j1.ID != j2.ID {
		t.Fatalf("expected one journal per day")
	}
	_, _ = repos.Journals.AttachExpense(ctx, "2025-01-15", "u1", "e1")
	_, _ = repos.Journals.AttachExpense(ctx, "2025-01-15", "u1", "e1")
	_, _ = repos.Journals.SetSleep(ctx, "2025-01-15", "u1", "s1")
	j, err := repos.Journals.SetMood(ctx, "2025-01-15", "u1", "m1")
	if err != nil {
		t.Fatalf("set mood: %v", err)
	}
	if j.Expenses != `["e1"]` || j.SleepID != "s1" || j.MoodID != "m1" {
		t.Fatalf("unexpected journal %+v", j)
	}
}

func TestGoals_PeriodProgressAndLinks(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	goal := &model.Goal{UserID: "u1", Title: "Read", Type: model.GoalMonthly, Year: 2025, Month: 1, TargetValue: 4, Unit: "books"}
	if err := repos.Goals.Save(ctx, goal); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repos.Goals.GetByPeriod(ctx, "u1", 2025, "M1")
	if err != nil || len(got) != 1 {
		t.Fatalf("expected goal for M1, got %v %v", got, err)
	}

	done, err := repos.Goals.UpdateProgress(ctx, goal.ID, 4)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if done.Status != model.GoalCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completion, got %+v", done)
	}
	reopened, _ := repos.Goals.UpdateProgress(ctx, goal.ID, 2)
	if reopened.Status != model.GoalActive || reopened.CompletedAt != nil {
		t.Fatalf("expected reopened goal, got %+v", reopened)
	}

	_, _ = repos.Goals.LinkTask(ctx, goal.ID, "t1")
	linked, _ := repos.Goals.LinkTask(ctx, goal.ID, "t1")
	if len(linked.LinkedTaskIDs) != 1 {
		t.Fatalf("expected single link, got %v", linked.LinkedTaskIDs)
	}
}

func TestProfiles_SaveGet(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	if err := repos.Profiles.Save(ctx, &model.UserProfile{ID: "u1", Name: "Ada", MBTI: "INTJ"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, found, err := repos.Profiles.Get(ctx, "u1")
	if err != nil || !found || p.Name != "Ada" || p.CreatedAt.IsZero() {
		t.Fatalf("unexpected profile %+v found=%v err=%v", p, found, err)
	}
	if _, found, _ := repos.Profiles.Get(ctx, "u2"); found {
		t.Fatalf("expected no profile for u2")
	}
}

func TestMessages_BySession(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	session := &model.AISession{UserID: "u1", Title: "coach"}
	if err := repos.Sessions.Save(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}
	for _, content := range []string{"hello", "how was my week?"} {
		msg := &model.AIMessage{UserID: "u1", SessionID: session.ID, Role: model.RoleUser, Content: content}
		if err := repos.Messages.Save(ctx, msg); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}
	_ = repos.Messages.Save(ctx, &model.AIMessage{UserID: "u1", SessionID: "other", Role: model.RoleUser, Content: "x"})

	msgs, err := repos.Messages.BySession(ctx, "u1", session.ID)
	if err != nil || len(msgs) != 2 || msgs[1].Content != "how was my week?" {
		t.Fatalf("unexpected conversation %+v %v", msgs, err)
	}
}

func TestTasks_AnalyticsWeeklyAndMonthly(t *testing.T) {
	repos, _, _ := openRepos(t)
	ctx := context.Background()

	for _, task := range []*model.Task{
		{ID: "t3", UserID: "u1", Date: "2025-01-17", Title: "c", Status: model.TaskInProgress, SpentTime: 45},
		{ID: "t1", UserID: "u1", Date: "2025-01-15", Title: "a", Status: model.TaskDone, SpentTime: 30, EstimatedTime: ptr(40), Useful: ptr(true)},
		{ID: "t2", UserID: "u1", Date: "2025-01-15", Title: "b", Status: model.TaskTodo},
		{ID: "t4", UserID: "u1", Date: "2025-01-19", Title: "d", Status: model.TaskDone},
		{ID: "t5", UserID: "u1", Date: "2025-01-20", Title: "next week", Status: model.TaskDone, SpentTime: 60},
		{ID: "t6", UserID: "u2", Date: "2025-01-15", Title: "other user", Status: model.TaskDone, SpentTime: 90},
	} {
		if err := repos.Tasks.Save(ctx, task); err != nil {
			t.Fatalf("save %s: %v", task.ID, err)
		}
	}

	week, err := repos.Tasks.Analytics(ctx, "u1", model.GoalWeekly, 2025, 3)
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if week.Start != "2025-01-13" || week.End != "2025-01-19" {
		t.Fatalf("week range = %s..%s", week.Start, week.End)
	}
	if week.TotalTasksCreated != 4 || week.TotalTasksCompleted != 2 || week.TotalTimeSpent != 75 || week.ActiveDays != 2 {
		t.Fatalf("week totals = %+v", week)
	}
	if len(week.CompletedByDay) != 2 || week.CompletedByDay["2025-01-15"] != 1 || week.CompletedByDay["2025-01-19"] != 1 {
		t.Fatalf("completed by day = %v", week.CompletedByDay)
	}
	if len(week.TimeSpentByDay) != 2 || week.TimeSpentByDay["2025-01-15"] != 30 || week.TimeSpentByDay["2025-01-17"] != 45 {
		t.Fatalf("time by day = %v", week.TimeSpentByDay)
	}
	var order []string
	for _, d := range week.Tasks {
		order = append(order, d.ID)
	}
	if strings.Join(order, ",") != "t1,t2,t3,t4" {
		t.Fatalf("task order = %v, want by date", order)
	}
	if d := week.Tasks[0]; d.EstimatedTime == nil || *d.EstimatedTime != 40 || d.Useful == nil || !*d.Useful {
		t.Fatalf("detail = %+v", d)
	}

	month, err := repos.Tasks.Analytics(ctx, "u1", model.GoalMonthly, 2025, 1)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if month.TotalTasksCreated != 5 || month.TotalTasksCompleted != 3 || month.TotalTimeSpent != 135 || month.ActiveDays != 3 {
		t.Fatalf("month totals = %+v", month)
	}

	empty, err := repos.Tasks.Analytics(ctx, "u1", model.GoalMonthly, 2025, 2)
	if err != nil {
		t.Fatalf("empty month: %v", err)
	}
	if empty.TotalTasksCreated != 0 || len(empty.Tasks) != 0 || empty.CompletedByDay == nil {
		t.Fatalf("empty month = %+v", empty)
	}

	if _, err := repos.Tasks.Analytics(ctx, "u1", model.GoalQuarterly, 2025, 1); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("quarterly err = %v, want ErrInvalid", err)
	}
}
