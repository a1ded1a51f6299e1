package backup_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/bujo/internal/backup"
	"github.com/basket/bujo/internal/bus"
	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/otel"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/repository"
)

type env struct {
	store *persistence.Store
	repos *repository.Set
	codec *backup.Codec
}

func newEnv(t *testing.T, eventBus *bus.Bus) env {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "bujo.db"), eventBus)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	codec, err := backup.New(store, eventBus, nil, otel.Telemetry{})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return env{store: store, repos: repository.New(store), codec: codec}
}

func saveTask(t *testing.T, repos *repository.Set, task *model.Task) {
	t.Helper()
	if err := repos.Tasks.Save(context.Background(), task); err != nil {
		t.Fatalf("save task: %v", err)
	}
}

func TestExportUser_FiltersByUser(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	saveTask(t, e.repos, &model.Task{UserID: "u1", Date: "2025-01-15", Title: "a"})
	saveTask(t, e.repos, &model.Task{UserID: "u1", Date: "2025-01-16", Title: "b"})
	saveTask(t, e.repos, &model.Task{UserID: "u2", Date: "2025-01-15", Title: "c"})
	if err := e.repos.Profiles.Save(ctx, &model.UserProfile{ID: "u1", Name: "Ana"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	doc, err := e.codec.ExportUser(ctx, "u1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if doc.Version != backup.FormatVersion {
		t.Fatalf("version = %q", doc.Version)
	}
	if doc.UserID != "u1" {
		t.Fatalf("userId = %q", doc.UserID)
	}
	if _, err := time.Parse(time.RFC3339, doc.ExportDate); err != nil {
		t.Fatalf("exportDate %q: %v", doc.ExportDate, err)
	}
	if got := len(doc.Data[persistence.Tasks]); got != 2 {
		t.Fatalf("expected 2 of 3 tasks, got %d", got)
	}
	if got := len(doc.Data[persistence.Users]); got != 1 {
		t.Fatalf("expected the user's profile, got %d", got)
	}
	for _, p := range persistence.Partitions {
		if doc.Data[p] == nil {
			t.Fatalf("partition %s missing from export", p)
		}
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newEnv(t, nil)
	ctx := context.Background()
	saveTask(t, src.repos, &model.Task{Date: "2025-01-15", Title: "t1", SpentTime: 25})
	if err := src.repos.Mood.Save(ctx, &model.MoodInfo{Date: "2025-01-15", Rating: 7}); err != nil {
		t.Fatalf("save mood: %v", err)
	}
	if err := src.repos.Goals.Save(ctx, &model.Goal{Title: "run", Type: model.GoalMonthly, Year: 2025, Month: 1, TargetValue: 10}); err != nil {
		t.Fatalf("save goal: %v", err)
	}

	exported, err := src.codec.ExportAll(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out", "backup.json")
	if err := backup.WriteFile(path, exported); err != nil {
		t.Fatalf("write: %v", err)
	}

	eventBus := bus.New()
	sub := eventBus.Subscribe(bus.TopicBackupImported)
	defer eventBus.Unsubscribe(sub)
	dst := newEnv(t, eventBus)
	doc, err := dst.codec.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	n, err := dst.codec.Import(ctx, doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Fatalf("imported %d records, want 3", n)
	}

	again, err := dst.codec.ExportAll(ctx)
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	for _, p := range persistence.Partitions {
		want, _ := json.Marshal(exported.Data[p])
		got, _ := json.Marshal(again.Data[p])
		if string(want) != string(got) {
			t.Fatalf("partition %s differs after round trip:\nwant %s\ngot  %s", p, want, got)
		}
	}

	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(bus.BackupImportedEvent)
		if !ok || payload.Records != 3 {
			t.Fatalf("unexpected event %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no backup.imported event")
	}
}

func TestImport_OverwritesExisting(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	task := &model.Task{Date: "2025-01-15", Title: "local"}
	saveTask(t, e.repos, task)

	doc := &backup.Document{
		Version: backup.FormatVersion,
		Data: map[string][]json.RawMessage{
			persistence.Tasks: {json.RawMessage(`{"id":"` + task.ID + `","userId":"default","date":"2025-01-15","title":"restored","status":"todo"}`)},
		},
	}
	if _, err := e.codec.Import(ctx, doc); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, found, err := e.repos.Tasks.Get(ctx, task.ID)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.Title != "restored" {
		t.Fatalf("title = %q", got.Title)
	}
}

func TestImportUser_RewritesOwner(t *testing.T) {
	src := newEnv(t, nil)
	ctx := context.Background()
	saveTask(t, src.repos, &model.Task{UserID: "u1", Date: "2025-01-15", Title: "mine"})
	if err := src.repos.Profiles.Save(ctx, &model.UserProfile{ID: "u1", Name: "Ana"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	doc, err := src.codec.ExportUser(ctx, "u1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newEnv(t, nil)
	effective, err := dst.codec.ImportUser(ctx, doc, "u7")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if effective != "u7" {
		t.Fatalf("effective = %q", effective)
	}
	tasks, err := dst.repos.Tasks.GetAll(ctx, "u7")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(tasks) != 1 || tasks[0].UserID != "u7" {
		t.Fatalf("expected one task owned by u7, got %+v", tasks)
	}
	left, _ := dst.repos.Tasks.GetAll(ctx, "u1")
	if len(left) != 0 {
		t.Fatalf("expected nothing under u1, got %d", len(left))
	}
	profile, found, err := dst.repos.Profiles.Get(ctx, "u7")
	if err != nil || !found {
		t.Fatalf("profile for u7: found=%v err=%v", found, err)
	}
	if profile.Name != "Ana" {
		t.Fatalf("profile name = %q", profile.Name)
	}
}

func TestImportUser_KeepsOwnerWithoutTarget(t *testing.T) {
	e := newEnv(t, nil)
	doc := &backup.Document{
		Version: backup.FormatVersion,
		UserID:  "u3",
		Data: map[string][]json.RawMessage{
			persistence.Expenses: {json.RawMessage(`{"id":"e1","userId":"u3","date":"2025-01-15","title":"coffee","amount":3,"type":"expense"}`)},
		},
	}
	effective, err := e.codec.ImportUser(context.Background(), doc, "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if effective != "u3" {
		t.Fatalf("effective = %q", effective)
	}
	recs, _ := e.store.GetAllByUser(context.Background(), persistence.Expenses, "u3")
	if len(recs) != 1 {
		t.Fatalf("expected 1 expense, got %d", len(recs))
	}
}

func TestImport_RollsBackOnFailure(t *testing.T) {
	e := newEnv(t, nil)
	doc := &backup.Document{
		Version: backup.FormatVersion,
		Data: map[string][]json.RawMessage{
			persistence.Tasks: {
				json.RawMessage(`{"id":"ok","date":"2025-01-15","title":"fine","status":"todo"}`),
				json.RawMessage(`{"date":"2025-01-15","title":"no id"}`),
			},
		},
	}
	if _, err := e.codec.Import(context.Background(), doc); err == nil {
		t.Fatal("expected import failure")
	}
	recs, err := e.store.All(context.Background(), persistence.Tasks)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected rollback, found %d tasks", len(recs))
	}
}

func TestImport_SkipsUnknownPartitions(t *testing.T) {
	e := newEnv(t, nil)
	doc := &backup.Document{
		Version: backup.FormatVersion,
		Data: map[string][]json.RawMessage{
			"stickers":        {json.RawMessage(`{"id":"s1"}`)},
			persistence.Tasks: {json.RawMessage(`{"id":"t1","date":"2025-01-15","title":"t","status":"todo"}`)},
		},
	}
	n, err := e.codec.Import(context.Background(), doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 1 {
		t.Fatalf("imported %d, want 1", n)
	}
}

func TestDecode_RejectsInvalidDocuments(t *testing.T) {
	e := newEnv(t, nil)
	for name, body := range map[string]string{
		"not json":        `{"version":`,
		"missing version": `{"data":{}}`,
		"missing data":    `{"version":"1.0"}`,
		"data not object": `{"version":"1.0","data":[]}`,
		"record no id":    `{"version":"1.0","data":{"tasks":[{"title":"x"}]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.codec.Decode(strings.NewReader(body))
			if !errors.Is(err, backup.ErrInvalidBackupFormat) {
				t.Fatalf("expected ErrInvalidBackupFormat, got %v", err)
			}
		})
	}
}

func TestDecode_AcceptsMinimalDocument(t *testing.T) {
	e := newEnv(t, nil)
	doc, err := e.codec.Decode(strings.NewReader(`{"version":"1.0","data":{"tasks":[]}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Count() != 0 {
		t.Fatalf("count = %d", doc.Count())
	}
}

func TestWriteFile_PrivatePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	doc := &backup.Document{Version: backup.FormatVersion, Data: map[string][]json.RawMessage{}}
	if err := backup.WriteFile(path, doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}
