package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEntries(t *testing.T, home string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var out []map[string]any
	for i, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("migration.run", OutcomeOK, "u1", "tasks=2 expenses=1")
	Record("backup.import", OutcomeFailed, "u2", "invalid backup format")

	entries := readEntries(t, home)
	if len(entries) < 2 {
		t.Fatalf("expected at least two audit entries, got %d", len(entries))
	}
	first := entries[0]
	if first["action"] != "migration.run" {
		t.Fatalf("expected action migration.run, got %#v", first["action"])
	}
	if first["outcome"] != OutcomeOK {
		t.Fatalf("expected ok outcome, got %#v", first["outcome"])
	}
	if first["subject"] != "u1" {
		t.Fatalf("expected subject u1, got %#v", first["subject"])
	}
	if entries[1]["outcome"] != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %#v", entries[1]["outcome"])
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("backup.export", OutcomeOK, "u1", "")
	Record("backup.export", OutcomeOK, "u2", "")

	path := filepath.Join(home, "logs", "audit.jsonl")
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}

	Record("sync.run", OutcomeFailed, "u1", "connection refused")

	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	if info2.Size() <= info1.Size() {
		t.Fatalf("expected file to grow (append-only), size before=%d after=%d", info1.Size(), info2.Size())
	}

	entries := readEntries(t, home)
	if len(entries) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(entries))
	}
	for i, e := range entries {
		if _, ok := e["timestamp"]; !ok {
			t.Fatalf("line %d missing timestamp", i)
		}
		if _, ok := e["action"]; !ok {
			t.Fatalf("line %d missing action", i)
		}
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	before := FailureCount()
	Record("sync.run", OutcomeDenied, "u1", "rejected token: Bearer abcdefghijklmnopqrstuvwxyz")
	if FailureCount() != before+1 {
		t.Fatalf("expected failure count to increase")
	}

	entries := readEntries(t, home)
	last := entries[len(entries)-1]
	if strings.Contains(last["detail"].(string), "abcdefghijklmnop") {
		t.Fatalf("secret leaked into audit detail: %#v", last["detail"])
	}
}
