//go:build ignore

// import_sigkill verifies that a backup import is all-or-nothing. It builds
// the bujo binary, writes a large backup document, starts `bujo import`,
// SIGKILLs it at increasing delays and checks after each kill that:
//   - The database is not corrupted (integrity_check is ok)
//   - The tasks partition holds either none or all of the document's tasks
//
// Usage:
//
//	go run ./tools/verify/import_sigkill/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/basket/bujo/internal/backup"
	"github.com/basket/bujo/internal/persistence"
)

const docTasks = 20000

var killDelays = []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 400 * time.Millisecond, 1 * time.Second}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS (import_sigkill)")
}

func run() error {
	ctx := context.Background()

	// 1. Build the bujo binary.
	root := moduleRoot()
	binDir, err := os.MkdirTemp("", "import-sigkill-bin-*")
	if err != nil {
		return fmt.Errorf("mktemp bin: %w", err)
	}
	defer os.RemoveAll(binDir)
	binPath := filepath.Join(binDir, "bujo")

	fmt.Println("BUILD bujo binary...")
	build := exec.Command("go", "build", "-o", binPath, "./cmd/bujo")
	build.Dir = root
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		return fmt.Errorf("build binary: %w", err)
	}

	// 2. Write the backup document.
	work, err := os.MkdirTemp("", "import-sigkill-work-*")
	if err != nil {
		return fmt.Errorf("mktemp work: %w", err)
	}
	defer os.RemoveAll(work)
	docPath := filepath.Join(work, "backup.json")
	if err := backup.WriteFile(docPath, bigDocument()); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Printf("WROTE %s (%d tasks)\n", docPath, docTasks)

	for round, delay := range killDelays {
		home := filepath.Join(work, fmt.Sprintf("home-%d", round))
		if err := os.MkdirAll(home, 0o755); err != nil {
			return fmt.Errorf("mkdir home: %w", err)
		}
		if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("log_level: warn\n"), 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		// 3. Start the import and kill it after delay.
		cmd := exec.Command(binPath, "import", "-in", docPath, "-full")
		cmd.Env = append(os.Environ(), "BUJO_HOME="+home)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start import: %w", err)
		}
		time.Sleep(delay)
		killed := cmd.Process.Signal(syscall.SIGKILL) == nil
		waitErr := cmd.Wait()
		fmt.Printf("ROUND %d delay=%s killed=%v exit=%v\n", round, delay, killed, waitErr)

		// 4. Verify integrity and atomicity.
		n, err := verifyHome(ctx, home)
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		fmt.Printf("ROUND %d tasks=%d\n", round, n)
	}

	fmt.Println("ALL CHECKS PASSED")
	return nil
}

func bigDocument() *backup.Document {
	doc := &backup.Document{
		Version:    backup.FormatVersion,
		ExportDate: time.Now().UTC().Format(time.RFC3339),
		Data:       map[string][]json.RawMessage{},
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i := 0; i < docTasks; i++ {
		raw := fmt.Sprintf(`{"id":%q,"userId":"chaos","title":"chaos-task-%d","status":"todo","date":"2025-01-15","spentTime":0,"timeLogs":[],"copyToNextDay":false,"createdAt":%q,"updatedAt":%q}`,
			uuid.NewString(), i, now, now)
		doc.Data[persistence.Tasks] = append(doc.Data[persistence.Tasks], json.RawMessage(raw))
	}
	return doc
}

func verifyHome(ctx context.Context, home string) (int, error) {
	dbPath := filepath.Join(home, "bujo.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		// Killed before the store was created.
		return 0, nil
	}
	store, err := persistence.Open(dbPath, nil)
	if err != nil {
		return 0, fmt.Errorf("reopen store after kill: %w", err)
	}
	defer store.Close()

	var integrityResult string
	if err := store.DB().QueryRowContext(ctx, "PRAGMA integrity_check;").Scan(&integrityResult); err != nil {
		return 0, fmt.Errorf("integrity check: %w", err)
	}
	if integrityResult != "ok" {
		return 0, fmt.Errorf("DB integrity check failed: %s", integrityResult)
	}

	counts, err := store.PartitionCounts(ctx, "chaos")
	if err != nil {
		return 0, err
	}
	n := counts[persistence.Tasks]
	if n != 0 && n != docTasks {
		return n, fmt.Errorf("partial import: %d of %d tasks present", n, docTasks)
	}
	return n, nil
}

func moduleRoot() string {
	out, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "go env GOMOD: %v\n", err)
		os.Exit(1)
	}
	gomod := strings.TrimSpace(string(out))
	if gomod == "" || gomod == os.DevNull {
		fmt.Fprintln(os.Stderr, "go env GOMOD returned empty; expected path to go.mod")
		os.Exit(1)
	}
	return filepath.Dir(gomod)
}
