package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	snapshotPrefix = "bujo-"
	snapshotSuffix = ".db"
	snapshotLayout = "20060102-150405.000000000"

	DefaultSnapshotKeep = 7
)

// SnapshotInfo describes one database snapshot file.
type SnapshotInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot writes an online-consistent copy of the database into dir with
// VACUUM INTO and prunes all but the newest keep snapshots.
func (s *Store) Snapshot(ctx context.Context, dir string, keep int) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("snapshot directory required")
	}
	if keep <= 0 {
		keep = DefaultSnapshotKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	dest := filepath.Join(dir, snapshotPrefix+time.Now().UTC().Format(snapshotLayout)+snapshotSuffix)
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("snapshot destination already exists: %s", dest)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?;`, dest); err != nil {
		return "", fmt.Errorf("snapshot (VACUUM INTO): %w", err)
	}

	snaps, err := ListSnapshots(dir)
	if err != nil {
		return dest, err
	}
	for _, old := range snaps[min(keep, len(snaps)):] {
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			return dest, fmt.Errorf("prune snapshot %s: %w", old.Path, err)
		}
	}
	return dest, nil
}

// ListSnapshots returns the snapshots in dir, newest first. A missing
// directory has no snapshots.
func ListSnapshots(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var out []SnapshotInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
		created, err := time.Parse(snapshotLayout, stamp)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{Path: filepath.Join(dir, name), Size: info.Size(), CreatedAt: created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// VerifySnapshot opens a snapshot read-only and runs PRAGMA integrity_check.
func VerifySnapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check;`).Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	var version int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&version); err != nil {
		return fmt.Errorf("snapshot has no schema ledger: %w", err)
	}
	if version == 0 {
		return fmt.Errorf("snapshot schema ledger is empty")
	}
	return nil
}
