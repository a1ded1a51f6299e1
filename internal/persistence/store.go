package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// v1: one table per partition, kv_store, audit_log.
	schemaVersionV1  = 1
	schemaChecksumV1 = "bujo-v1-2026-09-28-partitions"

	// v2: adds the (user_id, period) index used by AI message lookups.
	schemaVersionV2  = 2
	schemaChecksumV2 = "bujo-v2-2026-10-06-session-index"

	schemaVersionLatest  = schemaVersionV2
	schemaChecksumLatest = schemaChecksumV2
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrWriteError         = errors.New("store write failed")
	ErrReadError          = errors.New("store read failed")
	ErrUnknownPartition   = errors.New("unknown partition")
)

// Partition names. Each is a table of the same name.
const (
	Tasks         = "tasks"
	Expenses      = "expenses"
	Sleep         = "sleep"
	Mood          = "mood"
	Users         = "users"
	Goals         = "goals"
	CalendarNotes = "calendar_notes"
	Journals      = "journals"
	AISessions    = "ai_sessions"
	AIMessages    = "ai_messages"
)

// Partitions lists every partition in export order.
var Partitions = []string{
	Tasks, Expenses, Sleep, Mood, Users, Goals, CalendarNotes, Journals, AISessions, AIMessages,
}

var datedPartitions = map[string]bool{
	Tasks: true, Expenses: true, Sleep: true, Mood: true, CalendarNotes: true, Journals: true,
}

// IsPartition reports whether name is a known partition.
func IsPartition(name string) bool {
	for _, p := range Partitions {
		if p == name {
			return true
		}
	}
	return false
}

type Store struct {
	db  *sql.DB
	bus *bus.Bus // may be nil in tests
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".bujo", "bujo.db")
}

// Open opens or creates the store at path, applies the schema ledger and
// recreates any partition table that has gone missing.
func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create db directory: %w", ErrStorageUnavailable, err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite3: %w", ErrStorageUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, bus: eventBus}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrStorageUnavailable, path, err)
	}
	if err := store.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.ensurePartitions(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) publish(topic string, payload any) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// partitionDDL returns the table and index statements for one partition.
func partitionDDL(name string) []string {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL DEFAULT 'default',
			date TEXT NOT NULL DEFAULT '',
			year INTEGER NOT NULL DEFAULT 0,
			period TEXT NOT NULL DEFAULT '',
			doc JSON NOT NULL,
			updated_at TEXT NOT NULL DEFAULT ''
		);`, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id, seq);`, name, name),
	}
	if datedPartitions[name] {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_date ON %s(user_id, date);`, name, name))
	}
	switch name {
	case Goals:
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_goals_period ON goals(user_id, year, period);`)
	case AIMessages:
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_ai_messages_session ON ai_messages(user_id, period, seq);`)
	}
	return stmts
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin migration tx: %w", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("%w: create schema_migrations: %w", ErrStorageUnavailable, err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}

	versionChecksums := map[int]string{
		schemaVersionV1: schemaChecksumV1,
		schemaVersionV2: schemaChecksumV2,
	}
	if maxVersion != 0 {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, maxVersion).Scan(&existing); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if want := versionChecksums[maxVersion]; existing != want {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", maxVersion, existing, want)
		}
	}
	if maxVersion == schemaVersionLatest {
		return tx.Commit()
	}

	// Additive only: tables and indexes are created if absent, documents are
	// never rewritten during an upgrade.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			outcome TEXT NOT NULL,
			subject TEXT,
			detail TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, p := range Partitions {
		stmts = append(stmts, partitionDDL(p)...)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	for v := maxVersion + 1; v <= schemaVersionLatest; v++ {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO schema_migrations (version, checksum)
			VALUES (?, ?);
		`, v, versionChecksums[v]); err != nil {
			return fmt.Errorf("insert schema migration ledger: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}

	audit.Record("schema.migrate", audit.OutcomeOK, "",
		fmt.Sprintf("schema migrated from v%d to v%d (checksum %s)", maxVersion, schemaVersionLatest, schemaChecksumLatest))
	return nil
}

// MissingPartitions lists expected partition tables absent from the database.
func (s *Store) MissingPartitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table';`)
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %w", ErrReadError, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan table name: %w", ErrReadError, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: tables rows: %w", ErrReadError, err)
	}

	var missing []string
	for _, p := range Partitions {
		if !present[p] {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// ensurePartitions recreates missing partition tables. A database that lost a
// partition (manual edits, a truncated restore) is repaired on the next open
// instead of failing every later query against that partition.
func (s *Store) ensurePartitions(ctx context.Context) error {
	missing, err := s.MissingPartitions(ctx)
	if err != nil {
		return err
	}
	for _, p := range missing {
		for _, stmt := range partitionDDL(p) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: recreate partition %s: %w", ErrStorageUnavailable, p, err)
			}
		}
		audit.Record("store.partition_recreated", audit.OutcomeOK, p, "missing partition table recreated")
	}
	return nil
}

// SchemaVersion returns the highest applied ledger entry.
func (s *Store) SchemaVersion(ctx context.Context) (int, string, error) {
	var (
		version  int
		checksum string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, checksum FROM schema_migrations ORDER BY version DESC LIMIT 1;
	`).Scan(&version, &checksum)
	if err != nil {
		return 0, "", fmt.Errorf("%w: schema version: %w", ErrReadError, err)
	}
	return version, checksum, nil
}

// LatestSchemaVersion is the schema version this build writes.
func LatestSchemaVersion() int {
	return schemaVersionLatest
}

func (s *Store) KVSet(ctx context.Context, key, val string) error {
	return writeBackoff.do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO kv_store (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP;
		`, key, val)
		if err != nil {
			return fmt.Errorf("%w: kv set: %w", ErrWriteError, err)
		}
		return nil
	})
}

// KVGet retrieves a value from the kv_store. Returns empty string if key not found.
func (s *Store) KVGet(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("%w: kv get: %w", ErrReadError, err)
	}
	return val, nil
}

// PartitionCounts returns the number of records per partition, optionally
// scoped to one user (empty userID counts everything).
func (s *Store) PartitionCounts(ctx context.Context, userID string) (map[string]int, error) {
	out := make(map[string]int, len(Partitions))
	for _, p := range Partitions {
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p)
		var args []any
		if userID != "" {
			q += ` WHERE user_id = ?`
			args = append(args, userID)
		}
		var n int
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("%w: count %s: %w", ErrReadError, p, err)
		}
		out[p] = n
	}
	return out, nil
}
