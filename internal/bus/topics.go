package bus

// Store and data-operation topics. Subscribers usually filter by the
// "record." or "sync." prefix.
const (
	TopicRecordPut          = "record.put"
	TopicRecordDeleted      = "record.deleted"
	TopicMigrationCompleted = "migration.completed"
	TopicBackupImported     = "backup.imported"
	TopicSyncCompleted      = "sync.completed"
	TopicKeyRateLimited     = "keys.rate_limited"
)

// RecordEvent is published after a record is written or removed.
type RecordEvent struct {
	Partition string
	ID        string
	UserID    string
}

// MigrationEvent is published after default-scoped records move to a user.
type MigrationEvent struct {
	TargetUserID string
	Moved        map[string]int
}

// BackupImportedEvent is published after a backup document is restored.
type BackupImportedEvent struct {
	UserID  string // effective user for scoped imports, "" for full restores
	Records int
}

// SyncCompletedEvent is published at the end of every sync attempt.
type SyncCompletedEvent struct {
	UserID    string
	Success   bool
	Applied   int
	Conflicts int
	Message   string
}

// KeyRateLimitedEvent is published when a provider credential enters cooldown.
type KeyRateLimitedEvent struct {
	Provider string
	Index    int
	Seconds  int
}
