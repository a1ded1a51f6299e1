// Package backup exports the store to a self-describing JSON document and
// restores it, optionally remapping the owning user.
package backup

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/bus"
	"github.com/basket/bujo/internal/otel"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/shared"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FormatVersion is written into every exported document.
const FormatVersion = "1.0"

var ErrInvalidBackupFormat = errors.New("invalid backup format")

//go:embed schema.json
var envelopeSchema []byte

// Document is the backup envelope. Data maps partition names to the stored
// documents, verbatim.
type Document struct {
	Version    string                       `json:"version"`
	ExportDate string                       `json:"exportDate"`
	UserID     string                       `json:"userId,omitempty"`
	Data       map[string][]json.RawMessage `json:"data"`
}

// Count returns the number of records across partitions.
func (d *Document) Count() int {
	n := 0
	for _, recs := range d.Data {
		n += len(recs)
	}
	return n
}

type Codec struct {
	store  *persistence.Store
	bus    *bus.Bus
	logger *slog.Logger
	tel    otel.Telemetry
	schema *jsonschema.Schema
	now    func() time.Time
}

func New(store *persistence.Store, eventBus *bus.Bus, logger *slog.Logger, tel otel.Telemetry) (*Codec, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Codec{
		store:  store,
		bus:    eventBus,
		logger: logger,
		tel:    tel.OrNoop(),
		schema: schema,
		now:    time.Now,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal backup schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("backup.json", doc); err != nil {
		return nil, fmt.Errorf("add backup schema: %w", err)
	}
	schema, err := c.Compile("backup.json")
	if err != nil {
		return nil, fmt.Errorf("compile backup schema: %w", err)
	}
	return schema, nil
}

func (c *Codec) envelope(userID string) *Document {
	return &Document{
		Version:    FormatVersion,
		ExportDate: c.now().UTC().Format(time.RFC3339),
		UserID:     userID,
		Data:       make(map[string][]json.RawMessage, len(persistence.Partitions)),
	}
}

// ExportAll captures every partition.
func (c *Codec) ExportAll(ctx context.Context) (*Document, error) {
	doc := c.envelope("")
	for _, p := range persistence.Partitions {
		recs, err := c.store.All(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", p, err)
		}
		doc.Data[p] = docs(recs)
	}
	audit.Record("backup.export", audit.OutcomeOK, "", fmt.Sprintf("%d records", doc.Count()))
	return doc, nil
}

// ExportUser captures one user's records and profile.
func (c *Codec) ExportUser(ctx context.Context, userID string) (*Document, error) {
	userID = shared.NormalizeUserID(userID)
	doc := c.envelope(userID)
	for _, p := range persistence.Partitions {
		// The users partition indexes profiles by their own id, so this
		// picks up the user's profile.
		recs, err := c.store.GetAllByUser(ctx, p, userID)
		if err != nil {
			return nil, fmt.Errorf("export %s for %s: %w", p, userID, err)
		}
		doc.Data[p] = docs(recs)
	}
	audit.Record("backup.export", audit.OutcomeOK, userID, fmt.Sprintf("%d records", doc.Count()))
	return doc, nil
}

func docs(recs []persistence.Record) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Doc)
	}
	return out
}

// Decode parses and validates a backup document.
func (c *Codec) Decode(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackupFormat, err)
	}
	if err := c.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackupFormat, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackupFormat, err)
	}
	return &doc, nil
}

// Import restores every record verbatim in one transaction. Existing
// records with the same id are overwritten.
func (c *Codec) Import(ctx context.Context, doc *Document) (int, error) {
	n, err := c.restore(ctx, doc, "", "")
	if err != nil {
		return 0, err
	}
	c.imported(ctx, "", n)
	return n, nil
}

// ImportUser restores a user-scoped document. When the document names a
// user and targetUserID differs, every record is rewritten to the target.
// Returns the effective user id.
func (c *Codec) ImportUser(ctx context.Context, doc *Document, targetUserID string) (string, error) {
	effective := targetUserID
	if effective == "" {
		effective = doc.UserID
	}
	effective = shared.NormalizeUserID(effective)

	from := ""
	if doc.UserID != "" && doc.UserID != effective {
		from = doc.UserID
	}
	n, err := c.restore(ctx, doc, from, effective)
	if err != nil {
		return "", err
	}
	c.imported(ctx, effective, n)
	return effective, nil
}

func (c *Codec) imported(ctx context.Context, userID string, n int) {
	c.tel.Metrics.RecordsImported.Add(ctx, int64(n))
	audit.Record("backup.import", audit.OutcomeOK, userID, fmt.Sprintf("%d records", n))
	if c.bus != nil {
		c.bus.Publish(bus.TopicBackupImported, bus.BackupImportedEvent{UserID: userID, Records: n})
	}
}

// restore upserts the document inside one transaction, remapping ownership
// to "to" when "from" is set.
func (c *Codec) restore(ctx context.Context, doc *Document, from, to string) (int, error) {
	if doc == nil || doc.Version == "" || doc.Data == nil {
		return 0, ErrInvalidBackupFormat
	}
	ctx, span := otel.StartSpan(ctx, c.tel.Tracer, "backup.import", otel.AttrUserID.String(to))
	defer span.End()

	var n int
	err := c.store.WithTx(ctx, func(tx *persistence.Tx) error {
		for partition, items := range doc.Data {
			if !persistence.IsPartition(partition) {
				c.logger.Warn("skipping unknown backup partition", "partition", partition, "records", len(items))
				continue
			}
			for _, item := range items {
				if from != "" {
					var err error
					if item, err = remap(partition, item, to); err != nil {
						return err
					}
				}
				rec, err := persistence.NewRecord(partition, item)
				if err != nil {
					return err
				}
				if err := tx.Put(ctx, partition, rec); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	if err != nil {
		otel.Fail(span, err)
		audit.Record("backup.import", audit.OutcomeFailed, to, err.Error())
		return 0, fmt.Errorf("import backup: %w", err)
	}
	return n, nil
}

// remap rewrites the owner of one document. Profiles are keyed by the user
// id, so their id changes too.
func remap(partition string, item json.RawMessage, to string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s record: %v", ErrInvalidBackupFormat, partition, err)
	}
	owner, _ := json.Marshal(to)
	if partition == persistence.Users {
		fields["id"] = owner
	} else {
		fields["userId"] = owner
	}
	return json.Marshal(fields)
}

// WriteFile writes doc to path atomically.
func WriteFile(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bujo-backup-*.json")
	if err != nil {
		return fmt.Errorf("create temp backup: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}

// ReadFile opens and decodes a backup document.
func (c *Codec) ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	return c.Decode(f)
}
