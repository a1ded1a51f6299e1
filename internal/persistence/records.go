package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/bujo/internal/bus"
	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/shared"
)

// Record is one stored document plus the index columns derived from it.
type Record struct {
	ID        string
	UserID    string
	Date      string
	Year      int
	Period    string
	UpdatedAt time.Time
	Doc       json.RawMessage
}

type docProbe struct {
	ID        string         `json:"id"`
	UserID    *string        `json:"userId"`
	Date      string         `json:"date"`
	Year      int            `json:"year"`
	Type      model.GoalType `json:"type"`
	Quarter   int            `json:"quarter"`
	Month     int            `json:"month"`
	Week      int            `json:"week"`
	SessionID string         `json:"sessionId"`
	UpdatedAt string         `json:"updatedAt"`
}

// NewRecord derives the index columns of a document for the given partition.
// Documents without a userId are owned by the default user; the field is
// written into the document so index and document never disagree.
func NewRecord(partition string, doc []byte) (Record, error) {
	if !IsPartition(partition) {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownPartition, partition)
	}
	var probe docProbe
	if err := json.Unmarshal(doc, &probe); err != nil {
		return Record{}, fmt.Errorf("%w: decode %s document: %w", ErrWriteError, partition, err)
	}
	if probe.ID == "" {
		return Record{}, fmt.Errorf("%w: %s document has no id", ErrWriteError, partition)
	}

	rec := Record{ID: probe.ID, Date: probe.Date, Doc: json.RawMessage(doc)}
	if ts, err := time.Parse(time.RFC3339Nano, probe.UpdatedAt); err == nil {
		rec.UpdatedAt = ts.UTC()
	}

	switch partition {
	case Users:
		rec.UserID = probe.ID
		return rec, nil
	case Goals:
		rec.Year = probe.Year
		rec.Period = model.GoalPeriodKey(probe.Type, probe.Quarter, probe.Month, probe.Week)
	case AIMessages:
		rec.Period = probe.SessionID
	}

	if probe.UserID != nil && *probe.UserID != "" {
		rec.UserID = *probe.UserID
		return rec, nil
	}
	rec.UserID = shared.DefaultUserID
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return Record{}, fmt.Errorf("%w: decode %s document: %w", ErrWriteError, partition, err)
	}
	fields["userId"] = json.RawMessage(`"` + shared.DefaultUserID + `"`)
	patched, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode %s document: %w", ErrWriteError, partition, err)
	}
	rec.Doc = patched
	return rec, nil
}

// MarshalRecord encodes v and derives its index columns.
func MarshalRecord(partition string, v any) (Record, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode %s: %w", ErrWriteError, partition, err)
	}
	return NewRecord(partition, doc)
}

// Decode unmarshals the record's document into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Doc, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrReadError, r.ID, err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectColumns = `id, user_id, date, year, period, updated_at, doc`

func checkPartition(partition string) error {
	if !IsPartition(partition) {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, partition)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// putRecord upserts by id. The row keeps its seq so insertion order survives
// updates.
func putRecord(ctx context.Context, q querier, partition string, rec Record) error {
	if err := checkPartition(partition); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: %s record has no id", ErrWriteError, partition)
	}
	if !json.Valid(rec.Doc) {
		return fmt.Errorf("%w: %s/%s document is not valid JSON", ErrWriteError, partition, rec.ID)
	}
	if rec.UserID == "" {
		rec.UserID = shared.DefaultUserID
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, date, year, period, doc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id,
			date=excluded.date,
			year=excluded.year,
			period=excluded.period,
			doc=excluded.doc,
			updated_at=excluded.updated_at;
	`, partition), rec.ID, rec.UserID, rec.Date, rec.Year, rec.Period, string(rec.Doc), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %w", ErrWriteError, partition, rec.ID, err)
	}
	return nil
}

func scanRecord(scanFn func(dest ...any) error) (Record, error) {
	var (
		rec       Record
		updatedAt string
		doc       string
	)
	if err := scanFn(&rec.ID, &rec.UserID, &rec.Date, &rec.Year, &rec.Period, &updatedAt, &doc); err != nil {
		return Record{}, err
	}
	if updatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			rec.UpdatedAt = ts
		}
	}
	rec.Doc = json.RawMessage(doc)
	return rec, nil
}

func getRecord(ctx context.Context, q querier, partition, id string) (Record, bool, error) {
	if err := checkPartition(partition); err != nil {
		return Record{}, false, err
	}
	row := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?;`, selectColumns, partition), id)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: get %s/%s: %w", ErrReadError, partition, id, err)
	}
	return rec, true, nil
}

func queryRecords(ctx context.Context, q querier, partition, where string, args ...any) ([]Record, error) {
	if err := checkPartition(partition); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, selectColumns, partition)
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY seq;`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrReadError, partition, err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s: %w", ErrReadError, partition, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s rows: %w", ErrReadError, partition, err)
	}
	return out, nil
}

func deleteRecord(ctx context.Context, q querier, partition, id string) (bool, error) {
	if err := checkPartition(partition); err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?;`, partition), id)
	if err != nil {
		return false, fmt.Errorf("%w: delete %s/%s: %w", ErrWriteError, partition, id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Put upserts rec into partition.
func (s *Store) Put(ctx context.Context, partition string, rec Record) error {
	err := writeBackoff.do(ctx, func() error {
		return putRecord(ctx, s.db, partition, rec)
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicRecordPut, bus.RecordEvent{Partition: partition, ID: rec.ID, UserID: rec.UserID})
	return nil
}

// Get returns the record with id, reporting false when absent.
func (s *Store) Get(ctx context.Context, partition, id string) (Record, bool, error) {
	return getRecord(ctx, s.db, partition, id)
}

// GetAllByUser returns the user's records in insertion order.
func (s *Store) GetAllByUser(ctx context.Context, partition, userID string) ([]Record, error) {
	return queryRecords(ctx, s.db, partition, `user_id = ?`, userID)
}

// GetAllByUserDate returns the user's records for one day in insertion order.
func (s *Store) GetAllByUserDate(ctx context.Context, partition, userID, date string) ([]Record, error) {
	return queryRecords(ctx, s.db, partition, `user_id = ? AND date = ?`, userID, date)
}

// GetAllByPeriod returns the user's records for a (year, period) pair. For
// AI messages the period column holds the session id and year is ignored.
func (s *Store) GetAllByPeriod(ctx context.Context, partition, userID string, year int, period string) ([]Record, error) {
	if partition == AIMessages {
		return queryRecords(ctx, s.db, partition, `user_id = ? AND period = ?`, userID, period)
	}
	return queryRecords(ctx, s.db, partition, `user_id = ? AND year = ? AND period = ?`, userID, year, period)
}

// All returns every record of a partition regardless of owner.
func (s *Store) All(ctx context.Context, partition string) ([]Record, error) {
	return queryRecords(ctx, s.db, partition, "")
}

// Delete removes a record. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, partition, id string) error {
	var removed bool
	err := writeBackoff.do(ctx, func() error {
		var err error
		removed, err = deleteRecord(ctx, s.db, partition, id)
		return err
	})
	if err != nil {
		return err
	}
	if removed {
		s.publish(bus.TopicRecordDeleted, bus.RecordEvent{Partition: partition, ID: id})
	}
	return nil
}

// Tx is a store transaction. Events are published only after commit.
type Tx struct {
	tx      *sql.Tx
	pending []bus.Event
}

// WithTx runs fn in one SQLite transaction. Any error from fn rolls back
// every write made through the Tx. The store holds a single connection, so fn
// must go through the Tx and never call Store methods.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	var t *Tx
	err := writeBackoff.do(ctx, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin tx: %w", ErrWriteError, err)
		}
		t = &Tx{tx: sqlTx}
		return nil
	})
	if err != nil {
		return err
	}
	defer func() { _ = t.tx.Rollback() }()

	if err := fn(t); err != nil {
		return err
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %w", ErrWriteError, err)
	}
	for _, ev := range t.pending {
		s.publish(ev.Topic, ev.Payload)
	}
	return nil
}

func (t *Tx) Put(ctx context.Context, partition string, rec Record) error {
	if err := putRecord(ctx, t.tx, partition, rec); err != nil {
		return err
	}
	t.pending = append(t.pending, bus.Event{
		Topic:   bus.TopicRecordPut,
		Payload: bus.RecordEvent{Partition: partition, ID: rec.ID, UserID: rec.UserID},
	})
	return nil
}

func (t *Tx) Get(ctx context.Context, partition, id string) (Record, bool, error) {
	return getRecord(ctx, t.tx, partition, id)
}

func (t *Tx) GetAllByUser(ctx context.Context, partition, userID string) ([]Record, error) {
	return queryRecords(ctx, t.tx, partition, `user_id = ?`, userID)
}

func (t *Tx) All(ctx context.Context, partition string) ([]Record, error) {
	return queryRecords(ctx, t.tx, partition, "")
}

func (t *Tx) Delete(ctx context.Context, partition, id string) error {
	removed, err := deleteRecord(ctx, t.tx, partition, id)
	if err != nil {
		return err
	}
	if removed {
		t.pending = append(t.pending, bus.Event{
			Topic:   bus.TopicRecordDeleted,
			Payload: bus.RecordEvent{Partition: partition, ID: id},
		})
	}
	return nil
}

// RekeyUser moves every non-profile record owned by from to to, rewriting
// the index column and the document's userId together. Returns the number of
// moved records per partition.
func (t *Tx) RekeyUser(ctx context.Context, from, to string, at time.Time) (map[string]int, error) {
	moved := make(map[string]int)
	stamp := formatTime(at)
	for _, p := range Partitions {
		if p == Users {
			continue
		}
		res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET user_id = ?,
				doc = json_set(doc, '$.userId', ?, '$.updatedAt', ?),
				updated_at = ?
			WHERE user_id = ?;
		`, p), to, to, stamp, stamp, from)
		if err != nil {
			return nil, fmt.Errorf("%w: rekey %s: %w", ErrWriteError, p, err)
		}
		n, _ := res.RowsAffected()
		moved[p] = int(n)
	}
	return moved, nil
}

// MoveProfile renames the profile from to to when to has none. When to
// already has a profile the from profile is removed so nothing stays owned by
// from. Reports whether the profile was moved.
func (t *Tx) MoveProfile(ctx context.Context, from, to string, at time.Time) (bool, error) {
	_, exists, err := getRecord(ctx, t.tx, Users, to)
	if err != nil {
		return false, err
	}
	if exists {
		if _, err := deleteRecord(ctx, t.tx, Users, from); err != nil {
			return false, err
		}
		return false, nil
	}
	stamp := formatTime(at)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE users
		SET id = ?, user_id = ?,
			doc = json_set(doc, '$.id', ?, '$.updatedAt', ?),
			updated_at = ?
		WHERE id = ?;
	`, to, to, to, stamp, stamp, from)
	if err != nil {
		return false, fmt.Errorf("%w: move profile: %w", ErrWriteError, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
