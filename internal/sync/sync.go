// Package sync reconciles the local store with the remote sync server:
// upload everything the user owns, download the server copy and merge it
// last-write-wins on updatedAt.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/bus"
	"github.com/basket/bujo/internal/otel"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/shared"
)

// DefaultBatchSize caps the number of documents per upload request.
const DefaultBatchSize = 1000

var (
	ErrSyncDenied = errors.New("sync denied")
	ErrSyncFailed = errors.New("sync failed")
)

const (
	ReasonOffline          = "device is offline"
	ReasonNotAuthenticated = "not authenticated"
	ReasonInProgress       = "sync already in progress"
)

// Partitions exchanged with the server. Profiles and AI conversations stay
// local.
var Partitions = []string{
	persistence.Tasks,
	persistence.Expenses,
	persistence.Journals,
	persistence.Goals,
	persistence.CalendarNotes,
	persistence.Sleep,
	persistence.Mood,
}

// Decision is the outcome of the pre-sync gate.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil when allowed, otherwise an error wrapping ErrSyncDenied.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSyncDenied, d.Reason)
}

// CanSync checks connectivity first, then authentication.
func CanSync(isOnline, isAuthenticated bool) Decision {
	if !isOnline {
		return Decision{Reason: ReasonOffline}
	}
	if !isAuthenticated {
		return Decision{Reason: ReasonNotAuthenticated}
	}
	return Decision{Allowed: true}
}

// Result reports one sync run. Failures never surface as Go errors.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Applied   int    `json:"applied"`
	Conflicts int    `json:"conflicts"`
	Uploaded  int    `json:"uploaded"`
	Ignored   int    `json:"ignored"`
}

// Status is the last successful sync for a user. At is the local time the
// run finished. Cursor is the newest server updatedAt seen so far and is the
// since value of the next download; it never comes from the local clock.
type Status struct {
	At     time.Time `json:"at"`
	Cursor time.Time `json:"cursor,omitempty"`
	Result Result    `json:"result"`
}

type Client struct {
	store     *persistence.Store
	transport Transport
	bus       *bus.Bus
	tel       otel.Telemetry
	logger    *slog.Logger

	batchSize int
	online    func(context.Context) bool
	now       func() time.Time

	running atomic.Bool
}

type Option func(*Client)

func WithBus(b *bus.Bus) Option { return func(c *Client) { c.bus = b } }

func WithTelemetry(tel otel.Telemetry) Option {
	return func(c *Client) { c.tel = tel.OrNoop() }
}

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConnectivity installs the online probe consulted by CanSync. The
// default assumes the device is online.
func WithConnectivity(online func(context.Context) bool) Option {
	return func(c *Client) { c.online = online }
}

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient builds a sync client. A nil transport means no credentials are
// configured; every run is then denied as unauthenticated.
func NewClient(store *persistence.Store, transport Transport, opts ...Option) *Client {
	c := &Client{
		store:     store,
		transport: transport,
		tel:       otel.NoopTelemetry(),
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
		online:    func(context.Context) bool { return true },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PerformSync uploads the user's records, downloads the server copy and
// merges it in one transaction. Only one run may be active per client.
func (c *Client) PerformSync(ctx context.Context, userID string) Result {
	userID = shared.NormalizeUserID(userID)

	if d := CanSync(c.online(ctx), c.transport != nil); !d.Allowed {
		return c.finish(ctx, userID, Result{Message: d.Err().Error()}, audit.OutcomeDenied)
	}
	if !c.running.CompareAndSwap(false, true) {
		return Result{Message: ReasonInProgress}
	}
	defer c.running.Store(false)

	ctx, span := otel.StartClientSpan(ctx, c.tel.Tracer, "sync.perform", otel.AttrUserID.String(userID))
	defer span.End()
	start := time.Now()
	defer func() {
		c.tel.Metrics.SyncDuration.Record(ctx, time.Since(start).Seconds())
	}()

	var since time.Time
	if st, ok, err := c.Status(ctx, userID); err == nil && ok {
		since = st.Cursor
	}

	res, cursor, err := c.run(ctx, userID, since)
	if err != nil {
		otel.Fail(span, err)
		res.Message = fmt.Errorf("%w: %w", ErrSyncFailed, err).Error()
		return c.finish(ctx, userID, res, audit.OutcomeFailed)
	}
	span.SetAttributes(otel.AttrApplied.Int(res.Applied), otel.AttrConflicts.Int(res.Conflicts))

	res.Success = true
	res.Message = fmt.Sprintf("synced: %d uploaded, %d applied, %d conflicts", res.Uploaded, res.Applied, res.Conflicts)
	status, _ := json.Marshal(Status{At: c.now().UTC(), Cursor: cursor.UTC(), Result: res})
	if err := c.store.KVSet(ctx, lastSyncKey(userID), string(status)); err != nil {
		c.logger.Warn("sync: record last sync failed", "user_id", userID, "error", err)
	}
	return c.finish(ctx, userID, res, audit.OutcomeOK)
}

// run returns the cursor for the next download: the newest updatedAt in this
// download, or since when the download was empty.
func (c *Client) run(ctx context.Context, userID string, since time.Time) (Result, time.Time, error) {
	var res Result

	uploaded, err := c.upload(ctx, userID)
	res.Uploaded = uploaded
	if err != nil {
		return res, since, err
	}

	down, err := c.transport.Download(ctx, userID, since)
	if err != nil {
		return res, since, fmt.Errorf("download: %w", err)
	}
	cursor := since
	err = c.store.WithTx(ctx, func(tx *persistence.Tx) error {
		newest, err := c.merge(ctx, tx, userID, down, &res)
		if newest.After(cursor) {
			cursor = newest
		}
		return err
	})
	if err != nil {
		return Result{Uploaded: uploaded}, since, fmt.Errorf("merge: %w", err)
	}
	return res, cursor, nil
}

func (c *Client) upload(ctx context.Context, userID string) (int, error) {
	type item struct {
		partition string
		doc       json.RawMessage
	}
	var items []item
	for _, p := range Partitions {
		recs, err := c.store.GetAllByUser(ctx, p, userID)
		if err != nil {
			return 0, fmt.Errorf("collect %s: %w", p, err)
		}
		for _, r := range recs {
			items = append(items, item{partition: p, doc: r.Doc})
		}
	}

	sent := 0
	for start := 0; start < len(items); start += c.batchSize {
		end := min(start+c.batchSize, len(items))
		batch := Batch{UserID: userID, Data: make(map[string][]json.RawMessage)}
		for _, it := range items[start:end] {
			batch.Data[it.partition] = append(batch.Data[it.partition], it.doc)
		}
		if err := c.transport.Upload(ctx, batch); err != nil {
			return sent, fmt.Errorf("upload batch %d: %w", start/c.batchSize+1, err)
		}
		sent += end - start
	}
	return sent, nil
}

// merge applies server documents that are newer than the local copy or
// missing locally. Equal or older server documents count as conflicts
// resolved for the local copy. It returns the newest updatedAt among every
// document it parsed, applied or not.
func (c *Client) merge(ctx context.Context, tx *persistence.Tx, userID string, down Download, res *Result) (time.Time, error) {
	var newest time.Time
	synced := make(map[string]bool, len(Partitions))
	for _, p := range Partitions {
		synced[p] = true
	}
	for partition, docs := range down.Data {
		if !synced[partition] {
			c.logger.Warn("sync: ignoring unsynced partition", "partition", partition, "records", len(docs))
			continue
		}
		for _, doc := range docs {
			rec, err := persistence.NewRecord(partition, doc)
			if err != nil {
				return newest, err
			}
			if rec.UpdatedAt.After(newest) {
				newest = rec.UpdatedAt
			}
			if rec.UserID != userID {
				res.Ignored++
				continue
			}
			local, found, err := tx.Get(ctx, partition, rec.ID)
			if err != nil {
				return newest, err
			}
			if found && local.UserID != userID {
				res.Ignored++
				continue
			}
			if found && !rec.UpdatedAt.After(local.UpdatedAt) {
				res.Conflicts++
				continue
			}
			if err := tx.Put(ctx, partition, rec); err != nil {
				return newest, err
			}
			res.Applied++
		}
	}
	return newest, nil
}

func (c *Client) finish(ctx context.Context, userID string, res Result, outcome string) Result {
	if res.Success {
		c.tel.Metrics.SyncApplied.Add(ctx, int64(res.Applied))
		c.tel.Metrics.SyncConflicts.Add(ctx, int64(res.Conflicts))
		c.logger.Info("sync completed", "user_id", userID,
			"uploaded", res.Uploaded, "applied", res.Applied, "conflicts", res.Conflicts, "ignored", res.Ignored)
	} else {
		c.tel.Metrics.SyncFailures.Add(ctx, 1)
		c.logger.Warn("sync failed", "user_id", userID, "reason", res.Message)
	}
	audit.Record("sync.run", outcome, userID, res.Message)
	if c.bus != nil {
		c.bus.Publish(bus.TopicSyncCompleted, bus.SyncCompletedEvent{
			UserID:    userID,
			Success:   res.Success,
			Applied:   res.Applied,
			Conflicts: res.Conflicts,
			Message:   res.Message,
		})
	}
	return res
}

// Status returns the last successful sync for userID.
func (c *Client) Status(ctx context.Context, userID string) (Status, bool, error) {
	raw, err := c.store.KVGet(ctx, lastSyncKey(shared.NormalizeUserID(userID)))
	if err != nil {
		return Status{}, false, err
	}
	if raw == "" {
		return Status{}, false, nil
	}
	var st Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return Status{}, false, fmt.Errorf("decode sync status: %w", err)
	}
	return st, true, nil
}

func lastSyncKey(userID string) string {
	return "sync:last:" + userID
}
