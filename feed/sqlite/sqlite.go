// Package sqlite provides a SQLite-backed trace archive feed.
//
// Unlike broker feeds, the archive retains every record after dispatch:
// acked rows are marked dispatched rather than deleted, so the same
// database file can later be replayed through a fresh session.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/traceflow/feed"
)

// FeedName is the name used to register this feed.
const FeedName = "sqlite"

const (
	// DefaultPollInterval is the default interval for polling new records.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultLockDuration is how long a fetched record stays invisible to
	// other subscribers before it is considered abandoned.
	DefaultLockDuration = 30 * time.Second
	// maxNackBackoff caps the redelivery delay for repeatedly nacked records.
	maxNackBackoff = 60 * time.Second
)

func init() {
	Register()
}

// Register adds the sqlite feed to the default registry.
func Register() {
	feed.RegisterWithCapabilities(FeedName, Build, feed.SQLiteCapabilities)
}

// Build creates a new SQLite archive feed.
func Build(ctx context.Context, cfg feed.Config, logger watermill.LoggerAdapter) (feed.Feed, error) {
	config := Config{
		FilePath: cfg.GetSQLiteFile(),
	}

	a, err := New(config, logger)
	if err != nil {
		return feed.Feed{}, err
	}

	return feed.Feed{
		Publisher:  a,
		Subscriber: a,
	}, nil
}

// Capabilities returns the capabilities of this feed.
func Capabilities() feed.Capabilities {
	return feed.SQLiteCapabilities
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database (useful for testing).
	FilePath string
	// PollInterval is the interval for polling new records.
	PollInterval time.Duration
	// LockDuration is how long a fetched record stays locked while a
	// subscriber processes it.
	LockDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = "traceflow_archive.db"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockDuration <= 0 {
		c.LockDuration = DefaultLockDuration
	}
	return c
}

// Archive implements both Publisher and Subscriber backed by a SQLite file.
type Archive struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
	wg         sync.WaitGroup
}

var (
	_ feed.Replayer             = (*Archive)(nil)
	_ feed.CapabilitiesProvider = (*Archive)(nil)
	_ feed.QueueIntrospector    = (*Archive)(nil)
)

// New creates a new SQLite-backed archive.
func New(cfg Config, logger watermill.LoggerAdapter) (*Archive, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Archive{
		db:         db,
		config:     cfg,
		logger:     logger,
		closedChan: make(chan struct{}),
	}

	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return a, nil
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		locked_until TIMESTAMP,
		retry_count INTEGER DEFAULT 0,
		status TEXT DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_records_topic_status ON records(topic, status, id);
	CREATE INDEX IF NOT EXISTS idx_records_uuid ON records(uuid);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Publish appends records to the archive for the specified topic.
func (a *Archive) Publish(topic string, messages ...*message.Message) error {
	a.closedMu.RLock()
	if a.closed {
		a.closedMu.RUnlock()
		return fmt.Errorf("feed is closed")
	}
	a.closedMu.RUnlock()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			if a.logger != nil {
				a.logger.Error("failed to rollback transaction", err, nil)
			}
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO records (uuid, topic, payload, metadata)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		if _, err := stmt.Exec(msg.UUID, topic, msg.Payload, string(metadata)); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Subscribe delivers pending records for the topic in insert order.
// Delivery waits for each record's ack or nack before fetching the next,
// so a single subscriber observes the order records were published in.
func (a *Archive) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	a.closedMu.RLock()
	if a.closed {
		a.closedMu.RUnlock()
		return nil, fmt.Errorf("feed is closed")
	}
	a.closedMu.RUnlock()

	msgChan := make(chan *message.Message)

	a.wg.Add(1)
	go a.pollRecords(ctx, topic, msgChan)

	return msgChan, nil
}

func (a *Archive) pollRecords(ctx context.Context, topic string, msgChan chan *message.Message) {
	defer a.wg.Done()
	defer close(msgChan)

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closedChan:
			return
		case <-ticker.C:
			a.processPendingRecords(ctx, topic, msgChan)
		}
	}
}

type fetchedRecord struct {
	id       int64
	uuid     string
	payload  []byte
	metadata string
}

func (a *Archive) fetchAndLockRecord(ctx context.Context, topic string) (*fetchedRecord, bool) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		if a.logger != nil {
			a.logger.Error("failed to begin transaction", err, nil)
		}
		return nil, false
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			if a.logger != nil {
				a.logger.Error("failed to rollback transaction", err, nil)
			}
		}
	}()

	now := time.Now().UTC()
	lockUntil := now.Add(a.config.LockDuration)

	row := tx.QueryRowContext(ctx, `
		SELECT id, uuid, payload, metadata
		FROM records
		WHERE topic = ?
		AND status = 'pending'
		AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY id ASC
		LIMIT 1
	`, topic, now)

	var fr fetchedRecord
	if err := row.Scan(&fr.id, &fr.uuid, &fr.payload, &fr.metadata); err != nil {
		if err != sql.ErrNoRows && a.logger != nil {
			a.logger.Error("failed to scan record", err, nil)
		}
		return nil, false
	}

	if _, err = tx.ExecContext(ctx, `UPDATE records SET locked_until = ? WHERE id = ?`, lockUntil, fr.id); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to lock record", err, nil)
		}
		return nil, false
	}

	if err := tx.Commit(); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to commit lock", err, nil)
		}
		return nil, false
	}

	return &fr, true
}

func (a *Archive) processPendingRecords(ctx context.Context, topic string, msgChan chan *message.Message) {
	fr, found := a.fetchAndLockRecord(ctx, topic)
	if !found {
		return
	}

	msg := a.recordToMessage(fr)

	select {
	case msgChan <- msg:
		a.handleRecordResult(ctx, fr.id, msg)
	case <-ctx.Done():
		a.unlockRecord(fr.id)
	case <-a.closedChan:
		a.unlockRecord(fr.id)
	}
}

func (a *Archive) recordToMessage(fr *fetchedRecord) *message.Message {
	metadata := make(message.Metadata)
	if fr.metadata != "" {
		if err := json.Unmarshal([]byte(fr.metadata), &metadata); err != nil && a.logger != nil {
			a.logger.Error("failed to unmarshal metadata", err, nil)
		}
	}

	msg := message.NewMessage(fr.uuid, fr.payload)
	msg.Metadata = metadata
	return msg
}

func (a *Archive) handleRecordResult(ctx context.Context, id int64, msg *message.Message) {
	select {
	case <-msg.Acked():
		a.ackRecord(id)
	case <-msg.Nacked():
		a.nackRecord(id)
	case <-ctx.Done():
		a.unlockRecord(id)
	case <-a.closedChan:
		a.unlockRecord(id)
	}
}

// ackRecord marks the record dispatched. The row is kept for replay.
func (a *Archive) ackRecord(id int64) {
	_, err := a.db.Exec(`UPDATE records SET status = 'dispatched', locked_until = NULL WHERE id = ?`, id)
	if err != nil && a.logger != nil {
		a.logger.Error("failed to ack record", err, nil)
	}
}

// nackRecord makes the record available again after a backoff that grows
// with each attempt. Later records may dispatch ahead of it while it
// waits, but it is never dropped.
func (a *Archive) nackRecord(id int64) {
	var retryCount int
	if err := a.db.QueryRow(`SELECT retry_count FROM records WHERE id = ?`, id).Scan(&retryCount); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to get retry count", err, nil)
		}
		return
	}

	backoff := time.Duration(retryCount+1) * time.Second
	if backoff > maxNackBackoff {
		backoff = maxNackBackoff
	}
	lockedUntil := time.Now().UTC().Add(backoff)

	_, err := a.db.Exec(`
		UPDATE records
		SET retry_count = retry_count + 1,
		    locked_until = ?
		WHERE id = ?
	`, lockedUntil, id)
	if err != nil && a.logger != nil {
		a.logger.Error("failed to nack record", err, nil)
	}
}

func (a *Archive) unlockRecord(id int64) {
	_, err := a.db.Exec(`UPDATE records SET locked_until = NULL WHERE id = ?`, id)
	if err != nil && a.logger != nil {
		a.logger.Error("failed to unlock record", err, nil)
	}
}

// Replay streams every archived record for the topic in insert order,
// dispatched rows included, then closes the channel. Replayed messages
// do not change archive state.
func (a *Archive) Replay(ctx context.Context, topic string) (<-chan *message.Message, error) {
	a.closedMu.RLock()
	if a.closed {
		a.closedMu.RUnlock()
		return nil, fmt.Errorf("feed is closed")
	}
	a.closedMu.RUnlock()

	// Read everything up front so the connection (capped at one) is free
	// again before delivery starts; a slow consumer must not block writers.
	records, err := a.loadArchivedRecords(ctx, topic)
	if err != nil {
		return nil, err
	}

	msgChan := make(chan *message.Message)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(msgChan)

		for i := range records {
			select {
			case msgChan <- a.recordToMessage(&records[i]):
			case <-ctx.Done():
				return
			case <-a.closedChan:
				return
			}
		}
	}()

	return msgChan, nil
}

func (a *Archive) loadArchivedRecords(ctx context.Context, topic string) ([]fetchedRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, uuid, payload, metadata
		FROM records
		WHERE topic = ?
		ORDER BY id ASC
	`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var records []fetchedRecord
	for rows.Next() {
		var fr fetchedRecord
		if err := rows.Scan(&fr.id, &fr.uuid, &fr.payload, &fr.metadata); err != nil {
			return nil, fmt.Errorf("failed to scan archived record: %w", err)
		}
		records = append(records, fr)
	}
	return records, rows.Err()
}

// Close closes the archive and releases resources.
func (a *Archive) Close() error {
	a.closedMu.Lock()
	if a.closed {
		a.closedMu.Unlock()
		return nil
	}
	a.closed = true
	close(a.closedChan)
	a.closedMu.Unlock()

	a.wg.Wait()

	return a.db.Close()
}

// Capabilities returns the SQLite feed capabilities.
func (a *Archive) Capabilities() feed.Capabilities {
	return feed.SQLiteCapabilities
}

// GetCapabilities returns the capabilities of this feed instance.
func (a *Archive) GetCapabilities() feed.Capabilities {
	return feed.SQLiteCapabilities
}

// GetDB returns the underlying database connection for advanced use cases.
func (a *Archive) GetDB() *sql.DB {
	return a.db
}

// GetPendingCount returns the number of records not yet dispatched for a
// topic.
func (a *Archive) GetPendingCount(topic string) (int64, error) {
	var count int64
	err := a.db.QueryRow(`
		SELECT COUNT(*) FROM records
		WHERE topic = ? AND status = 'pending'
	`, topic).Scan(&count)
	return count, err
}

// GetDispatchedCount returns the number of records already dispatched for
// a topic.
func (a *Archive) GetDispatchedCount(topic string) (int64, error) {
	var count int64
	err := a.db.QueryRow(`
		SELECT COUNT(*) FROM records
		WHERE topic = ? AND status = 'dispatched'
	`, topic).Scan(&count)
	return count, err
}

// PurgeDispatched deletes dispatched records for a topic and reports how
// many rows were removed. Pending records are never purged.
func (a *Archive) PurgeDispatched(topic string) (int64, error) {
	result, err := a.db.Exec(`DELETE FROM records WHERE topic = ? AND status = 'dispatched'`, topic)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
