// Package postgres provides a PostgreSQL-backed trace archive feed.
//
// It carries the same archive semantics as the sqlite feed: acked rows
// are marked dispatched rather than deleted, and the whole archive can
// be replayed in insert order. Concurrent subscribers are safe because
// record claims go through FOR UPDATE SKIP LOCKED.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/traceflow/feed"
)

// FeedName is the name used to register this feed.
const FeedName = "postgres"

const (
	// DefaultPollInterval is the default interval for polling new records.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultLockDuration is how long a fetched record stays invisible to
	// other subscribers before it is considered abandoned.
	DefaultLockDuration = 30 * time.Second
	// maxNackBackoff caps the redelivery delay for repeatedly nacked records.
	maxNackBackoff = 60 * time.Second
)

var schemaNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func init() {
	Register()
}

// Register adds the postgres feed to the default registry, under both
// the "postgres" and "postgresql" names.
func Register() {
	feed.RegisterWithCapabilities(FeedName, Build, feed.PostgresCapabilities)
	feed.RegisterWithCapabilities("postgresql", Build, feed.PostgresCapabilities) // Alias
}

// Build creates a new PostgreSQL archive feed.
func Build(ctx context.Context, cfg feed.Config, logger watermill.LoggerAdapter) (feed.Feed, error) {
	config := Config{
		ConnectionString: cfg.GetPostgresURL(),
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
	return feed.PostgresCapabilities
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// PollInterval is the interval for polling new records.
	PollInterval time.Duration
	// LockDuration is how long a fetched record stays locked while a
	// subscriber processes it.
	LockDuration time.Duration
	// SchemaName is the schema to use for tables. Defaults to "traceflow".
	SchemaName string
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockDuration <= 0 {
		c.LockDuration = DefaultLockDuration
	}
	if c.SchemaName == "" {
		c.SchemaName = "traceflow"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

// Archive implements both Publisher and Subscriber backed by PostgreSQL.
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

// New creates a new PostgreSQL-backed archive.
func New(cfg Config, logger watermill.LoggerAdapter) (*Archive, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}

	cfg = cfg.withDefaults()

	if !schemaNamePattern.MatchString(cfg.SchemaName) {
		return nil, fmt.Errorf("invalid schema name: %q", cfg.SchemaName)
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

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
	// #nosec G201 - schema name is validated in New()
	_, err := a.db.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.config.SchemaName))
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// #nosec G201 - schema name is validated in New()
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s.records (
		id BIGSERIAL PRIMARY KEY,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		payload BYTEA NOT NULL,
		metadata JSONB DEFAULT '{}',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		locked_until TIMESTAMPTZ,
		retry_count INTEGER DEFAULT 0,
		status TEXT DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_records_topic_pending
		ON %[1]s.records(topic, id)
		WHERE status = 'pending';

	CREATE INDEX IF NOT EXISTS idx_records_uuid ON %[1]s.records(uuid);
	CREATE INDEX IF NOT EXISTS idx_records_locked_until ON %[1]s.records(locked_until)
		WHERE locked_until IS NOT NULL;
	`, a.config.SchemaName)

	_, err = a.db.Exec(schema)
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

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s.records (uuid, topic, payload, metadata)
		VALUES ($1, $2, $3, $4)
	`, a.config.SchemaName))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		if _, err := stmt.Exec(msg.UUID, topic, msg.Payload, metadata); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Subscribe delivers pending records for the topic in insert order.
// Delivery waits for each record's ack or nack before claiming the next,
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

func (a *Archive) fetchAndLockRecord(ctx context.Context, topic string) (int64, *message.Message, bool) {
	now := time.Now().UTC()
	lockUntil := now.Add(a.config.LockDuration)

	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`
		UPDATE %[1]s.records
		SET locked_until = $1
		WHERE id = (
			SELECT id FROM %[1]s.records
			WHERE topic = $2
			AND status = 'pending'
			AND (locked_until IS NULL OR locked_until < $3)
			ORDER BY id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, uuid, payload, metadata
	`, a.config.SchemaName)

	var id int64
	var uuid string
	var payload []byte
	var metadataJSON []byte

	err := a.db.QueryRowContext(ctx, query, lockUntil, topic, now).Scan(&id, &uuid, &payload, &metadataJSON)
	if err != nil {
		if err != sql.ErrNoRows && a.logger != nil {
			a.logger.Error("failed to fetch and lock record", err, nil)
		}
		return 0, nil, false
	}

	return id, a.buildMessage(uuid, payload, metadataJSON), true
}

func (a *Archive) buildMessage(uuid string, payload, metadataJSON []byte) *message.Message {
	metadata := make(message.Metadata)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil && a.logger != nil {
			a.logger.Error("failed to unmarshal metadata", err, nil)
		}
	}

	msg := message.NewMessage(uuid, payload)
	msg.Metadata = metadata
	return msg
}

func (a *Archive) processPendingRecords(ctx context.Context, topic string, msgChan chan *message.Message) {
	id, msg, found := a.fetchAndLockRecord(ctx, topic)
	if !found {
		return
	}

	select {
	case msgChan <- msg:
		a.handleRecordResult(ctx, id, msg)
	case <-ctx.Done():
		a.unlockRecord(ctx, id)
	case <-a.closedChan:
		a.unlockRecord(ctx, id)
	}
}

func (a *Archive) handleRecordResult(ctx context.Context, id int64, msg *message.Message) {
	select {
	case <-msg.Acked():
		a.ackRecord(ctx, id)
	case <-msg.Nacked():
		a.nackRecord(ctx, id)
	case <-ctx.Done():
		a.unlockRecord(ctx, id)
	case <-a.closedChan:
		a.unlockRecord(ctx, id)
	}
}

// ackRecord marks the record dispatched. The row is kept for replay.
func (a *Archive) ackRecord(ctx context.Context, id int64) {
	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`UPDATE %s.records SET status = 'dispatched', locked_until = NULL WHERE id = $1`, a.config.SchemaName)
	_, err := a.db.ExecContext(ctx, query, id)
	if err != nil && a.logger != nil {
		a.logger.Error("failed to ack record", err, nil)
	}
}

// nackRecord makes the record available again after an exponential
// backoff. Later records may dispatch ahead of it while it waits, but it
// is never dropped.
func (a *Archive) nackRecord(ctx context.Context, id int64) {
	var retryCount int
	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`SELECT retry_count FROM %s.records WHERE id = $1`, a.config.SchemaName)
	if err := a.db.QueryRowContext(ctx, query, id).Scan(&retryCount); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to get retry count", err, nil)
		}
		return
	}

	backoff := time.Duration(1<<uint(retryCount)) * time.Second
	if backoff > maxNackBackoff || backoff <= 0 {
		backoff = maxNackBackoff
	}
	lockedUntil := time.Now().UTC().Add(backoff)

	// #nosec G201 - schema name is validated in New()
	query = fmt.Sprintf(`
		UPDATE %s.records
		SET retry_count = retry_count + 1,
		    locked_until = $1
		WHERE id = $2
	`, a.config.SchemaName)
	_, err := a.db.ExecContext(ctx, query, lockedUntil, id)
	if err != nil && a.logger != nil {
		a.logger.Error("failed to nack record", err, nil)
	}
}

func (a *Archive) unlockRecord(ctx context.Context, id int64) {
	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`UPDATE %s.records SET locked_until = NULL WHERE id = $1`, a.config.SchemaName)
	_, err := a.db.ExecContext(ctx, query, id)
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

	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`
		SELECT uuid, payload, metadata
		FROM %s.records
		WHERE topic = $1
		ORDER BY id ASC
	`, a.config.SchemaName)

	rows, err := a.db.QueryContext(ctx, query, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}

	msgChan := make(chan *message.Message)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(msgChan)
		defer rows.Close()

		for rows.Next() {
			var uuid string
			var payload []byte
			var metadataJSON []byte
			if err := rows.Scan(&uuid, &payload, &metadataJSON); err != nil {
				if a.logger != nil {
					a.logger.Error("failed to scan archived record", err, nil)
				}
				return
			}

			select {
			case msgChan <- a.buildMessage(uuid, payload, metadataJSON):
			case <-ctx.Done():
				return
			case <-a.closedChan:
				return
			}
		}

		if err := rows.Err(); err != nil && a.logger != nil {
			a.logger.Error("failed to read archive", err, nil)
		}
	}()

	return msgChan, nil
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

// Capabilities returns the PostgreSQL feed capabilities.
func (a *Archive) Capabilities() feed.Capabilities {
	return feed.PostgresCapabilities
}

// GetCapabilities returns the capabilities of this feed instance.
func (a *Archive) GetCapabilities() feed.Capabilities {
	return feed.PostgresCapabilities
}

// GetDB returns the underlying database connection for advanced use cases.
func (a *Archive) GetDB() *sql.DB {
	return a.db
}

// GetPendingCount returns the number of records not yet dispatched for a
// topic.
func (a *Archive) GetPendingCount(topic string) (int64, error) {
	var count int64
	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s.records
		WHERE topic = $1 AND status = 'pending'
	`, a.config.SchemaName)
	err := a.db.QueryRow(query, topic).Scan(&count)
	return count, err
}

// GetDispatchedCount returns the number of records already dispatched for
// a topic.
func (a *Archive) GetDispatchedCount(topic string) (int64, error) {
	var count int64
	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s.records
		WHERE topic = $1 AND status = 'dispatched'
	`, a.config.SchemaName)
	err := a.db.QueryRow(query, topic).Scan(&count)
	return count, err
}

// PurgeDispatched deletes dispatched records for a topic and reports how
// many rows were removed. Pending records are never purged.
func (a *Archive) PurgeDispatched(topic string) (int64, error) {
	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`DELETE FROM %s.records WHERE topic = $1 AND status = 'dispatched'`, a.config.SchemaName)
	result, err := a.db.Exec(query, topic)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CleanupExpiredLocks unlocks records whose locks have expired, making
// them available for redelivery.
func (a *Archive) CleanupExpiredLocks() (int64, error) {
	// #nosec G201 - schema name is validated in New()
	query := fmt.Sprintf(`
		UPDATE %s.records
		SET locked_until = NULL
		WHERE locked_until IS NOT NULL AND locked_until < NOW()
	`, a.config.SchemaName)
	result, err := a.db.Exec(query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// VacuumRecords runs VACUUM on the records table to reclaim space, which
// is worthwhile after a large PurgeDispatched.
func (a *Archive) VacuumRecords() error {
	// #nosec G201 - schema name is validated in New()
	_, err := a.db.Exec(fmt.Sprintf(`VACUUM %s.records`, a.config.SchemaName))
	return err
}
