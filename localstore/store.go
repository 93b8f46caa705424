// Package localstore provides the durable local snapshot store backing
// the checklist app: one SQLite database per profile holding the
// snapshot document, write metadata and timestamped backups.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	syncErrors "github.com/c0deZ3R0/checklist-sync/errors"
	"github.com/c0deZ3R0/checklist-sync/logging"
	"github.com/c0deZ3R0/checklist-sync/snapshot"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opLoadDocument = "localstore.LoadDocument"
	opSaveDocument = "localstore.SaveDocument"
	opSaveColl     = "localstore.SaveCollection"
	opReplaceColl  = "localstore.ReplaceCollection"
	opMeta         = "localstore.Meta"
	opBackup       = "localstore.WriteBackup"
)

// Meta keys
const (
	metaLastSyncedHash   = "last_synced_hash"
	metaLocalWritePrefix = "last_local_write_"

	// legacyTasksKey mirrors the tasks collection under the key the
	// pre-collection storage layout used, so older builds reading the
	// same profile keep working.
	legacyTasksKey = "tasks"
)

var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the Store.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// Recommended and enabled by DefaultConfig.
	EnableWAL bool

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store is the durable local snapshot store. Access is serialized
// internally; the UI and the sync engine both write through it.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	now    func() time.Time
	logger *logging.Logger
}

// New creates a Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("localstore"))
	logger.Info("Opening local snapshot database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:     db,
		now:    time.Now,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS snapshot (
        collection      TEXT PRIMARY KEY,
        data            TEXT NOT NULL,
        updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );
    CREATE TABLE IF NOT EXISTS meta (
        key             TEXT PRIMARY KEY,
        value           TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS backups (
        id              INTEGER PRIMARY KEY AUTOINCREMENT,
        created_at      TIMESTAMP NOT NULL,
        data            TEXT NOT NULL
    );
    `
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// LoadDocument reads the full snapshot document. On first run (no
// categories persisted yet) it seeds the default category set and
// persists it immediately.
func (s *Store) LoadDocument(ctx context.Context) (*snapshot.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT collection, data FROM snapshot`)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, opLoadDocument, err)
	}
	defer rows.Close()

	doc := snapshot.NewDocument()
	for rows.Next() {
		var collection, data string
		if err := rows.Scan(&collection, &data); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpLoad, opLoadDocument, err)
		}
		var records []snapshot.Record
		if err := json.Unmarshal([]byte(data), &records); err != nil {
			return nil, syncErrors.NewValidationError(syncErrors.OpLoad,
				fmt.Errorf("malformed persisted collection %q: %w", collection, err))
		}
		doc.SetRecords(snapshot.Collection(collection), records)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, opLoadDocument, err)
	}

	if len(doc.Categories) == 0 {
		doc.SetRecords(snapshot.Categories, snapshot.DefaultCategories())
		if err := s.SaveDocument(ctx, doc); err != nil {
			return nil, err
		}
		s.logger.Info("Seeded default categories")
	}

	return doc, nil
}

// SaveDocument persists the full snapshot document in one transaction.
// It does not stamp last-local-write metadata; merge results written by
// the sync engine must not look like local edits.
func (s *Store) SaveDocument(ctx context.Context, doc *snapshot.Document) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opSaveDocument, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, c := range snapshot.Collections() {
		if err = upsertCollection(ctx, tx, c, doc.Records(c), s.now()); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, opSaveDocument, err)
		}
	}
	if err = mirrorLegacyTasks(ctx, tx, doc.Records(snapshot.Tasks)); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opSaveDocument, err)
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opSaveDocument, err)
	}
	return nil
}

// SaveCollection persists one collection as a locally-originated write:
// the collection's last-local-write timestamp is stamped so the sync
// engine can recognize subscription echoes of this device's own pushes.
func (s *Store) SaveCollection(ctx context.Context, c snapshot.Collection, records []snapshot.Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opSaveColl, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = upsertCollection(ctx, tx, c, records, now); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opSaveColl, err)
	}
	if err = setMetaTx(ctx, tx, metaLocalWritePrefix+string(c), now.UTC().Format(time.RFC3339Nano)); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opSaveColl, err)
	}
	if c == snapshot.Tasks {
		if err = mirrorLegacyTasks(ctx, tx, records); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, opSaveColl, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opSaveColl, err)
	}
	return nil
}

// ReplaceCollection persists one collection as a remote-originated
// write. Unlike SaveCollection it leaves the last-local-write timestamp
// alone, so applying a cross-device update never masks the next echo
// check.
func (s *Store) ReplaceCollection(ctx context.Context, c snapshot.Collection, records []snapshot.Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opReplaceColl, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = upsertCollection(ctx, tx, c, records, s.now()); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opReplaceColl, err)
	}
	if c == snapshot.Tasks {
		if err = mirrorLegacyTasks(ctx, tx, records); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, opReplaceColl, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opReplaceColl, err)
	}
	return nil
}

func upsertCollection(ctx context.Context, tx *sql.Tx, c snapshot.Collection, records []snapshot.Record, now time.Time) error {
	if records == nil {
		records = []snapshot.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	query := `INSERT INTO snapshot (collection, data, updated_at) VALUES (?, ?, ?)
	          ON CONFLICT(collection) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	_, err = tx.ExecContext(ctx, query, string(c), string(data), now.UTC())
	return err
}

func mirrorLegacyTasks(ctx context.Context, tx *sql.Tx, tasks []snapshot.Record) error {
	if tasks == nil {
		tasks = []snapshot.Record{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return err
	}
	return setMetaTx(ctx, tx, legacyTasksKey, string(data))
}

// LastLocalWrite returns the timestamp of the most recent
// locally-originated write to the collection, or the zero time if the
// collection was never written locally.
func (s *Store) LastLocalWrite(ctx context.Context, c snapshot.Collection) (time.Time, error) {
	value, ok, err := s.getMeta(ctx, metaLocalWritePrefix+string(c))
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, syncErrors.NewValidationError(syncErrors.OpLoad,
			fmt.Errorf("malformed last-local-write timestamp for %q: %w", c, err))
	}
	return t, nil
}

// LastSyncedHash returns the fingerprint recorded at the last
// successful push, or "" if nothing was pushed yet.
func (s *Store) LastSyncedHash(ctx context.Context) (string, error) {
	value, _, err := s.getMeta(ctx, metaLastSyncedHash)
	return value, err
}

// SetLastSyncedHash records the fingerprint of the data last
// successfully pushed. Called only after a push was acknowledged
// without error.
func (s *Store) SetLastSyncedHash(ctx context.Context, hash string) error {
	return s.setMeta(ctx, metaLastSyncedHash, hash)
}

// LegacyTasksMirror returns the raw legacy mirror of the tasks
// collection maintained for older builds.
func (s *Store) LegacyTasksMirror(ctx context.Context) (string, error) {
	value, _, err := s.getMeta(ctx, legacyTasksKey)
	return value, err
}

func (s *Store) getMeta(ctx context.Context, key string) (string, bool, error) {
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, syncErrors.NewStorageError(syncErrors.OpLoad, opMeta, err)
	}
	return value, true, nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, opMeta, err)
	}
	return nil
}

func setMetaTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}
