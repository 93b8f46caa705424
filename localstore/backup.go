package localstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	syncErrors "github.com/c0deZ3R0/checklist-sync/errors"
	"github.com/c0deZ3R0/checklist-sync/snapshot"
)

// ErrNoBackup is returned when no backup slot exists yet.
var ErrNoBackup = errors.New("no backup available")

// WriteBackup stores a timestamped copy of the current snapshot
// document in a separate slot. Sign-out writes one before clearing
// identity so a data-clear is never destructive.
func (s *Store) WriteBackup(ctx context.Context) (time.Time, error) {
	doc, err := s.LoadDocument(ctx)
	if err != nil {
		return time.Time{}, err
	}

	data, err := doc.Export()
	if err != nil {
		return time.Time{}, err
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backups (created_at, data) VALUES (?, ?)`,
		now, string(data))
	if err != nil {
		return time.Time{}, syncErrors.NewStorageError(syncErrors.OpBackup, opBackup, err)
	}

	return now, nil
}

// LatestBackup returns the most recent backup document and its
// timestamp. Returns ErrNoBackup when none exists.
func (s *Store) LatestBackup(ctx context.Context) (*snapshot.Document, time.Time, error) {
	if err := s.checkOpen(); err != nil {
		return nil, time.Time{}, err
	}

	var createdAt time.Time
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, data FROM backups ORDER BY id DESC LIMIT 1`).Scan(&createdAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNoBackup
	}
	if err != nil {
		return nil, time.Time{}, syncErrors.NewStorageError(syncErrors.OpLoad, opBackup, err)
	}

	doc, err := snapshot.Import([]byte(data))
	if err != nil {
		return nil, time.Time{}, err
	}
	return doc, createdAt, nil
}

// RestoreBackup merges the most recent backup into the current
// snapshot record by record, newest timestamp winning. The current
// document takes the tie-break slot: on equal timestamps the live
// record is closer to the user's intent than the backed-up one.
func (s *Store) RestoreBackup(ctx context.Context) error {
	backup, _, err := s.LatestBackup(ctx)
	if err != nil {
		return err
	}

	doc, err := s.LoadDocument(ctx)
	if err != nil {
		return err
	}

	for _, c := range snapshot.Collections() {
		doc.SetRecords(c, snapshot.Merge(doc.Records(c), backup.Records(c)))
	}
	return s.SaveDocument(ctx, doc)
}

// ExportJSON produces the pretty-printed file-based backup document of
// the full local snapshot.
func (s *Store) ExportJSON(ctx context.Context) ([]byte, error) {
	doc, err := s.LoadDocument(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Export()
}

// ImportJSON fully replaces local state with an exported document. The
// whole import fails, leaving local state untouched, if the document
// does not parse.
func (s *Store) ImportJSON(ctx context.Context, data []byte) error {
	doc, err := snapshot.Import(data)
	if err != nil {
		return err
	}
	return s.SaveDocument(ctx, doc)
}
