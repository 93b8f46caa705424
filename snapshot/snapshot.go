// Package snapshot defines the local data model of the checklist app:
// named collections of JSON records, the full snapshot document, the
// record-level merge policy and the content fingerprint used to skip
// redundant pushes.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/checklist-sync/errors"
)

// Collection identifies one named group of user records.
type Collection string

const (
	Categories Collection = "categories"
	Tasks      Collection = "tasks"
	Boards     Collection = "boards"
)

// Collections returns all collection names in a stable order.
func Collections() []Collection {
	return []Collection{Categories, Tasks, Boards}
}

// Record is a single user record. Every record carries a unique,
// immutable "id"; records that participate in conflict resolution also
// carry an "updatedAt" RFC3339 timestamp.
type Record map[string]any

// NewID returns a fresh globally unique record id.
func NewID() string {
	return uuid.NewString()
}

// ID returns the record's id, or "" if missing or not a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// UpdatedAt returns the record's updatedAt timestamp. Records with a
// missing or unparsable timestamp report the zero time, which loses any
// comparison against a record that has one.
func (r Record) UpdatedAt() time.Time {
	raw, _ := r["updatedAt"].(string)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Touch stamps the record's updatedAt with the given time.
func (r Record) Touch(now time.Time) {
	r["updatedAt"] = now.UTC().Format(time.RFC3339)
}

// Document is the full local state: one record sequence per collection.
// It is the sole source of truth for rendering. Write metadata
// (last-local-write timestamps, last-synced fingerprint) is persisted
// alongside it by the local store, not inside the document.
type Document struct {
	Categories []Record `json:"categories"`
	Tasks      []Record `json:"tasks"`
	Boards     []Record `json:"boards,omitempty"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Records returns the record sequence for the named collection.
func (d *Document) Records(c Collection) []Record {
	switch c {
	case Categories:
		return d.Categories
	case Tasks:
		return d.Tasks
	case Boards:
		return d.Boards
	}
	return nil
}

// SetRecords replaces the record sequence for the named collection.
func (d *Document) SetRecords(c Collection, records []Record) {
	switch c {
	case Categories:
		d.Categories = records
	case Tasks:
		d.Tasks = records
	case Boards:
		d.Boards = records
	}
}

// DefaultCategories returns the category set seeded on first run.
func DefaultCategories() []Record {
	return []Record{
		{"id": "work", "name": "Work", "emoji": "💼", "builtin": false},
		{"id": "home", "name": "Home", "emoji": "🏠", "builtin": false},
		{"id": "personal", "name": "Personal", "emoji": "👤", "builtin": false},
		{"id": "study", "name": "Study", "emoji": "📚", "builtin": false},
	}
}

// Export produces a pretty-printed JSON document of the full snapshot,
// suitable for file-based backup.
func (d *Document) Export() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, syncErrors.New(syncErrors.OpExport, err)
	}
	return data, nil
}

// Import parses an exported document. The whole import fails if the
// document does not parse; callers replace local state only on success.
func Import(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpImport, fmt.Errorf("malformed snapshot document: %w", err))
	}
	return &doc, nil
}
