// Package store persists vault item metadata and notes in an embedded SQLite
// database.
//
// Every write is a whole-record replace committed in its own transaction, so
// readers never observe a partially-written record. Mutations are announced
// on a change feed (Watch) so list views can refresh as soon as a commit
// lands.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileMode restricts the database file to the owner.
const FileMode = 0600

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("store: not found")

// ItemType classifies a concealed asset. Immutable after creation.
type ItemType string

const (
	TypeNote     ItemType = "NOTE"
	TypeDocument ItemType = "DOCUMENT"
	TypeImage    ItemType = "IMAGE"
	TypeVideo    ItemType = "VIDEO"
	TypeAudio    ItemType = "AUDIO"
	TypeOther    ItemType = "OTHER"
)

// VaultItem is the metadata record for one concealed asset.
type VaultItem struct {
	ID            string
	Title         string
	Type          ItemType
	EncryptedPath string // empty only for NOTE items that store content inline
	OriginalName  string
	FileSize      int64 // ciphertext size in bytes
	ThumbnailPath string
	CreatedAt     int64 // epoch milliseconds
	UpdatedAt     int64 // epoch milliseconds
}

// Event announces a committed mutation.
type Event struct {
	Entity string // "item" or "note"
	Op     string // "save", "delete" or "wipe"
	ID     string // empty for wipe
}

// Store is the SQLite-backed metadata store.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	watchers []chan Event
	closed   bool
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	// Single connection keeps SQLite writes serialized and avoids
	// "database is locked" under concurrent use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database and the change feed.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, ch := range s.watchers {
			close(ch)
		}
		s.watchers = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}

// Watch subscribes to the change feed. Slow receivers drop events rather
// than block writers.
func (s *Store) Watch() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 16)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *Store) notify(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS vault_items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			item_type TEXT NOT NULL,
			encrypted_path TEXT UNIQUE,
			original_name TEXT NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0,
			thumbnail_path TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("store: failed to create vault_items table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_vault_items_type_updated
		ON vault_items(item_type, updated_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("store: failed to create index: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			category TEXT,
			pinned INTEGER NOT NULL DEFAULT 0,
			gateway INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("store: failed to create notes table: %w", err)
	}
	return nil
}

// SaveItem inserts or replaces an item record as a whole. CreatedAt and
// UpdatedAt are stamped when the caller left them zero.
func (s *Store) SaveItem(ctx context.Context, item *VaultItem) error {
	now := time.Now().UnixMilli()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vault_items
			(id, title, item_type, encrypted_path, original_name, file_size, thumbnail_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Title, string(item.Type), nullable(item.EncryptedPath),
		item.OriginalName, item.FileSize, nullable(item.ThumbnailPath),
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: failed to save item: %w", err)
	}

	s.notify(Event{Entity: "item", Op: "save", ID: item.ID})
	return nil
}

// GetItem returns the item with the given id, or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, id string) (*VaultItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, item_type, encrypted_path, original_name, file_size, thumbnail_path, created_at, updated_at
		FROM vault_items WHERE id = ?
	`, id)
	return scanItem(row)
}

// ListItems returns every item, most recently updated first.
func (s *Store) ListItems(ctx context.Context) ([]*VaultItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, item_type, encrypted_path, original_name, file_size, thumbnail_path, created_at, updated_at
		FROM vault_items ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query items: %w", err)
	}
	return collectItems(rows)
}

// ListByType returns items of one type, most recently updated first.
func (s *Store) ListByType(ctx context.Context, typ ItemType) ([]*VaultItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, item_type, encrypted_path, original_name, file_size, thumbnail_path, created_at, updated_at
		FROM vault_items WHERE item_type = ? ORDER BY updated_at DESC, id
	`, string(typ))
	if err != nil {
		return nil, fmt.Errorf("store: failed to query items: %w", err)
	}
	return collectItems(rows)
}

// DeleteItem removes the item record. Deleting a missing id returns
// ErrNotFound.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.notify(Event{Entity: "item", Op: "delete", ID: id})
	return nil
}

// DeleteAllItems removes every item record. Used only by vault-wide wipe.
func (s *Store) DeleteAllItems(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vault_items`); err != nil {
		return fmt.Errorf("store: failed to wipe items: %w", err)
	}
	s.notify(Event{Entity: "item", Op: "wipe"})
	return nil
}

// CountItems returns the number of item records.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: failed to count items: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*VaultItem, error) {
	var item VaultItem
	var typ string
	var encPath, thumbPath sql.NullString

	err := row.Scan(&item.ID, &item.Title, &typ, &encPath, &item.OriginalName,
		&item.FileSize, &thumbPath, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: failed to scan item: %w", err)
	}

	item.Type = ItemType(typ)
	item.EncryptedPath = encPath.String
	item.ThumbnailPath = thumbPath.String
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*VaultItem, error) {
	defer rows.Close()

	var items []*VaultItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating rows: %w", err)
	}
	return items, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
