package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Note is an ordinary, unconcealed note. At most one note is marked as the
// gateway: opening it triggers vault discovery instead of display.
type Note struct {
	ID        string
	Title     string
	Content   string
	Category  string
	Pinned    bool
	Gateway   bool
	CreatedAt int64 // epoch milliseconds
	UpdatedAt int64 // epoch milliseconds
}

// SaveNote inserts or replaces a note as a whole record. When the note is
// marked as gateway, any previous gateway flag is cleared in the same
// transaction so that at most one gateway note exists.
func (s *Store) SaveNote(ctx context.Context, note *Note) error {
	now := time.Now().UnixMilli()
	if note.CreatedAt == 0 {
		note.CreatedAt = now
	}
	if note.UpdatedAt == 0 {
		note.UpdatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if note.Gateway {
		if _, err := tx.ExecContext(ctx, `UPDATE notes SET gateway = 0 WHERE gateway = 1 AND id != ?`, note.ID); err != nil {
			return fmt.Errorf("store: failed to clear gateway flag: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO notes
			(id, title, content, category, pinned, gateway, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, note.ID, note.Title, note.Content, nullable(note.Category),
		note.Pinned, note.Gateway, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: failed to save note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}

	s.notify(Event{Entity: "note", Op: "save", ID: note.ID})
	return nil
}

// GetNote returns the note with the given id, or ErrNotFound.
func (s *Store) GetNote(ctx context.Context, id string) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, category, pinned, gateway, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)
	return scanNote(row)
}

// ListNotes returns every note, most recently updated first.
func (s *Store) ListNotes(ctx context.Context) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, category, pinned, gateway, created_at, updated_at
		FROM notes ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query notes: %w", err)
	}
	return collectNotes(rows)
}

// SearchNotes returns notes whose title or content contains the query,
// most recently updated first. This backs the ordinary search box.
func (s *Store) SearchNotes(ctx context.Context, query string) ([]*Note, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, category, pinned, gateway, created_at, updated_at
		FROM notes WHERE title LIKE ? OR content LIKE ?
		ORDER BY updated_at DESC, id
	`, like, like)
	if err != nil {
		return nil, fmt.Errorf("store: failed to search notes: %w", err)
	}
	return collectNotes(rows)
}

// GatewayNote returns the gateway note, or ErrNotFound when none is set.
func (s *Store) GatewayNote(ctx context.Context) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, category, pinned, gateway, created_at, updated_at
		FROM notes WHERE gateway = 1 LIMIT 1
	`)
	return scanNote(row)
}

// DeleteNote removes a note. Deleting a missing id returns ErrNotFound.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: failed to delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.notify(Event{Entity: "note", Op: "delete", ID: id})
	return nil
}

func scanNote(row rowScanner) (*Note, error) {
	var note Note
	var category sql.NullString

	err := row.Scan(&note.ID, &note.Title, &note.Content, &category,
		&note.Pinned, &note.Gateway, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: failed to scan note: %w", err)
	}

	note.Category = category.String
	return &note, nil
}

func collectNotes(rows *sql.Rows) ([]*Note, error) {
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating rows: %w", err)
	}
	return notes, nil
}
