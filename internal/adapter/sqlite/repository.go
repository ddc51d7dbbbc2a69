package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cwygoda/streamwatch/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    collection      TEXT NOT NULL,
    link            TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT '',
    title           TEXT NOT NULL DEFAULT '',
    embed_link      TEXT NOT NULL DEFAULT '',
    last_checked_at DATETIME,
    last_live_at    DATETIME,
    disabled        INTEGER NOT NULL DEFAULT 0,
    source          TEXT NOT NULL DEFAULT '',
    platform        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_items_collection ON items(collection, id);
`

const columns = `id, collection, link, status, title, embed_link, last_checked_at, last_live_at, disabled, source, platform`

// Repository implements domain.ItemStore using SQLite. Positions are row ids.
type Repository struct {
	db *sql.DB
}

// New opens the database at dbPath, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// NewWithDB wraps an already opened database. The schema must exist.
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// ListItems returns the items of a collection in insertion order.
func (r *Repository) ListItems(ctx context.Context, collection string) ([]domain.TrackedItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM items WHERE collection = ? ORDER BY id ASC`,
		collection,
	)
	if err != nil {
		return nil, classify("list items", err)
	}
	defer rows.Close()

	var items []domain.TrackedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, classify("list items", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list items", err)
	}
	return items, nil
}

// GetItemAt returns the item with row id position.
func (r *Repository) GetItemAt(ctx context.Context, collection string, position int64) (*domain.TrackedItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM items WHERE id = ? AND collection = ?`,
		position, collection,
	)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, classify("get item", err)
	}
	return it, nil
}

// UpdateItem overwrites the fields of a row.
func (r *Repository) UpdateItem(ctx context.Context, collection string, position int64, f domain.Fields) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE items SET link = ?, status = ?, title = ?, embed_link = ?, last_checked_at = ?,
		 last_live_at = ?, disabled = ?, source = ?, platform = ?
		 WHERE id = ? AND collection = ?`,
		f.Link, string(f.Status), f.Title, f.EmbedLink, nullTime(f.LastCheckedAt),
		nullTime(f.LastLiveAt), f.Disabled, f.Source, f.Platform,
		position, collection,
	)
	if err != nil {
		return classify("update item", err)
	}
	return requireRow(result, "update item")
}

// AppendItem inserts a row at the end of a collection.
func (r *Repository) AppendItem(ctx context.Context, collection string, f domain.Fields) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (collection, link, status, title, embed_link, last_checked_at,
		 last_live_at, disabled, source, platform) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		collection, f.Link, string(f.Status), f.Title, f.EmbedLink, nullTime(f.LastCheckedAt),
		nullTime(f.LastLiveAt), f.Disabled, f.Source, f.Platform,
	)
	if err != nil {
		return classify("append item", err)
	}
	return nil
}

// DeleteItem removes a row.
func (r *Repository) DeleteItem(ctx context.Context, collection string, position int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM items WHERE id = ? AND collection = ?`,
		position, collection,
	)
	if err != nil {
		return classify("delete item", err)
	}
	return requireRow(result, "delete item")
}

func requireRow(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if affected == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// coder is implemented by driver errors that carry an SQLite result code.
type coder interface {
	Code() int
}

// classify wraps lock contention with domain.ErrStoreBusy.
func classify(op string, err error) error {
	var c coder
	if errors.As(err, &c) {
		switch c.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreBusy, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*domain.TrackedItem, error) {
	var (
		it          domain.TrackedItem
		status      string
		lastChecked sql.NullTime
		lastLive    sql.NullTime
	)
	err := row.Scan(&it.Position, &it.Collection, &it.Link, &status, &it.Title, &it.EmbedLink,
		&lastChecked, &lastLive, &it.Disabled, &it.Source, &it.Platform)
	if err != nil {
		return nil, err
	}
	it.Status = domain.ParseStatus(status)
	it.LastCheckedAt = lastChecked.Time
	it.LastLiveAt = lastLive.Time
	return &it, nil
}
