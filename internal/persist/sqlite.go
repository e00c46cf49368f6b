package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/todosync/todosync/internal/item"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	position INTEGER NOT NULL,
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	importance TEXT NOT NULL DEFAULT 'normal',
	is_done INTEGER NOT NULL DEFAULT 0,
	creation_date TEXT NOT NULL,
	deadline TEXT,
	modification_date TEXT
);

CREATE INDEX IF NOT EXISTS idx_items_position ON items(position);
`

// SQLiteFile persists items in an embedded SQLite database.
//
// The database is opened on first use and kept open until Close. WAL mode
// allows a Load from another process while a Save is in progress.
type SQLiteFile struct {
	path   string
	logger *log.Logger

	mu   sync.Mutex
	conn *sql.DB
}

// NewSQLiteFile creates a SQLite persister at path.
func NewSQLiteFile(path string, logger *log.Logger) *SQLiteFile {
	return &SQLiteFile{path: path, logger: defaultLogger(logger)}
}

// Path implements Persister.Path.
func (f *SQLiteFile) Path() string { return f.path }

// open returns the connection, creating the database and schema if needed.
func (f *SQLiteFile) open(ctx context.Context) (*sql.DB, error) {
	if f.conn != nil {
		return f.conn, nil
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrIO, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrIO, err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: failed to run %q: %v", ErrIO, pragma, err)
		}
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", ErrIO, err)
	}

	f.conn = conn
	return conn, nil
}

// Save implements Persister.Save. The table is replaced in one transaction.
func (f *SQLiteFile) Save(ctx context.Context, items []item.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.open(ctx)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrIO, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("%w: failed to clear items: %v", ErrIO, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (position, id, text, importance, is_done, creation_date, deadline, modification_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position = excluded.position,
			text = excluded.text,
			importance = excluded.importance,
			is_done = excluded.is_done,
			creation_date = excluded.creation_date,
			deadline = excluded.deadline,
			modification_date = excluded.modification_date
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert: %v", ErrIO, err)
	}
	defer stmt.Close()

	for i, it := range items {
		imp := it.Importance
		if imp == "" {
			imp = item.Normal
		}
		_, err := stmt.ExecContext(ctx,
			i,
			it.ID,
			it.Text,
			string(imp),
			boolToInt(it.IsDone),
			FormatDate(it.CreationDate),
			timeToNullString(it.Deadline),
			timeToNullString(it.ModificationDate),
		)
		if err != nil {
			return fmt.Errorf("%w: failed to insert item %s: %v", ErrIO, it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", ErrIO, err)
	}
	return nil
}

// Load implements Persister.Load. A database file that does not exist yet is
// reported as ErrNotFound without creating it.
func (f *SQLiteFile) Load(ctx context.Context) ([]item.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		if _, err := os.Stat(f.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, f.path)
			}
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	conn, err := f.open(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, text, importance, is_done, creation_date, deadline, modification_date
		FROM items
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query items: %v", ErrIO, err)
	}
	defer rows.Close()

	var items []item.Item
	for rows.Next() {
		var (
			it                 item.Item
			importance         string
			isDone             int
			created            string
			deadline, modified sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.Text, &importance, &isDone, &created, &deadline, &modified); err != nil {
			return nil, fmt.Errorf("%w: failed to scan item: %v", ErrDecoding, err)
		}

		it.Importance = decodeImportance(importance)
		it.IsDone = isDone != 0
		if it.CreationDate, err = ParseDate(created); err != nil {
			return nil, fmt.Errorf("%w: item %s creation_date: %v", ErrDecoding, it.ID, err)
		}
		if it.Deadline, err = nullStringToTime(deadline); err != nil {
			return nil, fmt.Errorf("%w: item %s deadline: %v", ErrDecoding, it.ID, err)
		}
		if it.ModificationDate, err = nullStringToTime(modified); err != nil {
			return nil, fmt.Errorf("%w: item %s modification_date: %v", ErrDecoding, it.ID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return items, nil
}

// Close implements Persister.Close, checkpointing the WAL first.
func (f *SQLiteFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}
	if _, err := f.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		f.logger.Printf("WARNING: failed to checkpoint WAL: %v", err)
	}
	err := f.conn.Close()
	f.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatDate(*t), Valid: true}
}

func nullStringToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	return parseOptionalDate(ns.String)
}
