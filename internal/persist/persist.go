// Package persist stores the whole item collection on the local disk.
//
// Three interchangeable encodings are provided behind the Persister
// interface:
//
//	json   <dir>/<name>.json   array of sparse records
//	csv    <dir>/<name>.csv    headered, comma separated, unquoted
//	sqlite <dir>/<name>.db     one row per item in an embedded SQLite database
//
// File based encodings are written to a temporary file in the same directory
// and renamed over the target, so a concurrent Load never observes a partial
// write. The SQLite encoding replaces the table inside one transaction.
//
// A missing file is reported as ErrNotFound, which callers treat as an empty
// local state rather than a failure.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/todosync/todosync/internal/item"
)

var (
	// ErrNotFound is returned by Load when nothing has been saved yet.
	ErrNotFound = errors.New("local snapshot not found")

	// ErrIO is returned when the durable medium cannot be read or written.
	ErrIO = errors.New("local storage I/O failure")

	// ErrDecoding is returned when persisted data is corrupt or malformed.
	ErrDecoding = errors.New("local snapshot is malformed")

	// ErrEncoding is returned when items cannot be represented in the
	// chosen encoding.
	ErrEncoding = errors.New("cannot encode items")
)

// Persister loads and saves the entire item collection.
type Persister interface {
	// Save replaces the durable snapshot with items.
	Save(ctx context.Context, items []item.Item) error

	// Load returns the durable snapshot in saved order.
	Load(ctx context.Context) ([]item.Item, error)

	// Path returns the location of the snapshot.
	Path() string

	// Close releases any resources held by the persister.
	Close() error
}

// Format names an on-disk encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatSQLite Format = "sqlite"
)

// ParseFormat converts a configuration value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatSQLite:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown storage format %q (want json, csv or sqlite)", s)
}

// Extension returns the file extension used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatSQLite:
		return ".db"
	default:
		return ".json"
	}
}

// New creates a persister for the given format storing <dir>/<name><ext>.
//
// If logger is nil, a default logger writing to stderr is used.
func New(format Format, dir, name string, logger *log.Logger) (Persister, error) {
	if name == "" {
		return nil, fmt.Errorf("snapshot name cannot be empty")
	}
	path := filepath.Join(dir, name+format.Extension())

	switch format {
	case FormatJSON:
		return NewJSONFile(path, logger), nil
	case FormatCSV:
		return NewCSVFile(path, logger), nil
	case FormatSQLite:
		return NewSQLiteFile(path, logger), nil
	}
	return nil, fmt.Errorf("unknown storage format %q", format)
}

func defaultLogger(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(os.Stderr, "[persist] ", log.LstdFlags)
	}
	return logger
}
