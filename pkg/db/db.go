package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// BusyTimeout is how long a writer waits on a locked database before
// SQLITE_BUSY is returned.
const BusyTimeout = 5 * time.Second

// Database wraps the SQL handle shared by every tenant loop, the order
// manager and the API.
type Database struct {
	DB   *sql.DB
	Path string
}

// New opens (and creates if needed) the SQLite database at path. File
// databases run in WAL mode with a busy timeout and foreign keys on, and
// transactions take the write lock up front.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	memory := path == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, memory))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: a single writer, and an in-memory database lives per
	// connection.
	db.SetMaxOpenConns(1)
	if !memory {
		db.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), BusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	return &Database{DB: db, Path: path}, nil
}

func dsn(path string, memory bool) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", BusyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if memory {
		return path + "?" + strings.Join(pragmas, "&")
	}
	pragmas = append(pragmas,
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_txlock=immediate",
	)
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
