package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database owns the SQLite handle behind the mirror and restore queries.
type Database struct {
	DB *sql.DB
}

// New opens the mirror database at path, creating the file and its parent
// directory on first run. ":memory:" skips the filesystem entirely.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("db: path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("db: create directory: %w", err)
		}
	}

	// WAL keeps restore reads from blocking behind the mirror's writes;
	// the busy timeout absorbs the occasional overlap instead of erroring.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open %q: %w", path, err)
	}
	// SQLite allows one writer; funnel everything through one connection
	// rather than letting database/sql queue up lock contention.
	handle.SetMaxOpenConns(1)

	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("db: ping %q: %w", path, err)
	}
	return &Database{DB: handle}, nil
}

// Close releases the underlying handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
