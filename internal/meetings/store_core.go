package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"meetscribe/internal/config"
	"meetscribe/internal/retry"
)

// Store persists meetings in a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// SQLITE_BUSY survives busy_timeout when a checkpoint holds the lock.
var busyPolicy = retry.Exponential(5, 10*time.Millisecond, 200*time.Millisecond)

// Open opens the store configured for cfg.
func Open(cfg *config.Config) (*Store, error) {
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens (and if needed creates) the database at path.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	store := &Store{db: db, path: path}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return path + "?" + q.Encode()
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func busy(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// exec runs a write statement, retrying only while the database is busy.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := retry.DoValue(orBackground(ctx), busyPolicy, func(ctx context.Context) (sql.Result, error) {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil && !busy(err) {
			return nil, retry.Permanent(err)
		}
		return res, err
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}
	return res, err
}
