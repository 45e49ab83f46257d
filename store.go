package petsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/petsync/internal/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so repositories work
// the same inside and outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querier is what repositories use. QueryRowContext returns a scanner so a
// closed store can fail the row like any other call.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) scanner
}

// guardedQuerier runs check before every call. A nil check always passes.
type guardedQuerier struct {
	q     Querier
	check func() error
}

func (g guardedQuerier) ok() error {
	if g.check == nil {
		return nil
	}
	return g.check()
}

func (g guardedQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := g.ok(); err != nil {
		return nil, err
	}
	return g.q.ExecContext(ctx, query, args...)
}

func (g guardedQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := g.ok(); err != nil {
		return nil, err
	}
	return g.q.QueryContext(ctx, query, args...)
}

func (g guardedQuerier) QueryRowContext(ctx context.Context, query string, args ...any) scanner {
	if err := g.ok(); err != nil {
		return errRow{err}
	}
	return g.q.QueryRowContext(ctx, query, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// Store is the local record database. One Store owns the single shared
// connection; it is opened by the process entry point and injected into
// everything that reads or writes records.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for migration output.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// OpenStore opens or creates the record database at path.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer: every caller shares one connection, and the
	// transaction is the only mutual exclusion.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s.db = db
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

// gooseLogger routes goose output to slog at debug level.
type gooseLogger struct{ l *slog.Logger }

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{l: s.logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

// Repos returns repositories bound to the shared connection.
// Do not use them while a WithTx callback is running: the pool holds a
// single connection and the call would wait on the open transaction.
func (s *Store) Repos() Repos {
	return newRepos(s.db, s.checkOpen, s.now)
}

// WithTx runs fn inside one transaction. fn receives repositories bound to
// the transaction and nothing else, so nested transactions cannot be opened.
// Any error from fn rolls everything back and is returned as a
// *TransactionError, except *MatchError which is returned unchanged.
func (s *Store) WithTx(ctx context.Context, fn func(Repos) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &TransactionError{Step: "begin", Err: err}
	}
	defer tx.Rollback() // no-op if committed

	if err := fn(newRepos(tx, nil, s.now)); err != nil {
		var (
			te *TransactionError
			me *MatchError
		)
		if errors.As(err, &te) || errors.As(err, &me) {
			return err
		}
		return &TransactionError{Step: "write", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &TransactionError{Step: "commit", Err: err}
	}
	return nil
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMeta reads a metadata value. Missing keys return "" and no error.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

const lastSyncPrefix = "last_sync:"

// RecordSync stores the completion time and run id of a sync run.
func (s *Store) RecordSync(ctx context.Context, source, runID string, at time.Time) error {
	return s.SetMeta(ctx, lastSyncPrefix+source, at.UTC().Format(time.RFC3339)+" "+runID)
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	stats := &StoreStats{LastSync: map[string]string{}}
	counts := []struct {
		dst   *int
		query string
	}{
		{&stats.Clients, "SELECT COUNT(*) FROM clients"},
		{&stats.Pets, "SELECT COUNT(*) FROM pets"},
		{&stats.Events, "SELECT COUNT(*) FROM events"},
		{&stats.Tasks, "SELECT COUNT(*) FROM tasks"},
		{&stats.OpenTasks, "SELECT COUNT(*) FROM tasks WHERE status IN ('Pending', 'InProgress', 'Blocked')"},
		{&stats.Processed, "SELECT COUNT(*) FROM processed_submissions"},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("store: stats: %w", err)
		}
	}

	version, err := goose.GetDBVersion(s.db)
	if err != nil {
		return nil, fmt.Errorf("store: schema version: %w", err)
	}
	stats.SchemaVersion = fmt.Sprintf("%d", version)

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM metadata WHERE key LIKE ?`, lastSyncPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("store: last sync: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		stats.LastSync[strings.TrimPrefix(k, lastSyncPrefix)] = v
	}
	return stats, rows.Err()
}

// Close closes the store. Calling Close more than once is safe.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
