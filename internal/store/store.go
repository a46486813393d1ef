package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is the SQLite-backed persistence layer for the co-purchase engine
// and the analytics tables. Writes go through a single connection
// (MaxOpenConns=1) so counter upserts never contend with each other;
// reads use a separate query_only pool.
type Store struct {
	writer    *sql.DB
	reader    *sql.DB
	path      string
	closeOnce sync.Once
}

// Open creates a new Store backed by the SQLite database at path.
// It creates the parent directory if it does not exist, opens a writer
// connection (single-conn) and a reader pool, enables WAL mode, and
// runs all pending migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
	}

	// Writer connection: exactly one connection, serialises all writes.
	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("store: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	// Verify the writer connection is usable.
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("store: ping writer: %w", err)
	}

	// Reader pool: multiple connections for concurrent reads.
	// Use query_only pragma to enforce read-only behaviour at the connection level.
	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("store: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	reader.SetConnMaxLifetime(0)

	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("store: ping reader: %w", err)
	}

	s := &Store{
		writer: writer,
		reader: reader,
		path:   path,
	}

	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

// Close closes both the writer and reader database connections.
// It is safe to call Close multiple times.
func (s *Store) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		if s.writer != nil {
			if err := s.writer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if s.reader != nil {
			if err := s.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Writer returns the writer database handle. Exported for advanced usage;
// prefer the typed methods on Store for regular operations.
func (s *Store) Writer() *sql.DB {
	return s.writer
}

// Reader returns the reader database handle.
func (s *Store) Reader() *sql.DB {
	return s.reader
}

// Path returns the filesystem path of the database.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies that both the writer and reader database connections are alive
// by executing a simple SELECT 1 query on each.
func (s *Store) Ping() error {
	if err := s.writer.Ping(); err != nil {
		return fmt.Errorf("store: writer ping: %w", err)
	}
	if err := s.reader.Ping(); err != nil {
		return fmt.Errorf("store: reader ping: %w", err)
	}
	return nil
}

// Stats summarises table sizes for the status command and health endpoint.
type Stats struct {
	Relationships   int64 `json:"relationships"`
	Products        int64 `json:"products"`
	ProcessedOrders int64 `json:"processed_orders"`
	Orders          int64 `json:"orders"`
	Events          int64 `json:"events"`
	DailyRows       int64 `json:"daily_rows"`
	// SizeBytes is the database file plus its write-ahead log.
	SizeBytes int64 `json:"size_bytes"`
}

// Stats counts the rows of every engine table.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	targets := []struct {
		table string
		dst   *int64
	}{
		{"fbt_relationships", &st.Relationships},
		{"fbt_product_stats", &st.Products},
		{"fbt_processed_orders", &st.ProcessedOrders},
		{"orders", &st.Orders},
		{"analytics_events", &st.Events},
		{"analytics_daily", &st.DailyRows},
	}
	for _, tgt := range targets {
		if err := s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tgt.table).Scan(tgt.dst); err != nil {
			return nil, fmt.Errorf("store: count %s: %w", tgt.table, err)
		}
	}
	for _, f := range []string{s.path, s.path + "-wal"} {
		if fi, err := os.Stat(f); err == nil {
			st.SizeBytes += fi.Size()
		}
	}
	return st, nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
