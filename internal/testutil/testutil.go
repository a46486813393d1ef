// Package testutil holds helpers shared by the package test suites.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/upsell/internal/config"
	"github.com/allaspectsdev/upsell/internal/orders"
	"github.com/allaspectsdev/upsell/internal/store"
)

// NewTestStore opens a SQLite store in a temporary directory. The store is
// closed when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestConfig returns the default config rooted in a temporary data
// directory, with the scheduler crons cleared.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Analytics.AggregateCron = ""
	cfg.Analytics.CleanupCron = ""
	return cfg
}

// OrderSaver is implemented by order stores that accept webhook orders.
type OrderSaver interface {
	SaveOrder(ctx context.Context, o *orders.Order) error
}

// SeedOrders saves every order or fails the test.
func SeedOrders(t *testing.T, s OrderSaver, list ...*orders.Order) {
	t.Helper()
	for _, o := range list {
		if err := s.SaveOrder(context.Background(), o); err != nil {
			t.Fatalf("SaveOrder(%d): %v", o.ID, err)
		}
	}
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}
