// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"smsrelay/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDatabaseEnv names the variable holding the integration database URL.
const TestDatabaseEnv = "SMSRELAY_TEST_DATABASE_URL"

// NewPostgresTestPool connects to the integration database inside a fresh
// schema and drops it when the test finishes. The test is skipped when the
// database URL is not configured.
func NewPostgresTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw, _ := config.DefaultEnvLookup(TestDatabaseEnv)
	dbURL := strings.TrimSpace(raw)
	if dbURL == "" {
		t.Skipf("%s not set", TestDatabaseEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adminPool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("create postgres pool: %v", err)
	}
	if err := adminPool.Ping(ctx); err != nil {
		adminPool.Close()
		t.Fatalf("ping postgres: %v", err)
	}

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	if _, err := adminPool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		adminPool.Close()
		t.Fatalf("create schema: %v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		adminPool.Close()
		t.Fatalf("parse postgres config: %v", err)
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolConfig.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		adminPool.Close()
		t.Fatalf("create test postgres pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = adminPool.Exec(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
		adminPool.Close()
	})
	return pool
}
