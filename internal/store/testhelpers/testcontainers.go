// Package testhelpers spins up a disposable Postgres instance for
// internal/store's integration tests. Grounded on internal/db/testhelpers,
// trimmed to the plain postgres image since this package needs neither
// TimescaleDB nor pgvector.
package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arbedge/opportunity-engine/internal/store"
)

// TestStore holds a running container plus a store.DB connected to it,
// migrated and ready for use.
type TestStore struct {
	Container *postgres.PostgresContainer
	DB        *store.DB
	t         *testing.T
}

// SetupTestStore starts a Postgres container, connects store.DB to it, and
// runs store.DB.Migrate. Registers its own teardown via t.Cleanup.
func SetupTestStore(t *testing.T) *TestStore {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("arbedge_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := store.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to connect store.DB: %v", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		container.Terminate(ctx)
		t.Fatalf("failed to migrate test store: %v", err)
	}

	ts := &TestStore{Container: container, DB: db, t: t}
	t.Cleanup(ts.cleanup)
	return ts
}

func (ts *TestStore) cleanup() {
	ctx := context.Background()
	if ts.DB != nil {
		ts.DB.Close()
	}
	if ts.Container != nil {
		if err := ts.Container.Terminate(ctx); err != nil {
			ts.t.Logf("failed to terminate postgres container: %v", err)
		}
	}
}
