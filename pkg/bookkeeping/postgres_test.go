package bookkeeping_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigil-video/vigil/pkg/bookkeeping"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VIGIL_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VIGIL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VIGIL_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store against a clean schema and registers cleanup.
func newTestStore(t *testing.T) *bookkeeping.Store {
	t.Helper()
	ctx := context.Background()
	dsn := testDSN(t)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS session_events; DROP TABLE IF EXISTS sessions;`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := bookkeeping.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return store
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema call %d: %v", i+1, err)
		}
	}
}

func TestInsertSessionDuplicateIsNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertSession(ctx, "sess-1", "room-a"); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	if err := store.InsertSession(ctx, "sess-1", "room-b"); err != nil {
		t.Fatalf("duplicate InsertSession should be a no-op, got: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertSession(ctx, "sess-2", "room-a"); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	if err := store.InsertSessionEvent(ctx, "sess-2", "safety", map[string]any{"flags": []string{"nudity"}}); err != nil {
		t.Fatalf("InsertSessionEvent: %v", err)
	}
	if err := store.UpdateSessionEnd(ctx, "sess-2", "egress-42"); err != nil {
		t.Fatalf("UpdateSessionEnd: %v", err)
	}
}
