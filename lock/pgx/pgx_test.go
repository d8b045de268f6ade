package pgx

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/lock/locktest"
	notifypgx "github.com/sillsdev/serval-sub001/notify/pgx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var dsn string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	dsn = os.Getenv("TEST_DATABASE_URL")
	if dsn != "" || os.Getenv("TEST_CONTAINERS") == "" {
		return m.Run()
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("locks"),
		postgres.WithUsername("locks"),
		postgres.WithPassword("locks"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		return 1
	}
	defer func() {
		_ = testcontainers.TerminateContainer(container)
	}()

	dsn, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read connection string: %v\n", err)
		return 1
	}
	return m.Run()
}

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping pgx lock tests")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
	})

	return pool
}

func newStore(t *testing.T) lock.Store {
	t.Helper()
	ctx := context.Background()
	pool := getTestPool(t)

	notifier, err := notifypgx.New(ctx, pool, notifypgx.WithChannel("rw_locks_test"))
	if err != nil {
		t.Fatalf("notifypgx.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = notifier.Close(context.Background())
	})

	store := New(pool, notifier, WithTable("rw_locks_test"))
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

func TestStore(t *testing.T) {
	locktest.Run(t, newStore)
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	store := New(getTestPool(t), nil, WithTable("rw_locks_migrate_test"))

	for range 2 {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
	}
}
