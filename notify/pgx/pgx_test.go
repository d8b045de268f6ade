package pgx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sillsdev/serval-sub001/notify"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping pgx notify tests")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func receive(t *testing.T, l notify.Listener) notify.Event {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
	return notify.Event{}
}

func TestNotifyListen(t *testing.T) {
	ctx := context.Background()
	pool := getTestPool(t)

	n, err := New(ctx, pool, WithChannel("notify_test"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer n.Close(ctx)

	l, err := n.Listen(ctx, "engine-1")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	if err := n.Notify(ctx, notify.Event{Name: "engine-1", Revision: 5}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	ev := receive(t, l)
	if ev.Revision != 5 {
		t.Fatalf("Revision = %d, want 5", ev.Revision)
	}
}

func TestNotifyTxRollback(t *testing.T) {
	ctx := context.Background()
	pool := getTestPool(t)

	n, err := New(ctx, pool, WithChannel("notify_tx_test"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer n.Close(ctx)

	l, err := n.Listen(ctx, "engine-1")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := NotifyTx(ctx, tx, n.Channel(), notify.Event{Name: "engine-1", Revision: 1}); err != nil {
		t.Fatalf("NotifyTx() error = %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return NotifyTx(ctx, tx, n.Channel(), notify.Event{Name: "engine-1", Revision: 2})
	})
	if err != nil {
		t.Fatalf("BeginFunc() error = %v", err)
	}

	if ev := receive(t, l); ev.Revision != 2 {
		t.Fatalf("Revision = %d, want 2 (rolled back notification delivered)", ev.Revision)
	}
}
