package pgx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sillsdev/serval-sub001/notify"
)

var _ notify.Notifier = (*Notifier)(nil)

// Execer is satisfied by pgx pools, connections and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Notifier delivers events over postgres LISTEN/NOTIFY. One dedicated
// connection listens on the channel and fans events out in process.
type Notifier struct {
	config Config
	pool   *pgxpool.Pool
	conn   *pgx.Conn
	hub    *notify.Hub

	mutex   sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New takes a connection out of pool for listening.
func New(ctx context.Context, pool *pgxpool.Pool, options ...Option) (*Notifier, error) {
	config := Config{
		Channel:       DefaultChannel,
		RetryInterval: time.Second,
	}
	for _, f := range options {
		f.Apply(&config)
	}

	poolConn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}

	return &Notifier{
		config: config,
		pool:   pool,
		conn:   poolConn.Hijack(),
		hub:    notify.NewHub(),
	}, nil
}

// Channel returns the notification channel name.
func (n *Notifier) Channel() string {
	return n.config.Channel
}

// Notify sends ev through the pool.
func (n *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	return NotifyTx(context.WithoutCancel(ctx), n.pool, n.config.Channel, ev)
}

// NotifyTx sends ev with db. Inside a transaction the notification is
// delivered on commit and dropped on rollback.
func NotifyTx(ctx context.Context, db Execer, channel string, ev notify.Event) error {
	payload, err := notify.Encode(ev)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Listen starts the listener on first use and registers for name.
func (n *Notifier) Listen(ctx context.Context, name string) (notify.Listener, error) {
	if err := n.ensureListenerStarted(ctx); err != nil {
		return nil, err
	}
	return n.hub.Listen(name), nil
}

func (n *Notifier) ensureListenerStarted(ctx context.Context) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.started {
		return nil
	}

	sql := fmt.Sprintf("LISTEN %s", pgx.Identifier{n.config.Channel}.Sanitize())
	if _, err := n.conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to listen to channel: %w", err)
	}

	// the listener outlives the call that happened to start it
	var listenerCtx context.Context
	listenerCtx, n.cancel = context.WithCancel(context.WithoutCancel(ctx))
	n.done = make(chan struct{})
	n.started = true
	go n.listen(listenerCtx)
	return nil
}

func (n *Notifier) listen(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx)
	defer close(n.done)

	for {
		notification, err := n.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error(err, "failed to wait for notification")
			select {
			case <-ctx.Done():
				return
			case <-time.After(n.config.RetryInterval):
			}
			if n.conn.IsClosed() {
				if err := n.reconnect(ctx); err != nil {
					log.Error(err, "failed to reconnect listener")
				}
			}
			continue
		}

		ev, err := notify.Decode(notification.Payload)
		if err != nil {
			log.Error(err, "dropping malformed notification", "channel", notification.Channel)
			continue
		}
		n.hub.Broadcast(ev)
	}
}

// reconnect replaces a broken listen connection. Waiters rely on their
// poll interval for changes missed in between.
func (n *Notifier) reconnect(ctx context.Context) error {
	poolConn, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn := poolConn.Hijack()
	sql := fmt.Sprintf("LISTEN %s", pgx.Identifier{n.config.Channel}.Sanitize())
	if _, err := conn.Exec(ctx, sql); err != nil {
		_ = conn.Close(ctx)
		return err
	}
	n.conn = conn
	return nil
}

// Close stops the listener, closes listeners and the listen connection.
func (n *Notifier) Close(ctx context.Context) error {
	n.mutex.Lock()
	cancel, done := n.cancel, n.done
	n.mutex.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	n.hub.Close()
	return n.conn.Close(ctx)
}
