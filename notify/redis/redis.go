package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"github.com/sillsdev/serval-sub001/notify"
)

var _ notify.Notifier = (*Notifier)(nil)

// Notifier delivers events over redis pub/sub. A single pattern
// subscription receives the events of every lock.
type Notifier struct {
	config Config
	client redis.UniversalClient
	hub    *notify.Hub

	mutex  sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// New create an instance of redis notifier implementation.
func New(client redis.UniversalClient, options ...Option) *Notifier {
	config := Config{
		Prefix:         DefaultPrefix,
		HealthInterval: 3 * time.Second,
		SendTimeout:    time.Minute,
		ChannelSize:    100,
	}

	for _, f := range options {
		f.Apply(&config)
	}
	return &Notifier{
		config: config,
		client: client,
		hub:    notify.NewHub(),
	}
}

// Channel returns the pub/sub channel of the lock name.
func (n *Notifier) Channel(name string) string {
	return n.config.Prefix + name
}

// Notify publishes ev.
func (n *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	payload, err := notify.Encode(ev)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.Channel(ev.Name), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel '%s': %w", n.Channel(ev.Name), err)
	}
	return nil
}

// PublishTx queues ev on pipe, so it is published only when the
// transaction executes.
func (n *Notifier) PublishTx(ctx context.Context, pipe redis.Pipeliner, ev notify.Event) error {
	payload, err := notify.Encode(ev)
	if err != nil {
		return err
	}
	pipe.Publish(ctx, n.Channel(ev.Name), payload)
	return nil
}

// Listen subscribes on first use and registers for name.
func (n *Notifier) Listen(ctx context.Context, name string) (notify.Listener, error) {
	if err := n.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return n.hub.Listen(name), nil
}

func (n *Notifier) ensureStarted(ctx context.Context) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.pubsub != nil {
		return nil
	}

	ps := n.client.PSubscribe(ctx, n.config.Prefix+"*")
	// wait for the confirmation so no publish after Listen is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to '%s*': %w", n.config.Prefix, err)
	}

	var runCtx context.Context
	runCtx, n.cancel = context.WithCancel(context.WithoutCancel(ctx))
	n.done = make(chan struct{})
	n.pubsub = ps
	go n.run(runCtx, ps)
	return nil
}

func (n *Notifier) run(ctx context.Context, ps *redis.PubSub) {
	defer close(n.done)

	log := logr.FromContextOrDiscard(ctx)
	ch := ps.Channel(
		redis.WithChannelHealthCheckInterval(n.config.HealthInterval),
		redis.WithChannelSendTimeout(n.config.SendTimeout),
		redis.WithChannelSize(n.config.ChannelSize),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				log.Info("redis channel was closed")
				return
			}
			ev, err := notify.Decode(msg.Payload)
			if err != nil {
				log.Error(err, "dropping malformed event", "channel", msg.Channel)
				continue
			}
			if ev.Name == "" {
				ev.Name = strings.TrimPrefix(msg.Channel, n.config.Prefix)
			}
			n.hub.Broadcast(ev)
		}
	}
}

func (n *Notifier) Close(_ context.Context) error {
	n.mutex.Lock()
	ps, cancel, done := n.pubsub, n.cancel, n.done
	n.mutex.Unlock()

	var err error
	if ps != nil {
		cancel()
		err = ps.Close()
		<-done
	}
	n.hub.Close()
	if err != nil {
		return fmt.Errorf("failed while closing subscription: %w", err)
	}
	return nil
}
