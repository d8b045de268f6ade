package poll

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sillsdev/serval-sub001/notify"
)

var _ notify.Notifier = (*Notifier)(nil)

// Source reports the current revision of documents. Names missing from the
// result no longer exist.
type Source interface {
	Revisions(ctx context.Context, names []string) (map[string]int64, error)
}

// Notifier detects changes by periodically comparing revisions of the
// listened documents. Events passed to Notify are delivered to local
// listeners right away, so only changes made by other processes wait for
// the next tick.
type Notifier struct {
	source Source
	config Config
	hub    *notify.Hub

	mutex sync.Mutex
	seen  map[string]int64

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller over source.
func New(source Source, options ...Option) *Notifier {
	config := Config{
		PollInterval: time.Second,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Notifier{
		source: source,
		config: config,
		hub:    notify.NewHub(),
		seen:   make(map[string]int64),
	}
}

func (n *Notifier) Notify(_ context.Context, ev notify.Event) error {
	n.mutex.Lock()
	if ev.Deleted {
		delete(n.seen, ev.Name)
	} else if ev.Revision > n.seen[ev.Name] {
		n.seen[ev.Name] = ev.Revision
	}
	n.mutex.Unlock()

	n.hub.Broadcast(ev)
	return nil
}

func (n *Notifier) Listen(ctx context.Context, name string) (notify.Listener, error) {
	n.start(ctx)
	return n.hub.Listen(name), nil
}

// start begins polling. Safe to call multiple times.
func (n *Notifier) start(ctx context.Context) {
	n.once.Do(func() {
		ctx, n.cancel = context.WithCancel(context.WithoutCancel(ctx))
		n.done = make(chan struct{})
		go n.run(ctx)
	})
}

// Close stops polling and closes every listener.
func (n *Notifier) Close(_ context.Context) error {
	n.once.Do(func() {})
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
	n.hub.Close()
	return nil
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)

	log := logr.FromContextOrDiscard(ctx)
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.poll(ctx, log)
		}
	}
}

func (n *Notifier) poll(ctx context.Context, log logr.Logger) {
	names := n.hub.Names()
	if len(names) == 0 {
		return
	}

	revisions, err := n.source.Revisions(ctx, names)
	if err != nil {
		if ctx.Err() == nil {
			log.Error(err, "poll: fetch revisions")
		}
		return
	}

	var events []notify.Event
	n.mutex.Lock()
	for _, name := range names {
		rev, ok := revisions[name]
		seen, known := n.seen[name]
		switch {
		case !ok && known:
			delete(n.seen, name)
			events = append(events, notify.Event{Name: name, Deleted: true})
		case ok && rev != seen:
			n.seen[name] = rev
			events = append(events, notify.Event{Name: name, Revision: rev})
		}
	}
	n.mutex.Unlock()

	for _, ev := range events {
		n.hub.Broadcast(ev)
	}
}
