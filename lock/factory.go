package lock

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/sillsdev/serval-sub001/cache/inmem"
	"github.com/sillsdev/serval-sub001/errors"
	"golang.org/x/sync/singleflight"
)

var _ Service = (*Factory)(nil)

// Factory resolves named locks stored in a Store.
type Factory struct {
	config Config
	store  Store

	group singleflight.Group
	known *inmem.Cache[struct{}]
}

// NewFactory creates a lock factory on top of store.
func NewFactory(store Store, options ...Option) *Factory {
	config := defaultConfig()
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Factory{
		config: config,
		store:  store,
		known:  inmem.New[struct{}](config.ResolveCacheTTL),
	}
}

// Config returns the effective configuration.
func (f *Factory) Config() Config {
	return f.config
}

// Store returns the underlying document store.
func (f *Factory) Store() Store {
	return f.store
}

// Resolve creates the lock document when it does not exist yet. Concurrent
// callers within the process share one round trip, creation races between
// processes end with the store rejecting the duplicate.
func (f *Factory) Resolve(ctx context.Context, name string) (Locker, error) {
	return f.Lock(ctx, name)
}

// Lock is Resolve returning the concrete handle.
func (f *Factory) Lock(ctx context.Context, name string) (*RWLock, error) {
	if name == "" {
		return nil, errors.InvalidArgument("lock name must not be empty")
	}
	if err := f.ensure(ctx, name); err != nil {
		return nil, err
	}

	return &RWLock{
		name:     name,
		store:    f.store,
		config:   &f.config,
		recreate: f.recreate,
	}, nil
}

// ensure inserts the document unless name was resolved within
// ResolveCacheTTL. The shared insert is detached from the callers so one
// caller giving up does not fail the others.
func (f *Factory) ensure(ctx context.Context, name string) error {
	if _, err := f.known.Get(name); err == nil {
		return nil
	}

	ch := f.group.DoChan(name, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		if f.config.ReleaseTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.config.ReleaseTimeout)
			defer cancel()
		}

		err := f.store.Insert(ctx, Document{Name: name})
		switch {
		case errors.IsConflict(err):
		case err != nil:
			return nil, fmt.Errorf("failed to create lock '%s': %w", name, err)
		default:
			logr.FromContextOrDiscard(ctx).V(1).Info("lock created", "lock", name)
		}
		_ = f.known.Set(name, struct{}{}, f.config.ResolveCacheTTL)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return errors.Canceled("resolving lock '%s' canceled", name).Source(ctx.Err())
	}
}

// recreate forgets name and inserts its document again. Locks call it when
// the document was deleted by another host after it was resolved here.
func (f *Factory) recreate(ctx context.Context, name string) error {
	_ = f.known.Remove(name)
	return f.ensure(ctx, name)
}

// Init removes entries this host left in any lock document, typically after
// a crash. Call it once on start up before acquiring locks.
func (f *Factory) Init(ctx context.Context) error {
	n, err := f.store.UpdateAll(ctx,
		Remove(ModeWrite, ByHost(f.config.HostID)),
		Remove(ModeRead, ByHost(f.config.HostID)),
	)
	if err != nil {
		return fmt.Errorf("failed to release locks of host '%s': %w", f.config.HostID, err)
	}
	logr.FromContextOrDiscard(ctx).Info("released locks held by previous run", "host", f.config.HostID, "locks", n)
	return nil
}

// Delete removes the lock document of name.
func (f *Factory) Delete(ctx context.Context, name string) (bool, error) {
	_ = f.known.Remove(name)
	ok, err := f.store.Delete(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete lock '%s': %w", name, err)
	}
	return ok, nil
}

// Close stops background work of the factory. The store is not closed.
func (f *Factory) Close() {
	f.known.Close()
}
