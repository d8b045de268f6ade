package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/sillsdev/serval-sub001/errors"
)

var _ Locker = (*RWLock)(nil)

// RWLock is a handle to one named lock document. Every acquire call runs
// its own wait loop against the store, there is no local state to share.
type RWLock struct {
	name   string
	store  Store
	config *Config

	recreate func(ctx context.Context, name string) error
}

func (l *RWLock) Name() string {
	return l.name
}

func (l *RWLock) ReaderLock(ctx context.Context, fn Func, options ...AcquireOption) error {
	return l.run(ctx, ModeRead, fn, options)
}

func (l *RWLock) WriterLock(ctx context.Context, fn Func, options ...AcquireOption) error {
	return l.run(ctx, ModeWrite, fn, options)
}

// Document returns the current state of the lock document.
func (l *RWLock) Document(ctx context.Context) (*Document, error) {
	return l.store.Get(ctx, l.name)
}

func (l *RWLock) IsAvailableForReading(ctx context.Context) (bool, error) {
	doc, err := l.store.Get(ctx, l.name)
	if err != nil {
		return false, err
	}
	return doc.IsAvailableForReading(time.Now()), nil
}

func (l *RWLock) IsAvailableForWriting(ctx context.Context) (bool, error) {
	doc, err := l.store.Get(ctx, l.name)
	if err != nil {
		return false, err
	}
	return doc.IsAvailableForWriting(time.Now()), nil
}

func (l *RWLock) run(ctx context.Context, mode Mode, fn Func, options []AcquireOption) error {
	acquire := AcquireConfig{
		Lifetime: l.config.DefaultLifetime,
	}
	for _, opt := range options {
		opt.Apply(&acquire)
	}
	if acquire.Lifetime < 0 {
		return errors.InvalidArgument("lock lifetime must not be negative, got %s", acquire.Lifetime)
	}
	if err := ctx.Err(); err != nil {
		return l.canceled(mode, err)
	}

	id := l.config.IDGenerator.NewID()
	log := logr.FromContextOrDiscard(ctx).WithValues("lock", l.name, "mode", mode, "request", id)

	start := time.Now()
	expiresAt, err := l.acquire(ctx, mode, id, acquire.Lifetime, log)
	l.config.Observer.Waited(l.name, mode, time.Since(start), err)
	if err != nil {
		return err
	}
	log.V(1).Info("lock granted", "wait", time.Since(start))

	start = time.Now()
	err = l.execute(ctx, mode, id, expiresAt, fn, log)
	l.config.Observer.Held(l.name, mode, time.Since(start), err)
	return err
}

// acquire enqueues the request and waits until it is granted. On any
// failure the entry is removed again before returning.
func (l *RWLock) acquire(ctx context.Context, mode Mode, id string, lifetime time.Duration, log logr.Logger) (*time.Time, error) {
	entry := Entry{
		ID:     id,
		HostID: l.config.HostID,
	}
	_, err := l.store.Update(ctx, l.name, Append(mode, entry))
	if errors.IsNotFound(err) && l.recreate != nil {
		log.V(1).Info("lock document gone, creating it again")
		if err = l.recreate(ctx, l.name); err == nil {
			_, err = l.store.Update(ctx, l.name, Append(mode, entry))
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			l.release(ctx, mode, id, log)
			return nil, l.canceled(mode, ctx.Err())
		}
		return nil, fmt.Errorf("failed to enqueue %s request on lock '%s': %w", mode, l.name, err)
	}
	log.V(1).Info("lock request enqueued")

	fail := func(err error) (*time.Time, error) {
		l.release(ctx, mode, id, log)
		if ctx.Err() != nil {
			return nil, l.canceled(mode, ctx.Err())
		}
		return nil, err
	}

	sub, err := l.store.Subscribe(ctx, l.name)
	if err != nil {
		return fail(fmt.Errorf("failed to subscribe to lock '%s': %w", l.name, err))
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Error(err, "failed to close lock subscription")
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		now := time.Now()
		var expiresAt *time.Time
		if lifetime > 0 {
			t := now.Add(lifetime).UTC()
			expiresAt = &t
		}

		doc, err := l.store.Update(ctx, l.name,
			Remove(ModeWrite, Expired(now)),
			Remove(ModeRead, Expired(now)),
			Grant(mode, id, now, expiresAt),
		)
		if errors.IsNotFound(err) {
			return fail(errors.Aborted("lock '%s' was deleted while waiting", l.name).Source(err))
		}
		if err != nil {
			return fail(fmt.Errorf("failed to acquire %s lock '%s': %w", mode, l.name, err))
		}

		e, ok := doc.Find(mode, id)
		if !ok {
			// removed by another host, e.g. Init or Delete
			return fail(errors.Aborted("%s request %s was removed from lock '%s'", mode, id, l.name))
		}
		if e.Granted {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			return e.ExpiresAt, nil
		}

		if err := sub.WaitForChange(ctx, l.waitTimeout(doc, now)); err != nil {
			return fail(err)
		}
	}
}

// waitTimeout is the time until the earliest lease among the current
// holders ends, capped by the poll interval.
func (l *RWLock) waitTimeout(doc *Document, now time.Time) time.Duration {
	timeout := l.config.PollInterval
	if next, ok := doc.NextExpiry(now); ok {
		d := next.Sub(now)
		if d < time.Millisecond {
			d = time.Millisecond
		}
		if timeout <= 0 || d < timeout {
			timeout = d
		}
	}
	return timeout
}

// execute runs fn while the lock is held and releases the lock when fn
// returns or the lease ends, whichever happens first.
func (l *RWLock) execute(ctx context.Context, mode Mode, id string, expiresAt *time.Time, fn Func, log logr.Logger) error {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Internal("%s lock '%s' callback panicked: %v", mode, l.name, r)
			}
		}()
		done <- fn(execCtx)
	}()

	var lease <-chan time.Time
	if expiresAt != nil {
		timer := time.NewTimer(time.Until(*expiresAt))
		defer timer.Stop()
		lease = timer.C
	}

	select {
	case err := <-done:
		l.release(ctx, mode, id, log)
		if ctx.Err() != nil {
			if err == nil {
				err = ctx.Err()
			}
			return l.canceled(mode, err)
		}
		return err
	case <-lease:
		cancel()
		l.release(ctx, mode, id, log)
		log.Info("lock lease expired, request evicted")
		return errors.Timeout("%s lock '%s' lease expired", mode, l.name)
	}
}

// release removes the entry. It runs detached from ctx so a canceled caller
// never leaves an orphaned entry behind.
func (l *RWLock) release(ctx context.Context, mode Mode, id string, log logr.Logger) {
	ctx = context.WithoutCancel(ctx)
	if l.config.ReleaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.ReleaseTimeout)
		defer cancel()
	}
	_, err := l.store.Update(ctx, l.name, Remove(mode, ByID(id)))
	if errors.IsNotFound(err) {
		log.V(1).Info("lock document gone, nothing to release")
		return
	}
	if err != nil {
		log.Error(err, "failed to release lock")
		return
	}
	log.V(1).Info("lock released")
}

func (l *RWLock) canceled(mode Mode, err error) error {
	return errors.Canceled("%s lock '%s' canceled", mode, l.name).Source(err)
}
