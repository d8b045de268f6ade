package lock

import "context"

// Func is the work executed while a lock is held. The context is canceled
// when the caller gives up or the lease expires.
type Func func(ctx context.Context) error

// Locker represents a named distributed reader/writer lock.
type Locker interface {
	// Name returns the lock name.
	Name() string

	// ReaderLock waits for shared access, runs fn and releases the lock.
	// Readers run concurrently as long as no writer is queued.
	ReaderLock(ctx context.Context, fn Func, options ...AcquireOption) error

	// WriterLock waits for exclusive access, runs fn and releases the lock.
	// Writers are served in arrival order and take precedence over
	// readers that are not yet granted.
	WriterLock(ctx context.Context, fn Func, options ...AcquireOption) error

	// IsAvailableForReading reports whether no writer is queued or active.
	IsAvailableForReading(ctx context.Context) (bool, error)

	// IsAvailableForWriting reports whether the lock is completely idle.
	IsAvailableForWriting(ctx context.Context) (bool, error)
}

// Service resolves named locks backed by a shared Store.
type Service interface {
	// Resolve makes sure the lock document exists and returns a handle to it.
	Resolve(ctx context.Context, name string) (Locker, error)

	// Init removes every queue and set entry left behind by a previous run
	// of this host.
	Init(ctx context.Context) error

	// Delete removes the lock document. It reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Read runs fn under a reader lock and returns its value.
func Read[T any](ctx context.Context, l Locker, fn func(ctx context.Context) (T, error), options ...AcquireOption) (T, error) {
	return withResult(ctx, l.ReaderLock, fn, options)
}

// Write runs fn under a writer lock and returns its value.
func Write[T any](ctx context.Context, l Locker, fn func(ctx context.Context) (T, error), options ...AcquireOption) (T, error) {
	return withResult(ctx, l.WriterLock, fn, options)
}

func withResult[T any](
	ctx context.Context,
	acquire func(context.Context, Func, ...AcquireOption) error,
	fn func(ctx context.Context) (T, error),
	options []AcquireOption,
) (T, error) {
	// fn may still be running after a lease timeout, so the value is
	// handed over through a channel instead of a shared variable.
	out := make(chan T, 1)
	err := acquire(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out <- v
		return nil
	}, options...)

	var zero T
	if err != nil {
		return zero, err
	}
	select {
	case v := <-out:
		return v, nil
	default:
		return zero, nil
	}
}
