package locktest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hostID  = "host-a"
	timeout = 5 * time.Second
)

func newFactory(t *testing.T, store lock.Store, options ...lock.Option) *lock.Factory {
	t.Helper()
	options = append([]lock.Option{
		lock.WithHostID(hostID),
		lock.WithIDGenerator(lock.Sequence("req-")),
		lock.WithPollInterval(time.Second),
	}, options...)
	f := lock.NewFactory(store, options...)
	t.Cleanup(f.Close)
	return f
}

func resolve(t *testing.T, ctx context.Context, f *lock.Factory) *lock.RWLock {
	t.Helper()
	l, err := f.Lock(ctx, Name(t))
	require.NoError(t, err)
	return l
}

func queued(ctx context.Context, l *lock.RWLock, writers, readers int) func() bool {
	return func() bool {
		doc, err := l.Document(ctx)
		return err == nil && len(doc.WriterQueue) == writers && len(doc.ReaderSet) == readers
	}
}

// RunCoordinator checks reader/writer lock behavior on top of a store.
func RunCoordinator(t *testing.T, newStore NewStore) {
	t.Run("ReaderNoContention", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		var forReading, forWriting bool
		err := l.ReaderLock(ctx, func(ctx context.Context) error {
			var err error
			if forReading, err = l.IsAvailableForReading(ctx); err != nil {
				return err
			}
			forWriting, err = l.IsAvailableForWriting(ctx)
			return err
		})
		require.NoError(t, err)
		assert.True(t, forReading)
		assert.False(t, forWriting)

		ok, err := l.IsAvailableForReading(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("WriterNoContention", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		var forReading, forWriting bool
		err := l.WriterLock(ctx, func(ctx context.Context) error {
			forReading, _ = l.IsAvailableForReading(ctx)
			forWriting, _ = l.IsAvailableForWriting(ctx)
			return nil
		})
		require.NoError(t, err)
		assert.False(t, forReading)
		assert.False(t, forWriting)

		ok, err := l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("NestedReaders", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		inner := false
		err := l.ReaderLock(ctx, func(ctx context.Context) error {
			return l.ReaderLock(ctx, func(ctx context.Context) error {
				inner = true
				return nil
			})
		})
		require.NoError(t, err)
		assert.True(t, inner)
	})

	t.Run("WriterBlocksReader", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		var readerRan atomic.Bool
		readerDone := make(chan error, 1)
		var readerEarly bool
		err := l.WriterLock(ctx, func(context.Context) error {
			go func() {
				readerDone <- l.ReaderLock(ctx, func(context.Context) error {
					readerRan.Store(true)
					return nil
				})
			}()
			if !Eventually(queued(ctx, l, 1, 1), timeout) {
				return fmt.Errorf("reader was not enqueued")
			}
			time.Sleep(50 * time.Millisecond)
			readerEarly = readerRan.Load()
			return nil
		})
		require.NoError(t, err)
		assert.False(t, readerEarly, "reader ran while writer held the lock")
		require.NoError(t, Receive(t, readerDone, timeout))
		assert.True(t, readerRan.Load())
	})

	t.Run("CancelPendingWriter", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		held := make(chan struct{})
		releaseFirst := make(chan struct{})
		first := make(chan error, 1)
		go func() {
			first <- l.WriterLock(ctx, func(context.Context) error {
				close(held)
				<-releaseFirst
				return nil
			})
		}()
		Receive(t, held, timeout)

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		var ran atomic.Bool
		second := make(chan error, 1)
		go func() {
			second <- l.WriterLock(cctx, func(context.Context) error {
				ran.Store(true)
				return nil
			})
		}()
		require.True(t, Eventually(queued(ctx, l, 2, 0), timeout))

		cancel()
		err := Receive(t, second, timeout)
		assert.True(t, errors.IsCanceled(err), "WriterLock() error = %v, want canceled", err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ran.Load(), "callback of canceled request ran")

		doc, err := l.Document(ctx)
		require.NoError(t, err)
		require.Len(t, doc.WriterQueue, 1)
		assert.True(t, doc.WriterQueue[0].Granted)

		close(releaseFirst)
		require.NoError(t, Receive(t, first, timeout))

		ok, err := l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("CancelPendingReaderThenReacquire", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		err := l.WriterLock(ctx, func(context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
			err := l.ReaderLock(cctx, func(context.Context) error {
				return fmt.Errorf("reader must not run")
			})
			if !errors.IsCanceled(err) || !errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("ReaderLock() error = %v, want canceled", err)
			}
			return nil
		})
		require.NoError(t, err)

		ran := false
		require.NoError(t, l.ReaderLock(ctx, func(context.Context) error {
			ran = true
			return nil
		}))
		assert.True(t, ran)
	})

	t.Run("CanceledBeforeAcquire", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := l.WriterLock(cctx, func(context.Context) error {
			return fmt.Errorf("must not run")
		})
		assert.True(t, errors.IsCanceled(err))
		assert.True(t, Eventually(queued(ctx, l, 0, 0), timeout))
	})

	t.Run("LeaseExpiry", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		readerDone := make(chan error, 1)
		callbackDone := make(chan struct{})
		var readerGranted time.Time

		start := time.Now()
		err := l.WriterLock(ctx, func(context.Context) error {
			defer close(callbackDone)
			go func() {
				readerDone <- l.ReaderLock(ctx, func(context.Context) error {
					readerGranted = time.Now()
					return nil
				})
			}()
			Eventually(queued(ctx, l, 1, 1), timeout)
			// ignores cancellation on purpose
			time.Sleep(time.Until(start.Add(500 * time.Millisecond)))
			return nil
		}, lock.WithLifetime(400*time.Millisecond))
		elapsed := time.Since(start)

		assert.True(t, errors.IsTimeout(err), "WriterLock() error = %v, want timeout", err)
		assert.False(t, errors.IsCanceled(err))
		assert.GreaterOrEqual(t, elapsed, 390*time.Millisecond)
		assert.Less(t, elapsed, 500*time.Millisecond)

		require.NoError(t, Receive(t, readerDone, timeout))
		assert.True(t, readerGranted.Before(start.Add(500*time.Millisecond)),
			"reader granted %s after start, want before callback finished", readerGranted.Sub(start))
		Receive(t, callbackDone, timeout)
	})

	t.Run("LeaseCancelsCallbackContext", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		observed := make(chan error, 1)
		err := l.WriterLock(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			observed <- ctx.Err()
			return ctx.Err()
		}, lock.WithLifetime(50*time.Millisecond))

		assert.True(t, errors.IsTimeout(err), "WriterLock() error = %v, want timeout", err)
		assert.ErrorIs(t, Receive(t, observed, timeout), context.Canceled)
	})

	t.Run("DefaultLifetime", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t), lock.WithDefaultLifetime(50*time.Millisecond)))

		err := l.ReaderLock(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
		assert.True(t, errors.IsTimeout(err), "ReaderLock() error = %v, want timeout", err)

		// an explicit zero lifetime disables the default lease
		require.NoError(t, l.ReaderLock(ctx, func(context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		}, lock.WithLifetime(0)))
	})

	t.Run("WritePreference", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		var (
			mu     sync.Mutex
			values []int
		)
		record := func(v int) {
			mu.Lock()
			defer mu.Unlock()
			values = append(values, v)
		}

		errs := make(chan error, 2)
		err := l.WriterLock(ctx, func(context.Context) error {
			go func() {
				errs <- l.ReaderLock(ctx, func(context.Context) error {
					record(2)
					return nil
				})
			}()
			if !Eventually(queued(ctx, l, 1, 1), timeout) {
				return fmt.Errorf("reader was not enqueued")
			}
			go func() {
				errs <- l.WriterLock(ctx, func(context.Context) error {
					record(1)
					return nil
				})
			}()
			if !Eventually(queued(ctx, l, 2, 1), timeout) {
				return fmt.Errorf("writer was not enqueued")
			}
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, Receive(t, errs, timeout))
		require.NoError(t, Receive(t, errs, timeout))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{1, 2}, values)
	})

	t.Run("WriterFIFO", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		var (
			mu     sync.Mutex
			values []int
			inside atomic.Int32
		)
		writer := func(v int) lock.Func {
			return func(context.Context) error {
				if inside.Add(1) != 1 {
					return fmt.Errorf("writers overlap")
				}
				defer inside.Add(-1)
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				defer mu.Unlock()
				values = append(values, v)
				return nil
			}
		}

		errs := make(chan error, 2)
		err := l.WriterLock(ctx, func(context.Context) error {
			go func() { errs <- l.WriterLock(ctx, writer(1)) }()
			if !Eventually(queued(ctx, l, 2, 0), timeout) {
				return fmt.Errorf("first writer was not enqueued")
			}
			go func() { errs <- l.WriterLock(ctx, writer(2)) }()
			if !Eventually(queued(ctx, l, 3, 0), timeout) {
				return fmt.Errorf("second writer was not enqueued")
			}
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, Receive(t, errs, timeout))
		require.NoError(t, Receive(t, errs, timeout))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{1, 2}, values)
	})

	t.Run("CallbackError", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		want := fmt.Errorf("translation failed")
		err := l.WriterLock(ctx, func(context.Context) error {
			return want
		})
		assert.Equal(t, want, err)

		ok, err := l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("CallbackPanic", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		err := l.ReaderLock(ctx, func(context.Context) error {
			panic("boom")
		})
		assert.True(t, errors.IsInternal(err), "ReaderLock() error = %v, want internal", err)

		ok, err := l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("CanceledDuringExecution", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		cctx, cancel := context.WithCancel(ctx)
		err := l.WriterLock(cctx, func(ctx context.Context) error {
			cancel()
			<-ctx.Done()
			// the lock stays held until the callback returns
			ok, err := l.IsAvailableForWriting(context.Background())
			if err != nil {
				return err
			}
			if ok {
				return fmt.Errorf("lock released before callback returned")
			}
			return ctx.Err()
		})
		assert.True(t, errors.IsCanceled(err), "WriterLock() error = %v, want canceled", err)
		assert.ErrorIs(t, err, context.Canceled)

		ok, err := l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("CanceledCallbackReturnsNil", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		cctx, cancel := context.WithCancel(ctx)
		err := l.ReaderLock(cctx, func(ctx context.Context) error {
			cancel()
			return nil
		})
		assert.True(t, errors.IsCanceled(err), "ReaderLock() error = %v, want canceled", err)
		assert.ErrorIs(t, err, context.Canceled)

		ok, err := l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("NegativeLifetime", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		err := l.WriterLock(ctx, func(context.Context) error {
			return fmt.Errorf("must not run")
		}, lock.WithLifetime(-time.Second))
		assert.True(t, errors.IsInvalidArgument(err), "WriterLock() error = %v, want invalid argument", err)
	})

	t.Run("ExpiredEntryPurged", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		l := resolve(t, ctx, newFactory(t, store))

		past := time.Now().Add(-time.Minute).UTC()
		_, err := store.Update(ctx, l.Name(),
			lock.Append(lock.ModeWrite, lock.Entry{ID: "crashed-w", HostID: "crashed", Granted: true, ExpiresAt: &past}),
			lock.Append(lock.ModeRead, lock.Entry{ID: "crashed-r", HostID: "crashed", Granted: true, ExpiresAt: &past}),
		)
		require.NoError(t, err)

		ok, err := l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		require.NoError(t, l.WriterLock(cctx, func(context.Context) error { return nil }))

		doc, err := l.Document(ctx)
		require.NoError(t, err)
		assert.Empty(t, doc.WriterQueue)
		assert.Empty(t, doc.ReaderSet)
	})

	t.Run("Init", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		host := "host-" + Name(t)
		f := newFactory(t, store, lock.WithHostID(host))
		a := resolve(t, ctx, f)
		b := resolve(t, ctx, f)

		_, err := store.Update(ctx, a.Name(),
			lock.Append(lock.ModeWrite, lock.Entry{ID: "mine-w", HostID: host}),
			lock.Append(lock.ModeWrite, lock.Entry{ID: "theirs-w", HostID: "other"}),
		)
		require.NoError(t, err)
		_, err = store.Update(ctx, b.Name(),
			lock.Append(lock.ModeRead, lock.Entry{ID: "mine-r", HostID: host, Granted: true}),
		)
		require.NoError(t, err)

		require.NoError(t, f.Init(ctx))

		doc, err := a.Document(ctx)
		require.NoError(t, err)
		require.Len(t, doc.WriterQueue, 1)
		assert.Equal(t, "theirs-w", doc.WriterQueue[0].ID)

		doc, err = b.Document(ctx)
		require.NoError(t, err)
		assert.Empty(t, doc.ReaderSet)
	})

	t.Run("DeleteAndResolveAgain", func(t *testing.T) {
		ctx := Context(t)
		f := newFactory(t, newStore(t))
		l := resolve(t, ctx, f)

		ok, err := f.Delete(ctx, l.Name())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = f.Delete(ctx, l.Name())
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = l.IsAvailableForReading(ctx)
		assert.True(t, errors.IsNotFound(err))

		again, err := f.Resolve(ctx, l.Name())
		require.NoError(t, err)
		require.NoError(t, again.ReaderLock(ctx, func(context.Context) error { return nil }))
	})

	t.Run("ResolveAfterRemoteDelete", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		a := newFactory(t, store)
		b := newFactory(t, store, lock.WithHostID("host-b"))
		name := Name(t)

		_, err := a.Resolve(ctx, name)
		require.NoError(t, err)
		ok, err := b.Delete(ctx, name)
		require.NoError(t, err)
		require.True(t, ok)

		l, err := a.Resolve(ctx, name)
		require.NoError(t, err)
		require.NoError(t, l.WriterLock(ctx, func(context.Context) error { return nil }))

		doc, err := store.Get(ctx, name)
		require.NoError(t, err)
		assert.Empty(t, doc.WriterQueue)
	})

	t.Run("ConcurrentResolve", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		name := Name(t)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// separate factories so the in-process dedup does not help
				f := lock.NewFactory(store)
				defer f.Close()
				_, err := f.Resolve(ctx, name)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		doc, err := store.Get(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(1), doc.Revision)
	})

	t.Run("ResolveEmptyName", func(t *testing.T) {
		ctx := Context(t)
		_, err := newFactory(t, newStore(t)).Resolve(ctx, "")
		assert.True(t, errors.IsInvalidArgument(err))
	})

	t.Run("MutualExclusion", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		l := resolve(t, ctx, newFactory(t, store))

		var (
			readers    atomic.Int32
			writers    atomic.Int32
			violations atomic.Int32
			wg         sync.WaitGroup
		)
		errs := make(chan error, 32)
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 3 {
					var err error
					if i%2 == 0 {
						err = l.WriterLock(ctx, func(context.Context) error {
							if writers.Add(1) != 1 || readers.Load() != 0 {
								violations.Add(1)
							}
							time.Sleep(2 * time.Millisecond)
							writers.Add(-1)
							return nil
						})
					} else {
						err = l.ReaderLock(ctx, func(context.Context) error {
							readers.Add(1)
							if writers.Load() != 0 {
								violations.Add(1)
							}
							time.Sleep(2 * time.Millisecond)
							readers.Add(-1)
							return nil
						})
					}
					if err != nil {
						errs <- err
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		assert.Zero(t, violations.Load())

		ok, err := l.IsAvailableForWriting(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("GenericHelpers", func(t *testing.T) {
		ctx := Context(t)
		l := resolve(t, ctx, newFactory(t, newStore(t)))

		v, err := lock.Write(ctx, l, func(context.Context) (int, error) { return 42, nil })
		require.NoError(t, err)
		assert.Equal(t, 42, v)

		s, err := lock.Read(ctx, l, func(context.Context) (string, error) { return "", fmt.Errorf("nope") })
		assert.Error(t, err)
		assert.Empty(t, s)
	})
}
