package lock_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/lock/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*inmem.Store
	subscribeErr error
}

func (s *failingStore) Subscribe(ctx context.Context, name string) (lock.Subscription, error) {
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	return s.Store.Subscribe(ctx, name)
}

type observation struct {
	kind string
	mode lock.Mode
	err  error
}

type recorder struct {
	mu   sync.Mutex
	seen []observation
}

func (r *recorder) Waited(_ string, mode lock.Mode, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{kind: "waited", mode: mode, err: err})
}

func (r *recorder) Held(_ string, mode lock.Mode, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{kind: "held", mode: mode, err: err})
}

func TestSubscribeFailureRemovesEntry(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	store := &failingStore{Store: inmem.New()}
	f := lock.NewFactory(store)
	defer f.Close()

	l, err := f.Lock(ctx, "engine-1")
	require.NoError(t, err)

	store.subscribeErr = errors.New("connection refused")
	err = l.WriterLock(ctx, func(context.Context) error {
		return fmt.Errorf("must not run")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	doc, err := l.Document(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.WriterQueue)
}

func TestRemovedWhileWaiting(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	store := inmem.New()
	f := lock.NewFactory(store, lock.WithIDGenerator(lock.Sequence("req-")))
	defer f.Close()

	l, err := f.Lock(ctx, "engine-1")
	require.NoError(t, err)

	err = l.WriterLock(ctx, func(context.Context) error {
		done := make(chan error, 1)
		go func() {
			done <- l.ReaderLock(ctx, func(context.Context) error { return nil })
		}()
		time.Sleep(50 * time.Millisecond)
		// another host wipes the pending reader
		if _, err := store.Update(ctx, "engine-1", lock.Remove(lock.ModeRead, lock.ByID("req-2"))); err != nil {
			return err
		}
		if err := <-done; !errors.IsAborted(err) {
			return fmt.Errorf("ReaderLock() error = %v, want aborted", err)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestDeletedWhileWaiting(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	store := inmem.New()
	f := lock.NewFactory(store)
	defer f.Close()

	l, err := f.Lock(ctx, "engine-1")
	require.NoError(t, err)

	err = l.WriterLock(ctx, func(context.Context) error {
		done := make(chan error, 1)
		go func() {
			done <- l.ReaderLock(ctx, func(context.Context) error { return nil })
		}()
		time.Sleep(50 * time.Millisecond)
		if _, err := f.Delete(ctx, "engine-1"); err != nil {
			return err
		}
		if err := <-done; !errors.IsAborted(err) {
			return fmt.Errorf("ReaderLock() error = %v, want aborted", err)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestObserver(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	f := lock.NewFactory(inmem.New(), lock.WithObserver(rec))
	defer f.Close()

	l, err := f.Lock(ctx, "engine-1")
	require.NoError(t, err)

	require.NoError(t, l.ReaderLock(ctx, func(context.Context) error { return nil }))
	err = l.WriterLock(ctx, func(context.Context) error { return nil }, lock.WithLifetime(-1))
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.seen, 2)
	assert.Equal(t, observation{kind: "waited", mode: lock.ModeRead}, rec.seen[0])
	assert.Equal(t, observation{kind: "held", mode: lock.ModeRead}, rec.seen[1])
}

func TestFactoryResolveCachesKnownNames(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	f := lock.NewFactory(store)
	defer f.Close()

	_, err := f.Resolve(ctx, "engine-1")
	require.NoError(t, err)

	// removed behind the factory's back, the memo still answers
	_, err = store.Delete(ctx, "engine-1")
	require.NoError(t, err)
	l, err := f.Resolve(ctx, "engine-1")
	require.NoError(t, err)
	assert.Equal(t, "engine-1", l.Name())

	_, err = store.Get(ctx, "engine-1")
	assert.True(t, errors.IsNotFound(err))

	// acquiring through the stale handle creates the document again
	require.NoError(t, l.ReaderLock(ctx, func(context.Context) error { return nil }))
	_, err = store.Get(ctx, "engine-1")
	require.NoError(t, err)
}

type blockingStore struct {
	*inmem.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Insert(ctx context.Context, doc lock.Document) error {
	close(s.entered)
	<-s.release
	return s.Store.Insert(ctx, doc)
}

func TestResolveCanceledCallerDoesNotFailOthers(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		Store:   inmem.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := lock.NewFactory(store)
	defer f.Close()

	cctx, cancel := context.WithCancel(ctx)
	first := make(chan error, 1)
	go func() {
		_, err := f.Resolve(cctx, "engine-1")
		first <- err
	}()
	<-store.entered

	second := make(chan error, 1)
	go func() {
		_, err := f.Resolve(ctx, "engine-1")
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-first
	assert.True(t, errors.IsCanceled(err), "Resolve() error = %v, want canceled", err)

	close(store.release)
	require.NoError(t, <-second)

	_, err = store.Get(ctx, "engine-1")
	require.NoError(t, err)
}
