package locktest

import (
	"context"
	"testing"
	"time"

	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStore checks the lock.Store contract.
func RunStore(t *testing.T, newStore NewStore) {
	t.Run("InsertGet", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		name := Name(t)

		require.NoError(t, store.Insert(ctx, lock.Document{Name: name}))

		doc, err := store.Get(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, name, doc.Name)
		assert.Equal(t, int64(1), doc.Revision)
		assert.Empty(t, doc.WriterQueue)
		assert.Empty(t, doc.ReaderSet)

		err = store.Insert(ctx, lock.Document{Name: name})
		assert.True(t, errors.IsConflict(err), "Insert() duplicate error = %v, want conflict", err)
	})

	t.Run("Missing", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		name := Name(t)

		_, err := store.Get(ctx, name)
		assert.True(t, errors.IsNotFound(err), "Get() error = %v, want not found", err)

		_, err = store.Update(ctx, name, lock.Append(lock.ModeRead, lock.Entry{ID: "r1"}))
		assert.True(t, errors.IsNotFound(err), "Update() error = %v, want not found", err)

		ok, err := store.Delete(ctx, name)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdateRevision", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		name := Name(t)
		require.NoError(t, store.Insert(ctx, lock.Document{Name: name}))

		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
		doc, err := store.Update(ctx, name,
			lock.Append(lock.ModeWrite, lock.Entry{ID: "w1", HostID: "h1"}),
			lock.Grant(lock.ModeWrite, "w1", time.Now(), &expires),
		)
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Revision)
		require.Len(t, doc.WriterQueue, 1)
		assert.True(t, doc.WriterQueue[0].Granted)
		require.NotNil(t, doc.WriterQueue[0].ExpiresAt)
		assert.True(t, expires.Equal(*doc.WriterQueue[0].ExpiresAt))
		assert.Equal(t, "h1", doc.WriterQueue[0].HostID)

		// no-op mutations keep the revision
		doc, err = store.Update(ctx, name, lock.Remove(lock.ModeRead, lock.ByID("missing")))
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Revision)

		got, err := store.Get(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, doc.Revision, got.Revision)
		assert.Equal(t, doc.WriterQueue[0].ID, got.WriterQueue[0].ID)
	})

	t.Run("UpdateAll", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		a, b := Name(t), Name(t)
		require.NoError(t, store.Insert(ctx, lock.Document{Name: a}))
		require.NoError(t, store.Insert(ctx, lock.Document{Name: b}))

		host := "host-" + Name(t)
		_, err := store.Update(ctx, a, lock.Append(lock.ModeRead, lock.Entry{ID: "r1", HostID: host}))
		require.NoError(t, err)
		_, err = store.Update(ctx, b, lock.Append(lock.ModeRead, lock.Entry{ID: "r2", HostID: "other"}))
		require.NoError(t, err)

		n, err := store.UpdateAll(ctx, lock.Remove(lock.ModeRead, lock.ByHost(host)))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		doc, err := store.Get(ctx, a)
		require.NoError(t, err)
		assert.Empty(t, doc.ReaderSet)
		doc, err = store.Get(ctx, b)
		require.NoError(t, err)
		assert.Len(t, doc.ReaderSet, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		name := Name(t)
		require.NoError(t, store.Insert(ctx, lock.Document{Name: name}))

		ok, err := store.Delete(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = store.Get(ctx, name)
		assert.True(t, errors.IsNotFound(err))

		// a deleted name can be created again
		require.NoError(t, store.Insert(ctx, lock.Document{Name: name}))
	})

	t.Run("SubscribeUpdate", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		name := Name(t)
		require.NoError(t, store.Insert(ctx, lock.Document{Name: name}))

		sub, err := store.Subscribe(ctx, name)
		require.NoError(t, err)
		defer sub.Close()
		assert.Equal(t, int64(1), sub.Change().Document.Revision)

		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = store.Update(ctx, name, lock.Append(lock.ModeRead, lock.Entry{ID: "r1"}))
		}()

		require.NoError(t, sub.WaitForChange(ctx, 5*time.Second))
		change := sub.Change()
		assert.Equal(t, lock.ChangeUpdate, change.Type)
		require.NotNil(t, change.Document)
		assert.Equal(t, int64(2), change.Document.Revision)
		assert.Len(t, change.Document.ReaderSet, 1)
	})

	t.Run("SubscribeDelete", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		name := Name(t)
		require.NoError(t, store.Insert(ctx, lock.Document{Name: name}))

		sub, err := store.Subscribe(ctx, name)
		require.NoError(t, err)
		defer sub.Close()

		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = store.Delete(ctx, name)
		}()

		require.NoError(t, sub.WaitForChange(ctx, 5*time.Second))
		assert.Equal(t, lock.ChangeDelete, sub.Change().Type)
		assert.Nil(t, sub.Change().Document)
	})

	t.Run("SubscribeTimeout", func(t *testing.T) {
		ctx := Context(t)
		store := newStore(t)
		name := Name(t)
		require.NoError(t, store.Insert(ctx, lock.Document{Name: name}))

		sub, err := store.Subscribe(ctx, name)
		require.NoError(t, err)
		defer sub.Close()

		start := time.Now()
		require.NoError(t, sub.WaitForChange(ctx, 50*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		assert.Equal(t, lock.ChangeNone, sub.Change().Type)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err = sub.WaitForChange(cctx, 0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
