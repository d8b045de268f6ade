package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/sillsdev/serval-sub001/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, l notify.Listener) notify.Event {
	t.Helper()
	select {
	case ev, ok := <-l.Events():
		require.True(t, ok, "listener channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return notify.Event{}
}

func TestNotifyListen(t *testing.T) {
	ctx := context.Background()
	n := New()
	defer n.Close(ctx)

	l, err := n.Listen(ctx, "engine-1")
	require.NoError(t, err)
	other, err := n.Listen(ctx, "engine-2")
	require.NoError(t, err)

	require.NoError(t, n.Notify(ctx, notify.Event{Name: "engine-1", Revision: 3}))

	ev := receive(t, l)
	assert.Equal(t, "engine-1", ev.Name)
	assert.Equal(t, int64(3), ev.Revision)

	select {
	case ev := <-other.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestEventsCoalesce(t *testing.T) {
	ctx := context.Background()
	n := New()
	defer n.Close(ctx)

	l, err := n.Listen(ctx, "engine-1")
	require.NoError(t, err)

	for rev := int64(1); rev <= 5; rev++ {
		require.NoError(t, n.Notify(ctx, notify.Event{Name: "engine-1", Revision: rev}))
	}

	ev := receive(t, l)
	assert.Equal(t, int64(5), ev.Revision)

	select {
	case ev := <-l.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestListenerClose(t *testing.T) {
	ctx := context.Background()
	n := New()
	defer n.Close(ctx)

	l, err := n.Listen(ctx, "engine-1")
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, ok := <-l.Events()
	assert.False(t, ok)

	// notify after close must not panic
	require.NoError(t, n.Notify(ctx, notify.Event{Name: "engine-1", Revision: 1}))
}

func TestCloseNotifier(t *testing.T) {
	ctx := context.Background()
	n := New()

	l, err := n.Listen(ctx, "engine-1")
	require.NoError(t, err)
	require.NoError(t, n.Close(ctx))

	_, ok := <-l.Events()
	assert.False(t, ok)
	require.NoError(t, l.Close())

	late, err := n.Listen(ctx, "engine-1")
	require.NoError(t, err)
	_, ok = <-late.Events()
	assert.False(t, ok)
}
