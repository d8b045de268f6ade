package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sillsdev/serval-sub001/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	revisions map[string]int64
}

func (f *fakeSource) set(name string, rev int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rev == 0 {
		delete(f.revisions, name)
		return
	}
	f.revisions[name] = rev
}

func (f *fakeSource) Revisions(_ context.Context, names []string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(names))
	for _, name := range names {
		if rev, ok := f.revisions[name]; ok {
			out[name] = rev
		}
	}
	return out, nil
}

func next(t *testing.T, l notify.Listener) notify.Event {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return notify.Event{}
}

func TestPollDetectsChanges(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{revisions: map[string]int64{"engine-1": 1}}
	n := New(source, WithPollInterval(10*time.Millisecond))
	defer n.Close(ctx)

	l, err := n.Listen(ctx, "engine-1")
	require.NoError(t, err)

	assert.Equal(t, notify.Event{Name: "engine-1", Revision: 1}, next(t, l))

	source.set("engine-1", 4)
	assert.Equal(t, notify.Event{Name: "engine-1", Revision: 4}, next(t, l))

	source.set("engine-1", 0)
	assert.Equal(t, notify.Event{Name: "engine-1", Deleted: true}, next(t, l))
}

func TestNotifyIsImmediate(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{revisions: map[string]int64{}}
	n := New(source, WithPollInterval(time.Hour))
	defer n.Close(ctx)

	l, err := n.Listen(ctx, "engine-1")
	require.NoError(t, err)

	require.NoError(t, n.Notify(ctx, notify.Event{Name: "engine-1", Revision: 2}))
	assert.Equal(t, int64(2), next(t, l).Revision)
}

func TestCloseWithoutStart(t *testing.T) {
	n := New(&fakeSource{revisions: map[string]int64{}})
	require.NoError(t, n.Close(context.Background()))
}
