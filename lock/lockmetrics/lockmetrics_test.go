package lockmetrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/lock/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	o, err := New(reg)
	require.NoError(t, err)

	o.Waited("a", lock.ModeRead, time.Millisecond, nil)
	o.Held("a", lock.ModeRead, time.Millisecond, nil)
	o.Waited("a", lock.ModeWrite, time.Second, errors.Canceled("canceled"))
	o.Held("a", lock.ModeWrite, time.Second, errors.Timeout("lease expired"))

	assert.Equal(t, 1.0, testutil.ToFloat64(o.outcomes.WithLabelValues("read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.outcomes.WithLabelValues("write", "canceled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.outcomes.WithLabelValues("write", "timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(o.wait))
	assert.Equal(t, 2, testutil.CollectAndCount(o.hold))
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestWithFactory(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	o, err := New(reg)
	require.NoError(t, err)

	store := inmem.New()
	defer store.Close(ctx)
	factory := lock.NewFactory(store, lock.WithObserver(o))
	defer factory.Close()

	l, err := factory.Resolve(ctx, "engine-1")
	require.NoError(t, err)
	require.NoError(t, l.WriterLock(ctx, func(context.Context) error { return nil }))

	assert.Equal(t, 1.0, testutil.ToFloat64(o.outcomes.WithLabelValues("write", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.wait))
}
