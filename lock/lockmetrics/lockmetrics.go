// Package lockmetrics records lock wait and hold times as prometheus
// metrics.
package lockmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
)

var _ lock.Observer = (*Observer)(nil)

const outcomeOK = "ok"

// Observer implements lock.Observer. Lock names are not used as labels to
// keep cardinality bounded.
type Observer struct {
	wait     *prometheus.HistogramVec
	hold     *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rwlock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a lock to be granted.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"mode", "outcome"}),
		hold: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rwlock",
			Name:      "hold_seconds",
			Help:      "Time a granted lock was held.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"mode", "outcome"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwlock",
			Name:      "requests_total",
			Help:      "Finished lock requests by outcome.",
		}, []string{"mode", "outcome"}),
	}

	for _, c := range []prometheus.Collector{o.wait, o.hold, o.outcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) Waited(_ string, mode lock.Mode, wait time.Duration, err error) {
	o.wait.WithLabelValues(string(mode), outcome(err)).Observe(wait.Seconds())
	if err != nil {
		o.outcomes.WithLabelValues(string(mode), outcome(err)).Inc()
	}
}

func (o *Observer) Held(_ string, mode lock.Mode, held time.Duration, err error) {
	o.hold.WithLabelValues(string(mode), outcome(err)).Observe(held.Seconds())
	o.outcomes.WithLabelValues(string(mode), outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	return string(errors.AsCode(err))
}
