// Package locktest holds the behavior every lock.Store must show, written
// as tests that backend packages run against their own store.
package locktest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/rs/xid"
	"github.com/sillsdev/serval-sub001/lock"
)

// NewStore returns a ready store. It is called once per test and should
// register its own cleanup.
type NewStore func(t *testing.T) lock.Store

// Run runs the store contract and the coordinator scenarios.
func Run(t *testing.T, newStore NewStore) {
	t.Run("Store", func(t *testing.T) {
		RunStore(t, newStore)
	})
	t.Run("Coordinator", func(t *testing.T) {
		RunCoordinator(t, newStore)
	})
}

// Context returns a context logging to t.
func Context(t *testing.T) context.Context {
	return logr.NewContext(context.Background(), testr.New(t))
}

// Name returns a lock name unique to the running test, so backends with a
// shared database do not see each other's documents.
func Name(t *testing.T) string {
	name := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	return name + "-" + xid.New().String()
}

// Eventually polls cond until it holds or the timeout passes. Unlike
// testify's helper it is safe to call from goroutines other than the test.
func Eventually(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Receive waits for a value from ch.
func Receive[T any](t *testing.T, ch chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout after %s waiting for result", timeout)
	}
	var zero T
	return zero
}
