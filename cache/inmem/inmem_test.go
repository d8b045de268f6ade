package inmem

import (
	"testing"
	"time"

	"github.com/sillsdev/serval-sub001/errors"
)

func TestSetGet(t *testing.T) {
	c := New[int](0)
	defer c.Close()

	if err := c.Set("a", 1, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	v, err := c.Get("a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != 1 {
		t.Fatalf("Get() = %d, want 1", v)
	}
}

func TestGetExpired(t *testing.T) {
	c := New[int](0)
	defer c.Close()

	_ = c.Set("a", 1, -time.Second)

	_, err := c.Get("a")
	if !errors.IsNotFound(err) {
		t.Fatalf("Get() error = %v, want not found", err)
	}
}

func TestRemove(t *testing.T) {
	c := New[string](0)
	defer c.Close()

	_ = c.Set("a", "x", time.Minute)
	_ = c.Set("b", "y", time.Minute)

	_ = c.Remove("a", "b")
	if _, err := c.Get("a"); err != ErrNotFound {
		t.Fatalf("Get() after Remove error = %v, want %v", err, ErrNotFound)
	}
	if _, err := c.Get("b"); err != ErrNotFound {
		t.Fatalf("Get() after Remove error = %v, want %v", err, ErrNotFound)
	}
}

func TestSweeper(t *testing.T) {
	c := New[int](10 * time.Millisecond)
	defer c.Close()

	_ = c.Set("a", 1, time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		n := len(c.items)
		c.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweeper did not remove expired item")
}
