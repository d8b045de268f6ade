package lock

import (
	"context"
	"sync"
	"time"

	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/notify"
)

// GetFunc loads a lock document by name.
type GetFunc func(ctx context.Context, name string) (*Document, error)

type subscription struct {
	name     string
	get      GetFunc
	listener notify.Listener

	mu     sync.Mutex
	change Change
}

// NewSubscription builds a Subscription from a document loader and a change
// listener. The listener must be registered before the initial load so no
// change between the two is lost.
func NewSubscription(ctx context.Context, name string, get GetFunc, listener notify.Listener) (Subscription, error) {
	s := &subscription{
		name:     name,
		get:      get,
		listener: listener,
	}

	doc, err := get(ctx, name)
	switch {
	case errors.IsNotFound(err):
	case err != nil:
		_ = listener.Close()
		return nil, err
	default:
		s.change = Change{Type: ChangeNone, Document: doc}
	}
	return s, nil
}

func (s *subscription) Change() Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.change
}

func (s *subscription) revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.change.Document == nil {
		return 0
	}
	return s.change.Document.Revision
}

func (s *subscription) WaitForChange(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			return nil
		case ev, ok := <-s.listener.Events():
			if !ok {
				return errors.Aborted("subscription to lock '%s' was closed", s.name)
			}
			changed, err := s.observe(ctx, ev)
			if err != nil {
				return err
			}
			if changed {
				return nil
			}
		}
	}
}

func (s *subscription) observe(ctx context.Context, ev notify.Event) (bool, error) {
	current := s.revision()
	if ev.Deleted {
		s.set(Change{Type: ChangeDelete})
		return true, nil
	}
	if ev.Revision <= current {
		return false, nil
	}

	doc, err := s.get(ctx, s.name)
	if errors.IsNotFound(err) {
		s.set(Change{Type: ChangeDelete})
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if doc.Revision <= current {
		return false, nil
	}

	typ := ChangeUpdate
	if current == 0 {
		typ = ChangeInsert
	}
	s.set(Change{Type: typ, Document: doc})
	return true, nil
}

func (s *subscription) set(c Change) {
	s.mu.Lock()
	s.change = c
	s.mu.Unlock()
}

func (s *subscription) Close() error {
	return s.listener.Close()
}
