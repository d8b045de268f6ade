package inmem

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/notify"
	notifyinmem "github.com/sillsdev/serval-sub001/notify/inmem"
)

var _ lock.Store = (*Store)(nil)

// Store implements lock.Store in process memory. Every operation holds one
// mutex, change events are sent before it is released so listeners observe
// revisions in order.
type Store struct {
	mu       sync.Mutex
	docs     map[string]*lock.Document
	notifier *notifyinmem.Notifier
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		docs:     make(map[string]*lock.Document),
		notifier: notifyinmem.New(),
	}
}

func (s *Store) Insert(ctx context.Context, doc lock.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.Name]; ok {
		return errors.Conflict("lock '%s' already exists", doc.Name)
	}

	stored := doc.Clone()
	stored.Revision = 1
	s.docs[doc.Name] = stored
	s.notify(ctx, notify.Event{Name: doc.Name, Revision: stored.Revision})
	return nil
}

func (s *Store) Get(_ context.Context, name string) (*lock.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[name]
	if !ok {
		return nil, errors.NotFound("lock '%s' not found", name)
	}
	return doc.Clone(), nil
}

func (s *Store) Update(ctx context.Context, name string, muts ...lock.Mutation) (*lock.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[name]
	if !ok {
		return nil, errors.NotFound("lock '%s' not found", name)
	}
	s.apply(ctx, doc, muts)
	return doc.Clone(), nil
}

func (s *Store) UpdateAll(ctx context.Context, muts ...lock.Mutation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, doc := range s.docs {
		if s.apply(ctx, doc, muts) {
			n++
		}
	}
	return n, nil
}

func (s *Store) apply(ctx context.Context, doc *lock.Document, muts []lock.Mutation) bool {
	if !lock.Apply(doc, muts...) {
		return false
	}
	doc.Revision++
	s.notify(ctx, notify.Event{Name: doc.Name, Revision: doc.Revision})
	return true
}

func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[name]; !ok {
		return false, nil
	}
	delete(s.docs, name)
	s.notify(ctx, notify.Event{Name: name, Deleted: true})
	return true, nil
}

func (s *Store) Subscribe(ctx context.Context, name string) (lock.Subscription, error) {
	listener, err := s.notifier.Listen(ctx, name)
	if err != nil {
		return nil, err
	}
	return lock.NewSubscription(ctx, name, s.Get, listener)
}

// Close closes every open subscription.
func (s *Store) Close(ctx context.Context) error {
	return s.notifier.Close(ctx)
}

func (s *Store) notify(ctx context.Context, ev notify.Event) {
	if err := s.notifier.Notify(ctx, ev); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "failed to notify lock change", "lock", ev.Name)
	}
}
