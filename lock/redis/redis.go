package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/notify"
	notifyredis "github.com/sillsdev/serval-sub001/notify/redis"
)

var _ lock.Store = (*Store)(nil)

// Store implements lock.Store with one JSON value per lock. Writes use
// WATCH/MULTI/EXEC and publish the change event inside the same
// transaction.
type Store struct {
	config   Config
	client   redis.UniversalClient
	notifier *notifyredis.Notifier
}

// New creates a store on client. notifier must use the same server.
func New(client redis.UniversalClient, notifier *notifyredis.Notifier, options ...Option) *Store {
	config := Config{
		KeyPrefix:    DefaultKeyPrefix,
		IndexKey:     DefaultIndexKey,
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: 10 * time.Millisecond,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Store{
		config:   config,
		client:   client,
		notifier: notifier,
	}
}

func (s *Store) key(name string) string {
	return s.config.KeyPrefix + name
}

func (s *Store) Insert(ctx context.Context, doc lock.Document) error {
	stored := doc.Clone()
	stored.Revision = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode lock '%s': %w", doc.Name, err)
	}

	key := s.key(doc.Name)
	return s.retry(ctx, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("failed to check lock '%s': %w", doc.Name, err)
			}
			if n > 0 {
				return errors.Conflict("lock '%s' already exists", doc.Name)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.SAdd(ctx, s.config.IndexKey, doc.Name)
				return s.publish(ctx, pipe, notify.Event{Name: doc.Name, Revision: 1})
			})
			return err
		}, key)
	})
}

func (s *Store) Get(ctx context.Context, name string) (*lock.Document, error) {
	return s.get(ctx, s.client, name)
}

func (s *Store) Update(ctx context.Context, name string, muts ...lock.Mutation) (*lock.Document, error) {
	var doc *lock.Document
	err := s.retry(ctx, func() error {
		var err error
		doc, _, err = s.update(ctx, name, muts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) UpdateAll(ctx context.Context, muts ...lock.Mutation) (int, error) {
	names, err := s.client.SMembers(ctx, s.config.IndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list locks: %w", err)
	}

	n := 0
	for _, name := range names {
		var changed bool
		err := s.retry(ctx, func() error {
			var err error
			_, changed, err = s.update(ctx, name, muts)
			return err
		})
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func (s *Store) update(ctx context.Context, name string, muts []lock.Mutation) (*lock.Document, bool, error) {
	var (
		doc     *lock.Document
		changed bool
	)
	key := s.key(name)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var err error
		doc, err = s.get(ctx, tx, name)
		if err != nil {
			return err
		}

		changed = lock.Apply(doc, muts...)
		if !changed {
			return nil
		}
		doc.Revision++

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode lock '%s': %w", name, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return s.publish(ctx, pipe, notify.Event{Name: name, Revision: doc.Revision})
		})
		return err
	}, key)
	if err != nil {
		return nil, false, err
	}
	return doc, changed, nil
}

func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	var deleted bool
	key := s.key(name)
	err := s.retry(ctx, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("failed to check lock '%s': %w", name, err)
			}
			deleted = n > 0
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SRem(ctx, s.config.IndexKey, name)
				if !deleted {
					return nil
				}
				pipe.Del(ctx, key)
				return s.publish(ctx, pipe, notify.Event{Name: name, Deleted: true})
			})
			return err
		}, key)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *Store) Subscribe(ctx context.Context, name string) (lock.Subscription, error) {
	listener, err := s.notifier.Listen(ctx, name)
	if err != nil {
		return nil, err
	}
	return lock.NewSubscription(ctx, name, s.Get, listener)
}

func (s *Store) publish(ctx context.Context, pipe redis.Pipeliner, ev notify.Event) error {
	logr.FromContextOrDiscard(ctx).V(2).Info("notify", "lock", ev.Name, "revision", ev.Revision)
	return s.notifier.PublishTx(ctx, pipe, ev)
}

// retry runs fn again while the watched key was modified concurrently.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	for i := 0; i < s.config.MaxRetries; i++ {
		err := fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}

		var pause time.Duration
		if s.config.RetryBackoff > 0 {
			pause = rand.N(s.config.RetryBackoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return errors.Aborted("too many concurrent updates, gave up after %d attempts", s.config.MaxRetries)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) get(ctx context.Context, c getter, name string) (*lock.Document, error) {
	data, err := c.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.NotFound("lock '%s' not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock '%s': %w", name, err)
	}

	var doc lock.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Internal("malformed lock '%s'", name).Source(err)
	}
	return &doc, nil
}
