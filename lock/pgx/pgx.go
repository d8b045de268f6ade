package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/notify"
	notifypgx "github.com/sillsdev/serval-sub001/notify/pgx"
)

var _ lock.Store = (*Store)(nil)

// Store implements lock.Store on a postgres table. Updates lock the row,
// apply the mutations in Go and write the document back in one
// transaction, together with a pg_notify that is delivered on commit.
type Store struct {
	config   Config
	pool     *pgxpool.Pool
	notifier *notifypgx.Notifier
	table    string
}

// New creates a store on pool. notifier must listen on the same database.
func New(pool *pgxpool.Pool, notifier *notifypgx.Notifier, options ...Option) *Store {
	config := Config{
		Table: DefaultTable,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Store{
		config:   config,
		pool:     pool,
		notifier: notifier,
		table:    pgx.Identifier{config.Table}.Sanitize(),
	}
}

// Migrate creates the lock table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name         TEXT PRIMARY KEY,
	revision     BIGINT NOT NULL,
	writer_queue JSONB NOT NULL DEFAULT '[]',
	reader_set   JSONB NOT NULL DEFAULT '[]',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create lock table: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, doc lock.Document) error {
	writers, readers, err := encode(&doc)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (name, revision, writer_queue, reader_set) VALUES ($1, 1, $2, $3)
			ON CONFLICT (name) DO NOTHING`, s.table),
			doc.Name, writers, readers)
		if err != nil {
			return fmt.Errorf("failed to insert lock '%s': %w", doc.Name, err)
		}
		if tag.RowsAffected() == 0 {
			return errors.Conflict("lock '%s' already exists", doc.Name)
		}
		return s.notify(ctx, tx, notify.Event{Name: doc.Name, Revision: 1})
	})
}

func (s *Store) Get(ctx context.Context, name string) (*lock.Document, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT name, revision, writer_queue, reader_set FROM %s WHERE name = $1`, s.table), name)
	return scan(row, name)
}

func (s *Store) Update(ctx context.Context, name string, muts ...lock.Mutation) (*lock.Document, error) {
	var doc *lock.Document
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		doc, _, err = s.update(ctx, tx, name, muts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) UpdateAll(ctx context.Context, muts ...lock.Mutation) (int, error) {
	n := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, s.table))
		if err != nil {
			return fmt.Errorf("failed to list locks: %w", err)
		}
		names, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to list locks: %w", err)
		}

		for _, name := range names {
			_, changed, err := s.update(ctx, tx, name, muts)
			if errors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if changed {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) update(ctx context.Context, tx pgx.Tx, name string, muts []lock.Mutation) (*lock.Document, bool, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT name, revision, writer_queue, reader_set FROM %s WHERE name = $1 FOR UPDATE`, s.table), name)
	doc, err := scan(row, name)
	if err != nil {
		return nil, false, err
	}

	if !lock.Apply(doc, muts...) {
		return doc, false, nil
	}
	doc.Revision++

	writers, readers, err := encode(doc)
	if err != nil {
		return nil, false, err
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET revision = $2, writer_queue = $3, reader_set = $4, updated_at = $5 WHERE name = $1`, s.table),
		doc.Name, doc.Revision, writers, readers, time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("failed to update lock '%s': %w", name, err)
	}
	if err := s.notify(ctx, tx, notify.Event{Name: doc.Name, Revision: doc.Revision}); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	deleted := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.table), name)
		if err != nil {
			return fmt.Errorf("failed to delete lock '%s': %w", name, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		deleted = true
		return s.notify(ctx, tx, notify.Event{Name: name, Deleted: true})
	})
	return deleted, err
}

func (s *Store) Subscribe(ctx context.Context, name string) (lock.Subscription, error) {
	listener, err := s.notifier.Listen(ctx, name)
	if err != nil {
		return nil, err
	}
	return lock.NewSubscription(ctx, name, s.Get, listener)
}

func (s *Store) notify(ctx context.Context, tx pgx.Tx, ev notify.Event) error {
	logr.FromContextOrDiscard(ctx).V(2).Info("notify", "lock", ev.Name, "revision", ev.Revision)
	return notifypgx.NotifyTx(ctx, tx, s.notifier.Channel(), ev)
}

func scan(row pgx.Row, name string) (*lock.Document, error) {
	var (
		doc              lock.Document
		writers, readers []byte
	)
	err := row.Scan(&doc.Name, &doc.Revision, &writers, &readers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("lock '%s' not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock '%s': %w", name, err)
	}
	if err := json.Unmarshal(writers, &doc.WriterQueue); err != nil {
		return nil, errors.Internal("malformed writer queue of lock '%s'", name).Source(err)
	}
	if err := json.Unmarshal(readers, &doc.ReaderSet); err != nil {
		return nil, errors.Internal("malformed reader set of lock '%s'", name).Source(err)
	}
	return &doc, nil
}

func encode(doc *lock.Document) (string, string, error) {
	writers, err := json.Marshal(nonNil(doc.WriterQueue))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode writer queue: %w", err)
	}
	readers, err := json.Marshal(nonNil(doc.ReaderSet))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode reader set: %w", err)
	}
	return string(writers), string(readers), nil
}

func nonNil(entries []lock.Entry) []lock.Entry {
	if entries == nil {
		return []lock.Entry{}
	}
	return entries
}
