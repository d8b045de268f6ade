// Package sqlite stores lock documents in a sqlite database file. Processes
// sharing the file coordinate through it; changes made by other processes
// are detected by polling revisions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/notify"
	"github.com/sillsdev/serval-sub001/notify/poll"
	"github.com/sillsdev/serval-sub001/sqlutil"

	_ "modernc.org/sqlite"
)

var _ lock.Store = (*Store)(nil)

// Store implements lock.Store on a sqlite table.
type Store struct {
	config   Config
	db       *sql.DB
	notifier *poll.Notifier
	table    string
}

// Open opens the database file at path and creates the lock table.
func Open(ctx context.Context, path string, options ...Option) (*Store, error) {
	config := Config{
		Table:        DefaultTable,
		PollInterval: time.Second,
		BusyTimeout:  5 * time.Second,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}

	s := &Store{
		config: config,
		db:     db,
		table:  `"` + strings.ReplaceAll(config.Table, `"`, `""`) + `"`,
	}
	s.notifier = poll.New(s, poll.WithPollInterval(config.PollInterval))

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name         TEXT PRIMARY KEY,
	revision     INTEGER NOT NULL,
	writer_queue TEXT NOT NULL DEFAULT '[]',
	reader_set   TEXT NOT NULL DEFAULT '[]'
)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create lock table: %w", err)
	}
	return nil
}

// Close stops change polling and closes the database.
func (s *Store) Close(ctx context.Context) error {
	_ = s.notifier.Close(ctx)
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, doc lock.Document) error {
	writers, readers, err := encode(&doc)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (name, revision, writer_queue, reader_set) VALUES (?, 1, ?, ?)
		ON CONFLICT (name) DO NOTHING`, s.table),
		doc.Name, writers, readers)
	if err != nil {
		return fmt.Errorf("failed to insert lock '%s': %w", doc.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Conflict("lock '%s' already exists", doc.Name)
	}
	s.notify(ctx, notify.Event{Name: doc.Name, Revision: 1})
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (*lock.Document, error) {
	return s.get(ctx, s.db, name)
}

func (s *Store) Update(ctx context.Context, name string, muts ...lock.Mutation) (*lock.Document, error) {
	var (
		doc     *lock.Document
		changed bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		doc, changed, err = s.update(ctx, tx, name, muts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notify(ctx, notify.Event{Name: name, Revision: doc.Revision})
	}
	return doc, nil
}

func (s *Store) UpdateAll(ctx context.Context, muts ...lock.Mutation) (int, error) {
	var events []notify.Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, s.table))
		if err != nil {
			return fmt.Errorf("failed to list locks: %w", err)
		}
		names, err := sqlutil.Collect(rows, func(row sqlutil.Scannable) (string, error) {
			var name string
			err := row.Scan(&name)
			return name, err
		})
		if err != nil {
			return fmt.Errorf("failed to list locks: %w", err)
		}

		for _, name := range names {
			doc, changed, err := s.update(ctx, tx, name, muts)
			if err != nil {
				return err
			}
			if changed {
				events = append(events, notify.Event{Name: name, Revision: doc.Revision})
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		s.notify(ctx, ev)
	}
	return len(events), nil
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, name string, muts []lock.Mutation) (*lock.Document, bool, error) {
	doc, err := s.get(ctx, tx, name)
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
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET revision = ?, writer_queue = ?, reader_set = ? WHERE name = ?`, s.table),
		doc.Revision, writers, readers, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update lock '%s': %w", name, err)
	}
	return doc, true, nil
}

func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, s.table), name)
	if err != nil {
		return false, fmt.Errorf("failed to delete lock '%s': %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
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

// Revisions returns the revision of every existing document in names.
func (s *Store) Revisions(ctx context.Context, names []string) (map[string]int64, error) {
	revisions := make(map[string]int64, len(names))
	if len(names) == 0 {
		return revisions, nil
	}

	args := make([]any, len(names))
	for i, name := range names {
		args[i] = name
	}
	query := fmt.Sprintf(`SELECT name, revision FROM %s WHERE name IN (%s)`,
		s.table, strings.TrimSuffix(strings.Repeat("?,", len(names)), ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read revisions: %w", err)
	}
	err = sqlutil.ScanRows(rows, func(row sqlutil.Scannable) error {
		var (
			name string
			rev  int64
		)
		if err := row.Scan(&name, &rev); err != nil {
			return err
		}
		revisions[name] = rev
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read revisions: %w", err)
	}
	return revisions, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) notify(ctx context.Context, ev notify.Event) {
	if err := s.notifier.Notify(ctx, ev); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "failed to notify lock change", "lock", ev.Name)
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryer, name string) (*lock.Document, error) {
	var (
		doc              lock.Document
		writers, readers string
	)
	err := q.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT name, revision, writer_queue, reader_set FROM %s WHERE name = ?`, s.table), name).
		Scan(&doc.Name, &doc.Revision, &writers, &readers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("lock '%s' not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock '%s': %w", name, err)
	}
	if err := json.Unmarshal([]byte(writers), &doc.WriterQueue); err != nil {
		return nil, errors.Internal("malformed writer queue of lock '%s'", name).Source(err)
	}
	if err := json.Unmarshal([]byte(readers), &doc.ReaderSet); err != nil {
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
