package lock

import (
	"slices"
	"time"
)

// Mode selects the collection of a lock document an entry lives in.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// Entry is one acquire attempt recorded in a lock document.
type Entry struct {
	ID        string     `json:"id"`
	HostID    string     `json:"host_id,omitempty"`
	Granted   bool       `json:"granted,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the lease of a granted entry ran out at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// Active reports whether the entry currently holds the lock.
func (e Entry) Active(now time.Time) bool {
	return e.Granted && !e.Expired(now)
}

// Document is the shared wait/grant state of one named lock.
type Document struct {
	Name        string  `json:"name"`
	Revision    int64   `json:"revision"`
	WriterQueue []Entry `json:"writer_queue"`
	ReaderSet   []Entry `json:"reader_set"`
}

// Entries returns the collection for mode.
func (d *Document) Entries(mode Mode) []Entry {
	if mode == ModeWrite {
		return d.WriterQueue
	}
	return d.ReaderSet
}

func (d *Document) entries(mode Mode) *[]Entry {
	if mode == ModeWrite {
		return &d.WriterQueue
	}
	return &d.ReaderSet
}

// Find returns the entry with id from the collection for mode.
func (d *Document) Find(mode Mode, id string) (Entry, bool) {
	for _, e := range d.Entries(mode) {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ActiveWriter returns the writer holding the lock, if any.
func (d *Document) ActiveWriter(now time.Time) (Entry, bool) {
	if len(d.WriterQueue) > 0 && d.WriterQueue[0].Active(now) {
		return d.WriterQueue[0], true
	}
	return Entry{}, false
}

// ActiveReaders returns the number of readers holding the lock.
func (d *Document) ActiveReaders(now time.Time) int {
	n := 0
	for _, e := range d.ReaderSet {
		if e.Active(now) {
			n++
		}
	}
	return n
}

// IsAvailableForReading reports whether no writer is pending or active.
// Granted writers whose lease ran out are ignored.
func (d *Document) IsAvailableForReading(now time.Time) bool {
	return !slices.ContainsFunc(d.WriterQueue, live(now))
}

// IsAvailableForWriting reports whether neither collection holds a live entry.
func (d *Document) IsAvailableForWriting(now time.Time) bool {
	return d.IsAvailableForReading(now) && !slices.ContainsFunc(d.ReaderSet, live(now))
}

// NextExpiry returns the earliest lease end among active entries.
func (d *Document) NextExpiry(now time.Time) (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, entries := range [][]Entry{d.WriterQueue, d.ReaderSet} {
		for _, e := range entries {
			if !e.Active(now) || e.ExpiresAt == nil {
				continue
			}
			if !found || e.ExpiresAt.Before(next) {
				next, found = *e.ExpiresAt, true
			}
		}
	}
	return next, found
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	c.WriterQueue = cloneEntries(d.WriterQueue)
	c.ReaderSet = cloneEntries(d.ReaderSet)
	return &c
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.ExpiresAt != nil {
			t := *e.ExpiresAt
			e.ExpiresAt = &t
		}
		out[i] = e
	}
	return out
}

func live(now time.Time) func(Entry) bool {
	return func(e Entry) bool {
		return !e.Expired(now)
	}
}
