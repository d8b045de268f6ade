package lock

import (
	"slices"
	"time"
)

// Mutation is an atomic change to a lock document. Stores apply a batch of
// mutations under their own isolation and persist the result only when
// something changed.
type Mutation interface {
	apply(doc *Document) bool
}

// Apply runs muts against doc in order and reports whether doc changed.
func Apply(doc *Document, muts ...Mutation) bool {
	changed := false
	for _, m := range muts {
		if m.apply(doc) {
			changed = true
		}
	}
	return changed
}

// Match selects entries for Remove.
type Match func(Entry) bool

// ByID matches the entry of one acquire attempt.
func ByID(id string) Match {
	return func(e Entry) bool { return e.ID == id }
}

// ByHost matches every entry created by host.
func ByHost(host string) Match {
	return func(e Entry) bool { return e.HostID == host }
}

// Expired matches granted entries whose lease ran out at now.
func Expired(now time.Time) Match {
	return func(e Entry) bool { return e.Expired(now) }
}

type appendMutation struct {
	mode  Mode
	entry Entry
}

// Append adds entry to the collection for mode. Appending an id that is
// already present is a no-op.
func Append(mode Mode, entry Entry) Mutation {
	return appendMutation{mode: mode, entry: entry}
}

func (m appendMutation) apply(doc *Document) bool {
	if _, ok := doc.Find(m.mode, m.entry.ID); ok {
		return false
	}
	entries := doc.entries(m.mode)
	*entries = append(*entries, m.entry)
	return true
}

type removeMutation struct {
	mode  Mode
	match Match
}

// Remove deletes every entry of the collection for mode that matches.
func Remove(mode Mode, match Match) Mutation {
	return removeMutation{mode: mode, match: match}
}

func (m removeMutation) apply(doc *Document) bool {
	entries := doc.entries(m.mode)
	before := len(*entries)
	*entries = slices.DeleteFunc(*entries, m.match)
	return len(*entries) != before
}

type grantMutation struct {
	mode      Mode
	id        string
	now       time.Time
	expiresAt *time.Time
}

// Grant marks the entry id as holding the lock when the grant rule allows it:
// a writer must be at the head of the queue with no active reader, a reader
// needs a queue without pending or active writers.
func Grant(mode Mode, id string, now time.Time, expiresAt *time.Time) Mutation {
	return grantMutation{mode: mode, id: id, now: now, expiresAt: expiresAt}
}

func (m grantMutation) apply(doc *Document) bool {
	entries := *doc.entries(m.mode)
	idx := slices.IndexFunc(entries, ByID(m.id))
	if idx < 0 || entries[idx].Granted {
		return false
	}

	switch m.mode {
	case ModeWrite:
		if idx != 0 || doc.ActiveReaders(m.now) > 0 {
			return false
		}
	case ModeRead:
		if !doc.IsAvailableForReading(m.now) {
			return false
		}
	}

	entries[idx].Granted = true
	entries[idx].ExpiresAt = m.expiresAt
	return true
}
