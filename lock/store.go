package lock

import (
	"context"
	"time"
)

// Store persists lock documents. Implementations must apply the mutations
// of one Update atomically with respect to every other caller, bump the
// revision only when the document changed and emit a change notification
// for every bump.
type Store interface {
	// Insert creates doc with revision 1. It fails with errors.Conflict
	// when a document with the same name exists.
	Insert(ctx context.Context, doc Document) error

	// Get returns the document or errors.NotFound.
	Get(ctx context.Context, name string) (*Document, error)

	// Update applies muts atomically and returns the resulting document.
	Update(ctx context.Context, name string, muts ...Mutation) (*Document, error)

	// UpdateAll applies muts to every document and returns how many changed.
	UpdateAll(ctx context.Context, muts ...Mutation) (int, error)

	// Delete removes the document and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Subscribe watches the document for changes.
	Subscribe(ctx context.Context, name string) (Subscription, error)
}

type ChangeType int

const (
	ChangeNone ChangeType = iota
	ChangeInsert
	ChangeUpdate
	ChangeDelete
)

func (t ChangeType) String() string {
	switch t {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "none"
	}
}

// Change is the latest state a Subscription has observed.
type Change struct {
	Type     ChangeType
	Document *Document
}

// Subscription tracks the latest state of one lock document.
type Subscription interface {
	// Change returns the last observed change.
	Change() Change

	// WaitForChange blocks until the document changes past the last
	// observed revision or timeout elapses. A timeout <= 0 waits without
	// limit. It returns the context error when ctx ends first.
	WaitForChange(ctx context.Context, timeout time.Duration) error

	// Close releases the underlying listener.
	Close() error
}
