package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event announces that a lock document reached Revision or was deleted.
type Event struct {
	Name     string `json:"name"`
	Revision int64  `json:"revision"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// Notifier fans change events out to listeners of a document name.
type Notifier interface {
	// Notify publishes ev to every listener of ev.Name.
	Notify(ctx context.Context, ev Event) error

	// Listen registers a listener for name.
	Listen(ctx context.Context, name string) (Listener, error)

	// Close stops background work and closes every listener.
	Close(ctx context.Context) error
}

// Listener receives events for one document name. Events coalesce: a
// listener that is not reading keeps only the newest undelivered event.
type Listener interface {
	Events() <-chan Event
	Close() error
}

// Encode returns the wire form of ev.
func Encode(ev Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}
	return string(data), nil
}

// Decode parses the wire form of an event.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}
