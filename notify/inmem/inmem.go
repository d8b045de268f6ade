package inmem

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/sillsdev/serval-sub001/notify"
)

var _ notify.Notifier = (*Notifier)(nil)

// Notifier delivers events to listeners of the same process.
type Notifier struct {
	hub *notify.Hub
}

func New() *Notifier {
	return &Notifier{
		hub: notify.NewHub(),
	}
}

func (n *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	logr.FromContextOrDiscard(ctx).V(2).Info("notify", "lock", ev.Name, "revision", ev.Revision, "deleted", ev.Deleted)
	n.hub.Broadcast(ev)
	return nil
}

func (n *Notifier) Listen(_ context.Context, name string) (notify.Listener, error) {
	return n.hub.Listen(name), nil
}

func (n *Notifier) Close(_ context.Context) error {
	n.hub.Close()
	return nil
}
