package lock

import "time"

// Observer is notified when an acquire attempt finishes waiting and when a
// granted request releases the lock. err is nil on success.
type Observer interface {
	Waited(name string, mode Mode, wait time.Duration, err error)
	Held(name string, mode Mode, held time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) Waited(string, Mode, time.Duration, error) {}
func (nopObserver) Held(string, Mode, time.Duration, error) {}
