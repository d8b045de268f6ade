package lockhttp

import (
	"time"

	"github.com/sillsdev/serval-sub001/lock"
)

// EntryView is one writer queue or reader set entry.
type EntryView struct {
	ID        string     `json:"id"`
	HostID    string     `json:"host_id,omitempty"`
	Granted   bool       `json:"granted"`
	Expired   bool       `json:"expired"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// LockView is the state of a lock at the time of the request.
type LockView struct {
	Name                string      `json:"name"`
	Revision            int64       `json:"revision"`
	Writers             []EntryView `json:"writers"`
	Readers             []EntryView `json:"readers"`
	AvailableForReading bool        `json:"available_for_reading"`
	AvailableForWriting bool        `json:"available_for_writing"`
}

// AvailabilityView answers an availability query.
type AvailabilityView struct {
	Name      string    `json:"name"`
	Mode      lock.Mode `json:"mode"`
	Available bool      `json:"available"`
}

// NewLockView projects doc as seen at now.
func NewLockView(doc *lock.Document, now time.Time) LockView {
	return LockView{
		Name:                doc.Name,
		Revision:            doc.Revision,
		Writers:             entryViews(doc.WriterQueue, now),
		Readers:             entryViews(doc.ReaderSet, now),
		AvailableForReading: doc.IsAvailableForReading(now),
		AvailableForWriting: doc.IsAvailableForWriting(now),
	}
}

func entryViews(entries []lock.Entry, now time.Time) []EntryView {
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, EntryView{
			ID:        e.ID,
			HostID:    e.HostID,
			Granted:   e.Granted,
			Expired:   e.Expired(now),
			ExpiresAt: e.ExpiresAt,
		})
	}
	return views
}
