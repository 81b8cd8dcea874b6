package presence

import (
	"sync"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/wire"
)

// Status is a person's online status.
type Status string

const (
	Online         Status = "online"
	OnlineRecently Status = "online-recently"
	Offline        Status = "offline"
)

// Normalize maps a server status string to a Status; anything unknown is Offline.
func Normalize(s string) Status {
	switch Status(s) {
	case Online, OnlineRecently:
		return Status(s)
	}
	return Offline
}

// Change is the payload published under "presence.<uuid>".
type Change struct {
	PersonUUID string
	Status     Status
}

// Tracker records the latest status per person from presence frames.
type Tracker struct {
	bus *bus.Bus

	mu       sync.RWMutex
	statuses map[string]Status
}

// NewTracker creates a tracker publishing changes on b, which may be nil.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{bus: b, statuses: make(map[string]Status)}
}

// Handle consumes a decoded frame; non-presence frames are ignored.
func (t *Tracker) Handle(f wire.Frame) {
	if f.Kind != wire.KindPresence {
		return
	}
	st := Normalize(f.Presence.Status)

	t.mu.Lock()
	t.statuses[f.Presence.UUID] = st
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Emit(bus.KindPresencePrefix+f.Presence.UUID, Change{PersonUUID: f.Presence.UUID, Status: st})
	}
}

// Status returns the last known status, Offline if none was seen.
func (t *Tracker) Status(personUUID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.statuses[personUUID]; ok {
		return st
	}
	return Offline
}
