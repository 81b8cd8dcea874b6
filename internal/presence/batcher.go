// Package presence batches online-status subscriptions and tracks the
// statuses the server streams back.
package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/matchchat/internal/wire"
	"go.uber.org/zap"
)

// DefaultWindow is how long subscription changes are coalesced before being sent.
const DefaultWindow = 200 * time.Millisecond

// Sender transmits wire payloads.
type Sender interface {
	Send(payload []byte)
}

// Batcher reference-counts interest in each person's online status. Changes
// within one window are netted, so the server only sees a subscribe when the
// count leaves zero and an unsubscribe when it returns to zero.
type Batcher struct {
	sender Sender
	window time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	counts  map[string]int
	pending map[string]int
	timer   *time.Timer
}

// NewBatcher creates a batcher. A non-positive window uses DefaultWindow.
func NewBatcher(sender Sender, window time.Duration, logger *zap.Logger) *Batcher {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		sender:  sender,
		window:  window,
		logger:  logger,
		counts:  make(map[string]int),
		pending: make(map[string]int),
	}
}

// Subscribe registers interest in personUUID. The returned function drops it;
// calling it more than once has no further effect.
func (b *Batcher) Subscribe(personUUID string) (unsubscribe func()) {
	b.adjust(personUUID, 1)
	var once sync.Once
	return func() {
		once.Do(func() { b.adjust(personUUID, -1) })
	}
}

// Count returns the applied reference count for personUUID.
func (b *Batcher) Count(personUUID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[personUUID]
}

func (b *Batcher) adjust(personUUID string, delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[personUUID] += delta
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.Flush)
	}
}

// Flush applies pending deltas now and sends the resulting wire events.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out [][]byte
	for _, id := range ids {
		delta := b.pending[id]
		if delta == 0 {
			continue
		}
		before := b.counts[id]
		after := max(before+delta, 0)
		if after == 0 {
			delete(b.counts, id)
		} else {
			b.counts[id] = after
		}
		switch {
		case before == 0 && after > 0:
			out = append(out, wire.SubscribeOnline(id))
		case before > 0 && after == 0:
			out = append(out, wire.UnsubscribeOnline(id))
		}
	}
	clear(b.pending)
	b.mu.Unlock()

	for _, p := range out {
		b.sender.Send(p)
	}
	if len(out) > 0 {
		b.logger.Debug("presence subscriptions flushed", zap.Int("events", len(out)))
	}
}

// Resubscribe re-sends a subscribe for every person with positive interest.
// The server forgets subscriptions with the socket, so this runs on each open.
func (b *Batcher) Resubscribe() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.counts))
	for id := range b.counts {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		b.sender.Send(wire.SubscribeOnline(id))
	}
}

// Stop cancels any armed flush.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
