package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/chat"
	"github.com/matheus3301/matchchat/internal/store"
	"github.com/matheus3301/matchchat/internal/wire"
	"go.uber.org/zap"
)

// Source delivers decoded inbound frames.
type Source interface {
	Listen(fn func(wire.Frame)) (remove func())
}

// Inbox receives conversation updates for live messages.
type Inbox interface {
	ApplyReceived(ctx context.Context, personUUID, preview string)
	ApplySent(personUUID, preview string)
}

// Typing is the payload published under "message.typing".
type Typing struct {
	PersonUUID string
	ID         string
}

// Engine handles idempotent ingestion of live and fetched messages into the
// store and keeps the inbox in step with live traffic.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	inbox    Inbox
	identity chat.Identity
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending []wire.Frame
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a new sync engine. db and inbox may be nil.
func NewEngine(db *store.DB, b *bus.Bus, inbox Inbox, identity chat.Identity, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       db,
		bus:      b,
		inbox:    inbox,
		identity: identity,
		logger:   logger,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Start listens to src and processes frames on a worker goroutine. Frames
// are buffered without limit so a slow inbox lookup never stalls the socket
// reader or loses a message.
func (e *Engine) Start(ctx context.Context, src Source) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	remove := src.Listen(e.enqueue)

	go func() {
		defer close(e.done)
		defer remove()
		for {
			select {
			case <-e.wake:
				e.drain(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) enqueue(f wire.Frame) {
	switch f.Kind {
	case wire.KindChat, wire.KindTyping:
	default:
		return
	}
	e.mu.Lock()
	e.pending = append(e.pending, f)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) drain(ctx context.Context) {
	for ctx.Err() == nil {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			return
		}
		f := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()
		e.handleFrame(ctx, f)
	}
}

func (e *Engine) self() string {
	if e.identity == nil {
		return ""
	}
	return e.identity.PersonUUID()
}

func (e *Engine) handleFrame(ctx context.Context, f wire.Frame) {
	switch f.Kind {
	case wire.KindTyping:
		if e.bus != nil {
			e.bus.Emit(bus.KindTyping, Typing{PersonUUID: wire.Bare(f.Chat.From), ID: f.Chat.ID})
		}
	case wire.KindChat:
		msg := chat.FromLive(e.self(), f.Chat, e.now())
		if err := e.IngestMessage(ctx, msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	}
}

// IngestMessage stores a live message, publishes it and updates the inbox.
// Storing is idempotent on (peer, id).
func (e *Engine) IngestMessage(ctx context.Context, msg chat.Message) error {
	peer := msg.PeerUUID()
	if e.db != nil {
		if err := e.db.UpsertMessage(toRow(peer, msg)); err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
	}
	if e.bus != nil {
		e.bus.Emit(bus.KindMessageReceived, msg)
	}
	if e.inbox != nil {
		if msg.FromCurrentUser {
			// Echo of a message sent from another device.
			e.inbox.ApplySent(peer, msg.Preview())
		} else {
			e.inbox.ApplyReceived(ctx, peer, msg.Preview())
		}
	}
	return nil
}

// IngestHistoryBatch stores a fetched history page in one transaction.
func (e *Engine) IngestHistoryBatch(msgs []chat.Message) error {
	if e.db == nil || len(msgs) == 0 {
		return nil
	}
	rows := make([]store.Message, 0, len(msgs))
	peers := map[string]bool{}
	for _, m := range msgs {
		peer := m.PeerUUID()
		peers[peer] = true
		rows = append(rows, *toRow(peer, m))
	}
	if err := e.db.UpsertMessages(rows); err != nil {
		return fmt.Errorf("ingest history batch: %w", err)
	}

	if e.bus != nil {
		e.bus.Emit("sync.history_batch", map[string]int{
			"messages_count": len(rows),
			"peers_count":    len(peers),
		})
	}
	return nil
}

func toRow(peer string, m chat.Message) *store.Message {
	return &store.Message{
		PeerUUID:  peer,
		MsgID:     m.ID,
		MamID:     m.MamID,
		FromMe:    m.FromCurrentUser,
		Body:      m.Text,
		AudioUUID: m.AudioUUID,
		Timestamp: m.Timestamp.UnixMilli(),
	}
}
