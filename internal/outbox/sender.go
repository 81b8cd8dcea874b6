// Package outbox delivers outbound chat messages. Each message is submitted
// with a client id and resolved by the server's verdict; a lost verdict is
// reconciled against conversation history before the message is resent.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/chat"
	"github.com/matheus3301/matchchat/internal/correlator"
	"github.com/matheus3301/matchchat/internal/store"
	"github.com/matheus3301/matchchat/internal/wire"
	"go.uber.org/zap"
)

// Delivery defaults.
const (
	DefaultTries   = 3
	DefaultTimeout = 10 * time.Second
)

// ContentKind selects what a message carries.
type ContentKind string

const (
	KindText   ContentKind = "text"
	KindAudio  ContentKind = "audio"
	KindTyping ContentKind = "typing"
)

// Content is the payload of an outbound message.
type Content struct {
	Kind        ContentKind
	Text        string
	AudioBase64 string
}

// Text returns text content.
func Text(s string) Content { return Content{Kind: KindText, Text: s} }

// Audio returns audio content from base64 encoded data.
func Audio(b64 string) Content { return Content{Kind: KindAudio, AudioBase64: b64} }

// Typing returns a typing indicator.
func Typing() Content { return Content{Kind: KindTyping} }

// Preview is what the inbox shows for delivered content.
func (c Content) Preview() string {
	if c.Kind == KindAudio {
		return chat.AudioPreview
	}
	return c.Text
}

// SendOptions tunes one delivery.
type SendOptions struct {
	Tries   int
	Timeout time.Duration
}

// Outcome is the resolved delivery of one message. Message is set only when
// Status is Sent.
type Outcome struct {
	Status  Status
	Message *chat.Message
}

// StatusChange is the payload published under "message.status".
type StatusChange struct {
	ClientMsgID   string
	RecipientUUID string
	Status        Status
}

// History reads the newest page of a conversation.
type History interface {
	History(ctx context.Context, withUUID, before string) ([]chat.Message, error)
}

// InboxWriter receives optimistic inbox updates for delivered messages.
type InboxWriter interface {
	ApplySent(personUUID, preview string)
}

// Options configures a Sender.
type Options struct {
	Correlator *correlator.Correlator
	Identity   chat.Identity
	Domain     string
	History    History
	Inbox      InboxWriter
	// DB is optional. With it, sent messages are recorded and the durable
	// queue can be drained.
	DB     *store.DB
	Bus    *bus.Bus
	Logger *zap.Logger
	// Online gates the queue drain. Nil means always online.
	Online       func() bool
	PollInterval time.Duration
	Now          func() time.Time
}

// Sender runs delivery attempts and drains the durable queue.
type Sender struct {
	corr     *correlator.Correlator
	identity chat.Identity
	domain   string
	history  History
	inbox    InboxWriter
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	online   func() bool
	poll     time.Duration
	now      func() time.Time

	mu       sync.Mutex
	statuses map[string]Status
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a sender.
func NewSender(opts Options) *Sender {
	s := &Sender{
		corr:     opts.Correlator,
		identity: opts.Identity,
		domain:   opts.Domain,
		history:  opts.History,
		inbox:    opts.Inbox,
		db:       opts.DB,
		bus:      opts.Bus,
		logger:   opts.Logger,
		online:   opts.Online,
		poll:     opts.PollInterval,
		now:      opts.Now,
		statuses: make(map[string]Status),
	}
	if s.domain == "" {
		s.domain = wire.DefaultDomain
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.poll <= 0 {
		s.poll = 500 * time.Millisecond
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Status returns the last known status of a message id.
func (s *Sender) Status(clientMsgID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[clientMsgID]
	return st, ok
}

// Send delivers content to recipient under the client id. It returns once
// the message is delivered, rejected, or out of tries. Typing indicators are
// fire-and-forget and always report Sent.
func (s *Sender) Send(ctx context.Context, recipient string, content Content, id string, opts SendOptions) Outcome {
	tries := opts.Tries
	if tries <= 0 {
		tries = DefaultTries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	self := ""
	if s.identity != nil {
		self = s.identity.PersonUUID()
	}
	if self == "" {
		return Outcome{Status: Blocked}
	}
	from, to := wire.JID(self, s.domain), wire.JID(recipient, s.domain)

	if content.Kind == KindTyping {
		s.corr.Send(wire.TypingMessage(from, to, id))
		return Outcome{Status: Sent}
	}

	log := s.logger.With(zap.String("client_msg_id", id), zap.String("recipient", recipient))
	s.record(recipient, id, content, Sending, "")
	payload := stanza(from, to, id, content)

	for ; tries > 0; tries-- {
		st, ack, err := s.attempt(ctx, payload, id, timeout)
		if err == nil {
			if st == Sent {
				return s.delivered(self, recipient, id, content, ack.AudioUUID)
			}
			log.Info("message rejected", zap.String("status", string(st)))
			s.record(recipient, id, content, st, "")
			return Outcome{Status: st}
		}
		if !errors.Is(err, correlator.ErrTimeout) {
			log.Warn("delivery abandoned", zap.Error(err))
			break
		}

		// The verdict may have been lost rather than the message. If the
		// newest history entry is ours, do not send it again.
		if s.confirmed(ctx, recipient, id) {
			log.Info("delivery confirmed from history")
			return s.delivered(self, recipient, id, content, "")
		}
		log.Warn("delivery timed out", zap.Int("tries_left", tries-1))
	}

	s.record(recipient, id, content, Timeout, "")
	return Outcome{Status: Timeout}
}

func (s *Sender) attempt(ctx context.Context, payload []byte, id string, timeout time.Duration) (Status, wire.Ack, error) {
	type verdict struct {
		status Status
		ack    wire.Ack
	}
	res, err := correlator.Call(ctx, s.corr, correlator.Exchange[verdict]{
		Payload: payload,
		Match: func(f wire.Frame) (verdict, bool) {
			// Acks do not always echo the id.
			if !f.Kind.IsAck() || (f.Ack.ID != "" && f.Ack.ID != id) {
				return verdict{}, false
			}
			return verdict{status: classify(f), ack: *f.Ack}, true
		},
		Timeout: timeout,
	})
	if err != nil {
		return "", wire.Ack{}, err
	}
	return res.Value.status, res.Value.ack, nil
}

func (s *Sender) confirmed(ctx context.Context, recipient, id string) bool {
	if s.history == nil {
		return false
	}
	msgs, err := s.history.History(ctx, recipient, "")
	if err != nil {
		s.logger.Debug("history reconcile failed", zap.Error(err))
		return false
	}
	return len(msgs) > 0 && msgs[len(msgs)-1].ID == id
}

func (s *Sender) delivered(self, recipient, id string, content Content, audioUUID string) Outcome {
	if s.inbox != nil {
		s.inbox.ApplySent(recipient, content.Preview())
	}
	msg := &chat.Message{
		ID:              id,
		From:            wire.JID(self, s.domain),
		To:              wire.JID(recipient, s.domain),
		AudioUUID:       audioUUID,
		Timestamp:       s.now(),
		FromCurrentUser: true,
	}
	if content.Kind == KindText {
		msg.Text = content.Text
	}
	s.record(recipient, id, content, Sent, audioUUID)
	return Outcome{Status: Sent, Message: msg}
}

// record tracks, persists and publishes a status transition.
func (s *Sender) record(recipient, id string, content Content, st Status, audioUUID string) {
	s.mu.Lock()
	s.statuses[id] = st
	s.mu.Unlock()

	if s.db != nil {
		err := s.db.UpsertMessage(&store.Message{
			PeerUUID:  recipient,
			MsgID:     id,
			FromMe:    true,
			Body:      content.Text,
			AudioUUID: audioUUID,
			Status:    string(st),
			Timestamp: s.now().UnixMilli(),
		})
		if err != nil {
			s.logger.Warn("failed to record message", zap.Error(err), zap.String("client_msg_id", id))
		}
	}
	if s.bus != nil {
		s.bus.Emit(bus.KindMessageStatus, StatusChange{ClientMsgID: id, RecipientUUID: recipient, Status: st})
	}
}

func stanza(from, to, id string, c Content) []byte {
	if c.Kind == KindAudio {
		return wire.AudioMessage(from, to, id, c.AudioBase64)
	}
	return wire.TextMessage(from, to, id, c.Text)
}
