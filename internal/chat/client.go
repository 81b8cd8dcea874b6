// Package chat implements the request/response exchanges of the chat
// protocol on top of the correlator: authentication, history and inbox
// queries, read receipts and push token registration.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/correlator"
	"github.com/matheus3301/matchchat/internal/wire"
	"go.uber.org/zap"
)

// Default exchange timeouts.
const (
	DefaultHistoryTimeout = 15 * time.Second
	DefaultInboxTimeout   = 30 * time.Second
	DefaultPushTimeout    = 10 * time.Second
)

// AudioPreview is the inbox preview shown for audio messages.
const AudioPreview = "Audio message"

// ErrSignedOut is returned by exchanges that need a signed in user.
var ErrSignedOut = errors.New("not signed in")

// Message is one chat message, live or archived.
type Message struct {
	ID              string
	MamID           string
	From            string
	To              string
	Text            string
	AudioUUID       string
	Timestamp       time.Time
	FromCurrentUser bool
}

// IsAudio reports whether the message carries audio rather than text.
func (m Message) IsAudio() bool { return m.AudioUUID != "" }

// Preview is the inbox preview for the message.
func (m Message) Preview() string {
	if m.IsAudio() {
		return AudioPreview
	}
	return m.Text
}

// PeerUUID returns the identity of the other participant.
func (m Message) PeerUUID() string {
	if m.FromCurrentUser {
		return wire.Bare(m.To)
	}
	return wire.Bare(m.From)
}

// InboxEntry is one conversation summary returned by the inbox query, before
// enrichment.
type InboxEntry struct {
	PersonUUID           string
	LastMessage          string
	LastMessageRead      bool
	LastMessageTimestamp time.Time
}

// Identity supplies the signed in person, or "" when signed out.
type Identity interface {
	PersonUUID() string
}

// ReadMarker is told when a conversation's newest message has been displayed.
type ReadMarker interface {
	ApplyDisplayed(personUUID string)
}

// Options configures a Client.
type Options struct {
	Domain         string
	HistoryTimeout time.Duration
	InboxTimeout   time.Duration
	PushTimeout    time.Duration
	Bus            *bus.Bus
	Logger         *zap.Logger
}

// Client runs chat protocol exchanges for the signed in user.
type Client struct {
	corr     *correlator.Correlator
	identity Identity
	domain   string
	history  time.Duration
	inbox    time.Duration
	push     time.Duration
	bus      *bus.Bus
	logger   *zap.Logger
	marker   ReadMarker
}

// New creates a chat client.
func New(corr *correlator.Correlator, identity Identity, opts Options) *Client {
	c := &Client{
		corr:     corr,
		identity: identity,
		domain:   opts.Domain,
		history:  opts.HistoryTimeout,
		inbox:    opts.InboxTimeout,
		push:     opts.PushTimeout,
		bus:      opts.Bus,
		logger:   opts.Logger,
	}
	if c.domain == "" {
		c.domain = wire.DefaultDomain
	}
	if c.history <= 0 {
		c.history = DefaultHistoryTimeout
	}
	if c.inbox <= 0 {
		c.inbox = DefaultInboxTimeout
	}
	if c.push <= 0 {
		c.push = DefaultPushTimeout
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// SetReadMarker wires the receiver of displayed notifications. It must be
// called before the client is used concurrently.
func (c *Client) SetReadMarker(m ReadMarker) {
	c.marker = m
}

// JID returns the full address of a person on the configured domain.
func (c *Client) JID(personUUID string) string {
	return wire.JID(personUUID, c.domain)
}

// Self returns the signed in person's identity, or "" when signed out.
func (c *Client) Self() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.PersonUUID()
}

// AuthStanza builds the authentication stanza for the signed in user. The
// caller decides where it goes in the outbound queue.
func (c *Client) AuthStanza(sessionToken string) ([]byte, error) {
	self := c.Self()
	if self == "" {
		return nil, ErrSignedOut
	}
	return wire.Auth(self, sessionToken), nil
}

// History fetches one page of archived messages exchanged with a person,
// oldest first. before is the archive id of the oldest message already held,
// or "" for the newest page.
func (c *Client) History(ctx context.Context, withUUID, before string) ([]Message, error) {
	self := c.Self()
	if self == "" {
		return nil, ErrSignedOut
	}
	queryID := uuid.NewString()

	res, err := correlator.Call(ctx, c.corr, correlator.Exchange[Message]{
		Payload: wire.HistoryQuery(queryID, c.JID(withUUID), before),
		Match: func(f wire.Frame) (Message, bool) {
			if f.Kind != wire.KindArchived || f.Archived.QueryID != queryID {
				return Message{}, false
			}
			return c.fromArchived(self, f.Archived), true
		},
		Sentinel: finOf(queryID),
		Timeout:  c.history,
	})
	if err != nil {
		return nil, fmt.Errorf("history with %s: %w", withUUID, err)
	}
	return res.Values, nil
}

// FetchConversation fetches a history page and marks its newest message
// displayed.
func (c *Client) FetchConversation(ctx context.Context, withUUID, before string) ([]Message, error) {
	msgs, err := c.History(ctx, withUUID, before)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		c.MarkDisplayed(msgs[len(msgs)-1])
	}
	return msgs, nil
}

// MarkDisplayed sends a displayed receipt for a received message and marks
// the conversation read. Own messages and malformed addresses are ignored.
func (c *Client) MarkDisplayed(m Message) {
	if m.FromCurrentUser {
		return
	}
	peer := wire.Bare(m.From)
	if !wire.IsPersonUUID(peer) || !wire.IsPersonUUID(wire.Bare(m.To)) {
		return
	}
	c.corr.Send(wire.DisplayedReceipt(m.To, m.From, m.ID))
	if c.marker != nil {
		c.marker.ApplyDisplayed(peer)
	}
}

// QueryInbox streams the inbox: one entry per conversation. A zero end asks
// for the newest page; pageSize <= 0 lets the server choose.
func (c *Client) QueryInbox(ctx context.Context, end time.Time, pageSize int) ([]InboxEntry, error) {
	self := c.Self()
	if self == "" {
		return nil, ErrSignedOut
	}
	queryID := uuid.NewString()

	res, err := correlator.Call(ctx, c.corr, correlator.Exchange[InboxEntry]{
		Payload: wire.InboxQuery(queryID, end, pageSize),
		Match: func(f wire.Frame) (InboxEntry, bool) {
			if f.Kind != wire.KindArchived || f.Archived.QueryID != queryID {
				return InboxEntry{}, false
			}
			m := c.fromArchived(self, f.Archived)
			peer := m.PeerUUID()
			if !wire.IsPersonUUID(peer) {
				return InboxEntry{}, false
			}
			return InboxEntry{
				PersonUUID:           peer,
				LastMessage:          m.Preview(),
				LastMessageRead:      !f.Archived.Unread,
				LastMessageTimestamp: m.Timestamp,
			}, true
		},
		Sentinel: finOf(queryID),
		Timeout:  c.inbox,
	})
	if err != nil {
		return nil, fmt.Errorf("inbox query: %w", err)
	}
	return res.Values, nil
}

// RegisterPushToken registers the device push token, or clears it when token
// is "". A timed out registration is retried once.
func (c *Client) RegisterPushToken(ctx context.Context, token string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		_, err = correlator.Call(ctx, c.corr, correlator.Exchange[struct{}]{
			Payload: wire.RegisterPushToken(token),
			Match: func(f wire.Frame) (struct{}, bool) {
				return struct{}{}, f.Kind == wire.KindPushRegistered
			},
			Timeout: c.push,
		})
		if !errors.Is(err, correlator.ErrTimeout) {
			break
		}
		c.logger.Warn("push token registration timed out", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return fmt.Errorf("register push token: %w", err)
	}
	if c.bus != nil {
		c.bus.Emit(bus.KindPushRegistration, token != "")
	}
	return nil
}

func (c *Client) fromArchived(self string, a *wire.Archived) Message {
	return Message{
		ID:              a.Message.ID,
		MamID:           a.ResultID,
		From:            a.Message.From,
		To:              a.Message.To,
		Text:            a.Message.Body,
		AudioUUID:       a.Message.AudioUUID,
		Timestamp:       a.Stamp,
		FromCurrentUser: wire.Bare(a.Message.From) == self,
	}
}

// FromLive converts a live chat frame into a Message stamped now.
func FromLive(self string, ch *wire.Chat, now time.Time) Message {
	return Message{
		ID:              ch.ID,
		From:            ch.From,
		To:              ch.To,
		Text:            ch.Body,
		AudioUUID:       ch.AudioUUID,
		Timestamp:       now,
		FromCurrentUser: wire.Bare(ch.From) == self,
	}
}

func finOf(queryID string) func(wire.Frame) bool {
	return func(f wire.Frame) bool {
		return f.Kind == wire.KindQueryFin && f.Fin.ID == queryID
	}
}
