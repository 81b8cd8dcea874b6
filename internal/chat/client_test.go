package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/correlator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	me   = "11111111-1111-4111-8111-111111111111"
	peer = "22222222-2222-4222-8222-222222222222"
	dom  = "duolicious.app"
)

type staticIdentity string

func (s staticIdentity) PersonUUID() string { return string(s) }

// fakeServer answers queries synchronously from inside Send.
type fakeServer struct {
	mu      sync.Mutex
	sent    []map[string]any
	inbound func([]byte)
	respond func(doc map[string]any) []string
}

func (s *fakeServer) Send(payload []byte) {
	var doc map[string]any
	_ = json.Unmarshal(payload, &doc)
	s.mu.Lock()
	s.sent = append(s.sent, doc)
	respond, fn := s.respond, s.inbound
	s.mu.Unlock()
	if respond == nil || fn == nil {
		return
	}
	for _, r := range respond(doc) {
		fn([]byte(r))
	}
}

func (s *fakeServer) OnInbound(fn func([]byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = fn
	return func() {}
}

func (s *fakeServer) Sent() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.sent...)
}

type recordingMarker struct {
	mu    sync.Mutex
	marks []string
}

func (r *recordingMarker) ApplyDisplayed(personUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, personUUID)
}

func queryIDOf(doc map[string]any) string {
	iq, ok := doc["iq"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := iq["@id"].(string)
	return id
}

func archived(queryID, mamID, id, from, to, body, stamp string, unread string) string {
	return fmt.Sprintf(`{"message":{"result":{"@queryid":%q,"@id":%q,"@unread":%q,"forwarded":{"delay":{"@stamp":%q},"message":{"@id":%q,"@from":%q,"@to":%q,"body":%q}}}}}`,
		queryID, mamID, unread, stamp, id, from, to, body)
}

func fin(queryID string) string {
	return fmt.Sprintf(`{"iq":{"@id":%q,"@type":"result","fin":null}}`, queryID)
}

func newClient(t *testing.T, srv *fakeServer, opts Options) *Client {
	t.Helper()
	corr := correlator.New(srv, nil)
	t.Cleanup(corr.Close)
	return New(corr, staticIdentity(me), opts)
}

func TestHistoryCollectsUntilFin(t *testing.T) {
	srv := &fakeServer{}
	srv.respond = func(doc map[string]any) []string {
		q := queryIDOf(doc)
		if q == "" {
			return nil
		}
		return []string{
			archived(q, "mam1", "m1", peer+"@"+dom, me+"@"+dom, "hi", "2024-01-01T00:00:00Z", ""),
			archived("other", "mamX", "mX", peer+"@"+dom, me+"@"+dom, "stray", "2024-01-01T00:00:00Z", ""),
			archived(q, "mam2", "m2", me+"@"+dom, peer+"@"+dom, "hello", "2024-01-01T00:01:00Z", ""),
			fin(q),
		}
	}
	c := newClient(t, srv, Options{})

	msgs, err := c.History(context.Background(), peer, "")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "mam1", msgs[0].MamID)
	assert.False(t, msgs[0].FromCurrentUser)
	assert.Equal(t, peer, msgs[0].PeerUUID())
	assert.True(t, msgs[1].FromCurrentUser)
	assert.Equal(t, peer, msgs[1].PeerUUID())

	// History alone sends no receipt.
	assert.Len(t, srv.Sent(), 1)
}

func TestFetchConversationMarksNewestDisplayed(t *testing.T) {
	srv := &fakeServer{}
	srv.respond = func(doc map[string]any) []string {
		q := queryIDOf(doc)
		if q == "" {
			return nil
		}
		return []string{
			archived(q, "mam1", "m1", me+"@"+dom, peer+"@"+dom, "hi", "2024-01-01T00:00:00Z", ""),
			archived(q, "mam2", "m2", peer+"@"+dom+"/phone", me+"@"+dom, "yo", "2024-01-01T00:01:00Z", ""),
			fin(q),
		}
	}
	c := newClient(t, srv, Options{})
	marker := &recordingMarker{}
	c.SetReadMarker(marker)

	msgs, err := c.FetchConversation(context.Background(), peer, "")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	sent := srv.Sent()
	require.Len(t, sent, 2)
	receipt := sent[1]["message"].(map[string]any)
	assert.Equal(t, peer+"@"+dom+"/phone", receipt["@to"])
	assert.Equal(t, me+"@"+dom, receipt["@from"])
	assert.Equal(t, "m2", receipt["displayed"].(map[string]any)["@id"])
	assert.Equal(t, []string{peer}, marker.marks)
}

func TestFetchConversationOwnLastMessageSendsNoReceipt(t *testing.T) {
	srv := &fakeServer{}
	srv.respond = func(doc map[string]any) []string {
		q := queryIDOf(doc)
		if q == "" {
			return nil
		}
		return []string{
			archived(q, "mam1", "m1", me+"@"+dom, peer+"@"+dom, "hi", "2024-01-01T00:00:00Z", ""),
			fin(q),
		}
	}
	c := newClient(t, srv, Options{})
	marker := &recordingMarker{}
	c.SetReadMarker(marker)

	_, err := c.FetchConversation(context.Background(), peer, "")
	require.NoError(t, err)
	assert.Len(t, srv.Sent(), 1)
	assert.Empty(t, marker.marks)
}

func TestHistoryTimeout(t *testing.T) {
	c := newClient(t, &fakeServer{}, Options{HistoryTimeout: 20 * time.Millisecond})
	_, err := c.History(context.Background(), peer, "")
	assert.ErrorIs(t, err, correlator.ErrTimeout)
}

func TestSignedOut(t *testing.T) {
	srv := &fakeServer{}
	corr := correlator.New(srv, nil)
	c := New(corr, staticIdentity(""), Options{})

	_, err := c.History(context.Background(), peer, "")
	assert.ErrorIs(t, err, ErrSignedOut)
	_, err = c.QueryInbox(context.Background(), time.Time{}, 0)
	assert.ErrorIs(t, err, ErrSignedOut)
	_, err = c.AuthStanza("tok")
	assert.ErrorIs(t, err, ErrSignedOut)
	assert.Empty(t, srv.Sent())
}

func TestQueryInbox(t *testing.T) {
	third := "33333333-3333-4333-8333-333333333333"
	srv := &fakeServer{}
	srv.respond = func(doc map[string]any) []string {
		q := queryIDOf(doc)
		if q == "" {
			return nil
		}
		return []string{
			archived(q, "", "", peer+"@"+dom, me+"@"+dom, "unread one", "2024-01-02T00:00:00Z", "1"),
			archived(q, "", "", me+"@"+dom, third+"@"+dom, "mine", "2024-01-01T00:00:00Z", "0"),
			archived(q, "", "", "bogus@"+dom, me+"@"+dom, "skipped", "2024-01-01T00:00:00Z", "0"),
			fin(q),
		}
	}
	c := newClient(t, srv, Options{})

	entries, err := c.QueryInbox(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, peer, entries[0].PersonUUID)
	assert.False(t, entries[0].LastMessageRead)
	assert.Equal(t, "unread one", entries[0].LastMessage)
	assert.Equal(t, third, entries[1].PersonUUID)
	assert.True(t, entries[1].LastMessageRead)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), entries[1].LastMessageTimestamp.UTC())
}

func TestRegisterPushTokenRetriesOnce(t *testing.T) {
	tests := []struct {
		name      string
		answerOn  int
		wantErr   bool
		wantSends int
	}{
		{"first try", 1, false, 1},
		{"second try", 2, false, 2},
		{"never", 0, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &fakeServer{}
			calls := 0
			srv.respond = func(map[string]any) []string {
				calls++
				if calls == tt.answerOn {
					return []string{`{"duo_registration_successful":null}`}
				}
				return nil
			}
			b := bus.New()
			c := newClient(t, srv, Options{PushTimeout: 20 * time.Millisecond, Bus: b})

			err := c.RegisterPushToken(context.Background(), "tok")
			if tt.wantErr {
				assert.ErrorIs(t, err, correlator.ErrTimeout)
			} else {
				require.NoError(t, err)
				ev, ok := b.Last(bus.KindPushRegistration)
				require.True(t, ok)
				assert.Equal(t, true, ev.Payload)
			}
			assert.Len(t, srv.Sent(), tt.wantSends)
		})
	}
}

func TestMessagePreview(t *testing.T) {
	assert.Equal(t, "hey", Message{Text: "hey"}.Preview())
	assert.Equal(t, AudioPreview, Message{AudioUUID: "a1"}.Preview())
}
