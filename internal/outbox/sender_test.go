package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/chat"
	"github.com/matheus3301/matchchat/internal/correlator"
	"github.com/matheus3301/matchchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	me   = "11111111-1111-4111-8111-111111111111"
	peer = "22222222-2222-4222-8222-222222222222"
)

const fast = 20 * time.Millisecond

type staticIdentity string

func (s staticIdentity) PersonUUID() string { return string(s) }

// fakeServer answers submitted chat stanzas from inside Send.
type fakeServer struct {
	mu      sync.Mutex
	chats   []map[string]string
	typing  int
	inbound func([]byte)
	respond func(n int, id string) string
}

func (s *fakeServer) Send(payload []byte) {
	var doc map[string]map[string]string
	_ = json.Unmarshal(payload, &doc)
	m := doc["message"]

	s.mu.Lock()
	var reply string
	switch m["@type"] {
	case "typing":
		s.typing++
	case "chat":
		s.chats = append(s.chats, m)
		if s.respond != nil {
			reply = s.respond(len(s.chats), m["@id"])
		}
	}
	fn := s.inbound
	s.mu.Unlock()

	if reply != "" && fn != nil {
		fn([]byte(reply))
	}
}

func (s *fakeServer) OnInbound(fn func([]byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = fn
	return func() {}
}

func (s *fakeServer) Transmissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

type fakeHistory struct {
	mu    sync.Mutex
	last  func() string
	calls int
}

func (h *fakeHistory) History(_ context.Context, _, _ string) ([]chat.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.last == nil {
		return nil, nil
	}
	return []chat.Message{{ID: "older"}, {ID: h.last()}}, nil
}

type fakeInbox struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeInbox) ApplySent(personUUID, preview string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, personUUID+":"+preview)
}

func (f *fakeInbox) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type harness struct {
	sender  *Sender
	server  *fakeServer
	history *fakeHistory
	inbox   *fakeInbox
	bus     *bus.Bus
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{server: &fakeServer{}, history: &fakeHistory{}, inbox: &fakeInbox{}, bus: bus.New()}
	corr := correlator.New(h.server, nil)
	t.Cleanup(corr.Close)
	opts.Correlator = corr
	if opts.Identity == nil {
		opts.Identity = staticIdentity(me)
	}
	opts.History = h.history
	opts.Inbox = h.inbox
	opts.Bus = h.bus
	h.sender = NewSender(opts)
	return h
}

func ack(kind, id, extra string) string {
	return fmt.Sprintf(`{%q:{"@id":%q%s}}`, kind, id, extra)
}

func TestSendDelivered(t *testing.T) {
	h := newHarness(t, Options{})
	h.server.respond = func(_ int, id string) string { return ack("duo_message_delivered", id, "") }

	out := h.sender.Send(context.Background(), peer, Text("hi"), "m1", SendOptions{Timeout: time.Second})

	require.Equal(t, Sent, out.Status)
	require.NotNil(t, out.Message)
	assert.Equal(t, "hi", out.Message.Text)
	assert.True(t, out.Message.FromCurrentUser)
	assert.Equal(t, []string{peer + ":hi"}, h.inbox.Sent(), "inbox updated before return")
	assert.Equal(t, 1, h.server.Transmissions())

	st, ok := h.sender.Status("m1")
	require.True(t, ok)
	assert.Equal(t, Sent, st)
	ev, ok := h.bus.Last(bus.KindMessageStatus)
	require.True(t, ok)
	assert.Equal(t, StatusChange{ClientMsgID: "m1", RecipientUUID: peer, Status: Sent}, ev.Payload)
}

func TestSendAudioDelivered(t *testing.T) {
	h := newHarness(t, Options{})
	h.server.respond = func(_ int, id string) string {
		return ack("duo_message_delivered", id, `,"@audioUuid":"au1"`)
	}

	out := h.sender.Send(context.Background(), peer, Audio("AAAA"), "m1", SendOptions{Timeout: time.Second})

	require.Equal(t, Sent, out.Status)
	assert.Equal(t, "au1", out.Message.AudioUUID)
	assert.Equal(t, []string{peer + ":" + chat.AudioPreview}, h.inbox.Sent())
	assert.Equal(t, "AAAA", h.server.chats[0]["@audioBase64"])
}

func TestRejectionsAreReportedVerbatim(t *testing.T) {
	tests := []struct {
		reply string
		want  Status
	}{
		{ack("duo_message_blocked", "m1", `,"@reason":"offensive"`), Offensive},
		{ack("duo_message_blocked", "m1", `,"@reason":"rate-limited-1day"`), RateLimited1Day},
		{ack("duo_message_blocked", "m1", `,"@reason":"rate-limited-1day","@subreason":"unverified-basics"`), RateLimited1DayUnverifiedBasics},
		{ack("duo_message_blocked", "m1", `,"@reason":"rate-limited-1day","@subreason":"unverified-photos"`), RateLimited1DayUnverifiedPhotos},
		{ack("duo_message_blocked", "m1", `,"@reason":"rate-limited-1day","@subreason":"other"`), Blocked},
		{ack("duo_message_blocked", "m1", `,"@reason":"voice-intro"`), VoiceIntro},
		{ack("duo_message_blocked", "m1", `,"@reason":"spam"`), Spam},
		{ack("duo_message_blocked", "m1", ``), Blocked},
		{ack("duo_message_not_unique", "m1", ``), NotUnique},
		{ack("duo_message_too_long", "m1", ``), TooLong},
		{ack("duo_server_error", "m1", ``), ServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			h := newHarness(t, Options{})
			h.server.respond = func(int, string) string { return tt.reply }

			out := h.sender.Send(context.Background(), peer, Text("hi"), "m1", SendOptions{Timeout: time.Second})

			assert.Equal(t, tt.want, out.Status)
			assert.Nil(t, out.Message)
			assert.True(t, out.Status.IsRejection())
			assert.Equal(t, tt.want == NotUnique, out.Status.IsDuplicate())
			assert.Equal(t, 1, h.server.Transmissions(), "rejections are never retried")
			assert.Empty(t, h.inbox.Sent())
		})
	}
}

func TestAckWithoutIDResolves(t *testing.T) {
	h := newHarness(t, Options{})
	h.server.respond = func(int, string) string { return `{"duo_message_delivered":null}` }

	out := h.sender.Send(context.Background(), peer, Text("hi"), "m1", SendOptions{Timeout: time.Second})
	assert.Equal(t, Sent, out.Status)
}

func TestAckForOtherMessageIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	h.server.respond = func(int, string) string { return ack("duo_message_delivered", "someone-else", "") }

	out := h.sender.Send(context.Background(), peer, Text("hi"), "m1", SendOptions{Tries: 1, Timeout: fast})
	assert.Equal(t, Timeout, out.Status)
}

func TestTypingIsFireAndForget(t *testing.T) {
	h := newHarness(t, Options{})

	start := time.Now()
	out := h.sender.Send(context.Background(), peer, Typing(), "t1", SendOptions{Timeout: time.Hour})

	assert.Equal(t, Sent, out.Status)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, h.server.typing)
	assert.Empty(t, h.inbox.Sent())
	_, tracked := h.sender.Status("t1")
	assert.False(t, tracked)
}

func TestTimeoutConfirmedByHistory(t *testing.T) {
	h := newHarness(t, Options{})
	h.history.last = func() string { return "m1" }

	out := h.sender.Send(context.Background(), peer, Text("hi"), "m1", SendOptions{Timeout: fast})

	assert.Equal(t, Sent, out.Status)
	assert.Equal(t, 1, h.server.Transmissions(), "no duplicate transmission")
	assert.Equal(t, 1, h.history.calls)
	assert.Equal(t, []string{peer + ":hi"}, h.inbox.Sent())
}

func TestTimeoutRetriesWhenHistoryDisagrees(t *testing.T) {
	h := newHarness(t, Options{})
	h.history.last = func() string { return "previous" }
	h.server.respond = func(n int, id string) string {
		if n < 2 {
			return ""
		}
		return ack("duo_message_delivered", id, "")
	}

	out := h.sender.Send(context.Background(), peer, Text("hi"), "m1", SendOptions{Timeout: fast})

	assert.Equal(t, Sent, out.Status)
	assert.Equal(t, 2, h.server.Transmissions())
	assert.Equal(t, "m1", h.server.chats[1]["@id"], "retries reuse the client id")
}

func TestTimeoutExhaustsBudget(t *testing.T) {
	h := newHarness(t, Options{})
	ch, unsub := h.bus.Subscribe(bus.KindMessageStatus, 10)
	defer unsub()

	out := h.sender.Send(context.Background(), peer, Text("hi"), "m1", SendOptions{Timeout: fast})

	assert.Equal(t, Timeout, out.Status)
	assert.False(t, out.Status.IsRejection())
	assert.Equal(t, DefaultTries, h.server.Transmissions())
	assert.Equal(t, DefaultTries, h.history.calls)
	assert.Empty(t, h.inbox.Sent())

	var seen []Status
	for len(ch) > 0 {
		seen = append(seen, (<-ch).Payload.(StatusChange).Status)
	}
	assert.Equal(t, []Status{Sending, Timeout}, seen)
}

func TestSignedOutIsBlocked(t *testing.T) {
	h := newHarness(t, Options{Identity: staticIdentity("")})

	out := h.sender.Send(context.Background(), peer, Text("hi"), "m1", SendOptions{})
	assert.Equal(t, Blocked, out.Status)
	assert.Zero(t, h.server.Transmissions())
}

func TestStatusPredicates(t *testing.T) {
	assert.False(t, Sending.IsTerminal())
	assert.True(t, Sent.IsTerminal())
	assert.False(t, Sent.IsRejection())
	assert.True(t, Spam.IsRejection())
	assert.False(t, Spam.IsDuplicate())
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSenderDrainsQueue(t *testing.T) {
	db := testDB(t)
	logger, _ := zap.NewDevelopment()
	h := newHarness(t, Options{DB: db, Logger: logger, PollInterval: 10 * time.Millisecond})
	h.server.respond = func(_ int, id string) string { return ack("duo_message_delivered", id, "") }

	id, err := h.sender.Queue(peer, Text("queued hello"))
	require.NoError(t, err)

	h.sender.Start(context.Background())
	defer h.sender.Stop()

	require.Eventually(t, func() bool {
		e, err := db.GetOutbox(id)
		return err == nil && e != nil && e.Status == string(Sent)
	}, 2*time.Second, 10*time.Millisecond)

	e, _ := db.GetOutbox(id)
	assert.Equal(t, 1, e.Attempts)
	msgs, err := db.ListMessages(peer, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "queued hello", msgs[0].Body)
	assert.Equal(t, string(Sent), msgs[0].Status)
	assert.True(t, msgs[0].FromMe)
}

func TestSenderRecordsRejectionInQueue(t *testing.T) {
	db := testDB(t)
	h := newHarness(t, Options{DB: db, PollInterval: 10 * time.Millisecond})
	h.server.respond = func(_ int, id string) string { return ack("duo_message_too_long", id, "") }

	id, err := h.sender.Queue(peer, Text("way too long"))
	require.NoError(t, err)
	h.sender.Start(context.Background())
	defer h.sender.Stop()

	require.Eventually(t, func() bool {
		e, _ := db.GetOutbox(id)
		return e != nil && e.Status == string(TooLong)
	}, 2*time.Second, 10*time.Millisecond)
	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSenderWaitsUntilOnline(t *testing.T) {
	db := testDB(t)
	var online atomic.Bool
	h := newHarness(t, Options{DB: db, PollInterval: 10 * time.Millisecond, Online: online.Load})
	h.server.respond = func(_ int, id string) string { return ack("duo_message_delivered", id, "") }

	_, err := h.sender.Queue(peer, Text("later"))
	require.NoError(t, err)
	h.sender.Start(context.Background())
	defer h.sender.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.server.Transmissions())

	online.Store(true)
	require.Eventually(t, func() bool { return h.server.Transmissions() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestQueueRequiresDB(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.sender.Queue(peer, Text("x"))
	assert.ErrorIs(t, err, ErrNoQueue)
}
