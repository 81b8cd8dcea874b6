package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/inbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const me = "11111111-1111-4111-8111-111111111111"

type fakeConn struct {
	mu     sync.Mutex
	online bool
	hooks  []func()
	front  []string
	closes int
}

func (c *fakeConn) OnOpen(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
	i := len(c.hooks) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.hooks[i] = nil
	}
}

func (c *fakeConn) SendFront(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.front = append(c.front, string(p))
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.online = false
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// open simulates a socket opening and runs the registered hooks.
func (c *fakeConn) open() {
	c.mu.Lock()
	c.online = true
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		if fn != nil {
			fn()
		}
	}
}

func (c *fakeConn) Front() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.front...)
}

type fakeChat struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (f *fakeChat) AuthStanza(token string) ([]byte, error) {
	return []byte("auth:" + token), nil
}

func (f *fakeChat) RegisterPushToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return f.err
}

func (f *fakeChat) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

type fakeInbox struct {
	mu        sync.Mutex
	refreshes int
	resets    int
	err       error
	end       time.Time
}

func (f *fakeInbox) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.err
}

func (f *fakeInbox) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeInbox) Inbox() *inbox.Inbox {
	in := inbox.Empty()
	in.EndTimestamp = f.end
	return in
}

func (f *fakeInbox) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type tokenRecorder struct {
	mu     sync.Mutex
	tokens []string
}

func (r *tokenRecorder) SetSessionToken(t string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, t)
}

type resubscriber struct {
	mu sync.Mutex
	n  int
}

func (r *resubscriber) Resubscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
}

func (r *resubscriber) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type checkpoints struct {
	mu        sync.Mutex
	watermark time.Time
	calls     int
}

func (c *checkpoints) MarkRefreshed(_, watermark time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.watermark = watermark
}

func (c *checkpoints) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type harness struct {
	acct  *Account
	conn  *fakeConn
	chat  *fakeChat
	inbox *fakeInbox
	rest  *tokenRecorder
	pres  *resubscriber
	cps   *checkpoints
	bus   *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conn:  &fakeConn{},
		chat:  &fakeChat{},
		inbox: &fakeInbox{end: time.UnixMilli(5000)},
		rest:  &tokenRecorder{},
		pres:  &resubscriber{},
		cps:   &checkpoints{},
		bus:   bus.New(),
	}
	h.acct = New(Options{
		Conn:        h.conn,
		Chat:        h.chat,
		Inbox:       h.inbox,
		REST:        h.rest,
		Presence:    h.pres,
		Checkpoints: h.cps,
		Bus:         h.bus,
	})
	h.acct.Start(context.Background())
	t.Cleanup(h.acct.Stop)
	return h
}

func TestLoginValidatesCredentials(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.acct.Login(Credentials{PersonUUID: "nope", SessionToken: "t"}), ErrInvalidCredentials)
	assert.ErrorIs(t, h.acct.Login(Credentials{PersonUUID: me}), ErrInvalidCredentials)
	assert.False(t, h.acct.LoggedIn())
}

func TestSignedOutOpenSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.conn.open()
	assert.Empty(t, h.conn.Front())
	assert.False(t, h.acct.Online())
}

func TestAuthenticatesOnEveryOpen(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acct.Login(Credentials{PersonUUID: me, SessionToken: "tok"}))
	assert.Equal(t, me, h.acct.PersonUUID())
	assert.Equal(t, []string{"tok"}, h.rest.tokens)
	assert.Empty(t, h.conn.Front(), "no socket yet")

	h.conn.open()
	assert.Equal(t, []string{"auth:tok"}, h.conn.Front())
	assert.True(t, h.acct.Online())

	evt, ok := h.bus.Last(bus.KindChatOnline)
	require.True(t, ok)
	assert.Equal(t, true, evt.Payload)

	require.Eventually(t, func() bool { return h.cps.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.inbox.Refreshes())
	assert.Equal(t, 1, h.pres.Count())
	assert.Equal(t, time.UnixMilli(5000), h.cps.watermark)

	h.conn.Close()
	assert.False(t, h.acct.Online())
	h.conn.open()
	assert.Equal(t, []string{"auth:tok", "auth:tok"}, h.conn.Front())
	require.Eventually(t, func() bool { return h.pres.Count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestLoginWhileOpenAuthenticatesImmediately(t *testing.T) {
	h := newHarness(t)
	h.conn.open()
	require.NoError(t, h.acct.Login(Credentials{PersonUUID: me, SessionToken: "tok"}))
	assert.Equal(t, []string{"auth:tok"}, h.conn.Front())
	assert.True(t, h.acct.Online())
}

func TestRefreshFailureSkipsCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.inbox.err = errors.New("timeout")
	require.NoError(t, h.acct.Login(Credentials{PersonUUID: me, SessionToken: "tok"}))
	h.conn.open()
	require.Eventually(t, func() bool { return h.inbox.Refreshes() == 1 }, time.Second, 5*time.Millisecond)
	h.acct.Stop()
	assert.Equal(t, 0, h.cps.Calls())
}

func TestPushTokenRegisteredAfterAuthentication(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acct.SetPushToken(context.Background(), "push-1"))
	assert.Empty(t, h.chat.Tokens(), "offline registration is deferred")

	require.NoError(t, h.acct.Login(Credentials{PersonUUID: me, SessionToken: "tok"}))
	h.conn.open()
	require.Eventually(t, func() bool { return len(h.chat.Tokens()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"push-1"}, h.chat.Tokens())

	require.NoError(t, h.acct.SetPushToken(context.Background(), "push-2"))
	assert.Equal(t, []string{"push-1", "push-2"}, h.chat.Tokens())
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acct.Login(Credentials{PersonUUID: me, SessionToken: "tok"}))
	h.conn.open()
	require.Eventually(t, func() bool { return h.inbox.Refreshes() == 1 }, time.Second, 5*time.Millisecond)

	h.acct.Logout(context.Background())

	assert.Equal(t, []string{""}, h.chat.Tokens(), "push token cleared")
	assert.Equal(t, 1, h.conn.closes)
	assert.Equal(t, 1, h.inbox.resets)
	assert.Equal(t, []string{"tok", ""}, h.rest.tokens)
	assert.False(t, h.acct.LoggedIn())
	assert.False(t, h.acct.Online())

	evt, _ := h.bus.Last(bus.KindChatOnline)
	assert.Equal(t, false, evt.Payload)

	h.conn.open()
	assert.Equal(t, []string{"auth:tok"}, h.conn.Front(), "no authentication after logout")
}

func TestStopRemovesHook(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acct.Login(Credentials{PersonUUID: me, SessionToken: "tok"}))
	h.acct.Stop()
	h.conn.open()
	assert.Empty(t, h.conn.Front())
}

func TestBindSuppliesLateDependencies(t *testing.T) {
	conn := &fakeConn{}
	chat := &fakeChat{}
	in := &fakeInbox{}
	acct := New(Options{Conn: conn})
	acct.Bind(chat, in)
	acct.Start(context.Background())
	t.Cleanup(acct.Stop)

	require.NoError(t, acct.Login(Credentials{PersonUUID: me, SessionToken: "tok"}))
	conn.open()
	assert.Equal(t, []string{"auth:tok"}, conn.Front())
	require.Eventually(t, func() bool { return in.Refreshes() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWithoutChatStaysOffline(t *testing.T) {
	conn := &fakeConn{}
	acct := New(Options{Conn: conn})
	acct.Start(context.Background())
	t.Cleanup(acct.Stop)

	require.NoError(t, acct.Login(Credentials{PersonUUID: me, SessionToken: "tok"}))
	conn.open()
	assert.Empty(t, conn.Front())
	assert.False(t, acct.Online())
}
