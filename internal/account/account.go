// Package account holds the signed in identity and drives authentication on
// every socket open.
package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/inbox"
	"github.com/matheus3301/matchchat/internal/wire"
	"go.uber.org/zap"
)

// ErrInvalidCredentials is returned by Login for a malformed identity or an
// empty session token.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials identify the signed in person.
type Credentials struct {
	PersonUUID   string
	SessionToken string
}

// Conn is the connection manager as seen by the account.
type Conn interface {
	OnOpen(fn func()) (remove func())
	SendFront(payload []byte)
	Close()
	Online() bool
}

// Chat builds the authentication stanza and registers push tokens.
type Chat interface {
	AuthStanza(sessionToken string) ([]byte, error)
	RegisterPushToken(ctx context.Context, token string) error
}

// Inbox is refreshed after each authentication and emptied on logout.
type Inbox interface {
	Refresh(ctx context.Context) error
	Reset()
	Inbox() *inbox.Inbox
}

// TokenSetter receives the session token for REST calls.
type TokenSetter interface {
	SetSessionToken(token string)
}

// Resubscriber replays presence interest after a reconnect.
type Resubscriber interface {
	Resubscribe()
}

// Checkpointer records completed inbox refreshes.
type Checkpointer interface {
	MarkRefreshed(at, watermark time.Time)
}

// Options configures an Account. Conn is required; Chat must be set here or
// through Bind before Start.
type Options struct {
	Conn        Conn
	Chat        Chat
	Inbox       Inbox
	REST        TokenSetter
	Presence    Resubscriber
	Checkpoints Checkpointer
	Bus         *bus.Bus
	Logger      *zap.Logger
	Now         func() time.Time
}

// Account is the signed in user. It authenticates ahead of any queued traffic
// whenever the socket opens, then refreshes the inbox in the background.
type Account struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	creds      Credentials
	pushToken  string
	authed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	removeHook func()
	wg         sync.WaitGroup
}

// New creates a signed out account.
func New(opts Options) *Account {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Account{opts: opts, logger: logger, now: now, ctx: context.Background()}
}

// Bind supplies the chat client and inbox after construction, for wiring
// where both depend on the account as their identity. It must be called
// before Start.
func (a *Account) Bind(c Chat, in Inbox) {
	a.opts.Chat = c
	a.opts.Inbox = in
}

// PersonUUID returns the signed in identity, or "" when signed out.
func (a *Account) PersonUUID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds.PersonUUID
}

// LoggedIn reports whether credentials are held.
func (a *Account) LoggedIn() bool {
	return a.PersonUUID() != ""
}

// Online reports whether the current socket has been authenticated.
func (a *Account) Online() bool {
	a.mu.Lock()
	authed := a.authed
	a.mu.Unlock()
	return authed && a.opts.Conn.Online()
}

// Start hooks authentication onto socket opens. If a socket is already open
// and credentials are held, it authenticates right away.
func (a *Account) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	remove := a.opts.Conn.OnOpen(a.opened)

	a.mu.Lock()
	a.removeHook = remove
	a.mu.Unlock()

	if a.opts.Conn.Online() {
		a.authenticate()
	}
}

// Stop removes the open hook and waits for background refreshes.
func (a *Account) Stop() {
	a.mu.Lock()
	cancel, remove := a.cancel, a.removeHook
	a.cancel, a.removeHook = nil, nil
	a.mu.Unlock()

	if remove != nil {
		remove()
	}
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

// Login stores credentials and authenticates if a socket is open.
func (a *Account) Login(creds Credentials) error {
	if !wire.IsPersonUUID(creds.PersonUUID) || creds.SessionToken == "" {
		return ErrInvalidCredentials
	}
	a.mu.Lock()
	a.creds = creds
	a.authed = false
	a.mu.Unlock()

	if a.opts.REST != nil {
		a.opts.REST.SetSessionToken(creds.SessionToken)
	}
	a.logger.Info("logged in", zap.String("person_uuid", creds.PersonUUID))
	if a.opts.Conn.Online() {
		a.authenticate()
	}
	return nil
}

// Logout clears the push token on the server, drops the socket and forgets
// the inbox. The connection manager reopens a socket that stays
// unauthenticated until the next Login.
func (a *Account) Logout(ctx context.Context) {
	if a.Online() && a.opts.Chat != nil {
		if err := a.opts.Chat.RegisterPushToken(ctx, ""); err != nil {
			a.logger.Warn("failed to clear push token", zap.Error(err))
		}
	}

	a.mu.Lock()
	a.creds = Credentials{}
	a.authed = false
	a.mu.Unlock()

	a.opts.Conn.Close()
	if a.opts.Inbox != nil {
		a.opts.Inbox.Reset()
	}
	if a.opts.REST != nil {
		a.opts.REST.SetSessionToken("")
	}
	a.emit(false)
	a.logger.Info("logged out")
}

// SetPushToken remembers the device push token and registers it now when
// online, otherwise after the next authentication.
func (a *Account) SetPushToken(ctx context.Context, token string) error {
	a.mu.Lock()
	a.pushToken = token
	a.mu.Unlock()

	if !a.Online() || a.opts.Chat == nil {
		return nil
	}
	return a.opts.Chat.RegisterPushToken(ctx, token)
}

func (a *Account) opened() {
	a.mu.Lock()
	a.authed = false
	a.mu.Unlock()
	a.authenticate()
}

// authenticate runs on the socket's open hook, so it only queues the stanza
// and leaves the round trips to a background goroutine.
func (a *Account) authenticate() {
	a.mu.Lock()
	if a.authed || a.creds.PersonUUID == "" {
		a.mu.Unlock()
		return
	}
	token := a.creds.SessionToken
	a.mu.Unlock()

	if a.opts.Chat == nil {
		a.logger.Warn("cannot authenticate without a chat client")
		return
	}
	stanza, err := a.opts.Chat.AuthStanza(token)
	if err != nil {
		a.logger.Warn("cannot authenticate", zap.Error(err))
		return
	}
	a.opts.Conn.SendFront(stanza)

	a.mu.Lock()
	a.authed = true
	ctx := a.ctx
	push := a.pushToken
	a.mu.Unlock()

	a.emit(true)
	a.logger.Debug("authentication sent")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.afterAuth(ctx, push)
	}()
}

func (a *Account) afterAuth(ctx context.Context, push string) {
	if a.opts.Presence != nil {
		a.opts.Presence.Resubscribe()
	}
	if a.opts.Inbox != nil {
		started := a.now()
		if err := a.opts.Inbox.Refresh(ctx); err != nil {
			a.logger.Warn("inbox refresh after authentication failed", zap.Error(err))
		} else if a.opts.Checkpoints != nil {
			a.opts.Checkpoints.MarkRefreshed(started, a.opts.Inbox.Inbox().EndTimestamp)
		}
	}
	if push != "" && a.opts.Chat != nil {
		if err := a.opts.Chat.RegisterPushToken(ctx, push); err != nil {
			a.logger.Warn("push token registration abandoned", zap.Error(err))
		}
	}
}

func (a *Account) emit(online bool) {
	if a.opts.Bus != nil {
		a.opts.Bus.Emit(bus.KindChatOnline, online)
	}
}
