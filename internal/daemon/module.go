package daemon

import (
	"context"

	"github.com/matheus3301/matchchat/internal/account"
	"github.com/matheus3301/matchchat/internal/api"
	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/chat"
	"github.com/matheus3301/matchchat/internal/config"
	"github.com/matheus3301/matchchat/internal/conn"
	"github.com/matheus3301/matchchat/internal/correlator"
	"github.com/matheus3301/matchchat/internal/inbox"
	"github.com/matheus3301/matchchat/internal/lock"
	"github.com/matheus3301/matchchat/internal/logging"
	"github.com/matheus3301/matchchat/internal/outbox"
	"github.com/matheus3301/matchchat/internal/presence"
	"github.com/matheus3301/matchchat/internal/restapi"
	"github.com/matheus3301/matchchat/internal/session"
	"github.com/matheus3301/matchchat/internal/status"
	"github.com/matheus3301/matchchat/internal/store"
	intsync "github.com/matheus3301/matchchat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Debug       bool
	// Config is optional; nil resolves the global config file.
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideConnManager,
			provideCorrelator,
			provideREST,
			provideBatcher,
			provideTracker,
			provideReconciler,
			provideAccount,
			provideChat,
			provideInbox,
			provideSyncEngine,
			provideSender,
			provideSessionService,
			provideChatService,
			provideMessageService,
			provideSyncService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.Resolve(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName), cfg.PersonUUID)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideConnManager(cfg *config.Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Options{
		URL:          cfg.Chat.URL,
		InitialDelay: cfg.Chat.InitialBackoff.Std(),
		MaxDelay:     cfg.Chat.MaxBackoff.Std(),
		Bus:          b,
		Machine:      m,
		Logger:       logger.Named("conn"),
	})
}

func provideCorrelator(m *conn.Manager, logger *zap.Logger) *correlator.Correlator {
	return correlator.New(m, logger.Named("correlator"))
}

func provideREST(cfg *config.Config, logger *zap.Logger) *restapi.Client {
	return restapi.New(cfg.API.URL, cfg.SessionToken, cfg.API.Timeout.Std(), logger.Named("rest"))
}

func provideBatcher(corr *correlator.Correlator, cfg *config.Config, logger *zap.Logger) *presence.Batcher {
	return presence.NewBatcher(corr, cfg.Presence.Window.Std(), logger.Named("presence"))
}

func provideTracker(b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(b)
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

// provideAccount builds the account without its chat client and inbox, which
// both depend on the account for identity. They are bound on start.
func provideAccount(m *conn.Manager, rest *restapi.Client, batcher *presence.Batcher, r *intsync.Reconciler, b *bus.Bus, logger *zap.Logger) *account.Account {
	return account.New(account.Options{
		Conn:        m,
		REST:        rest,
		Presence:    batcher,
		Checkpoints: r,
		Bus:         b,
		Logger:      logger.Named("account"),
	})
}

func provideChat(corr *correlator.Correlator, acct *account.Account, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *chat.Client {
	return chat.New(corr, acct, chat.Options{
		Domain:         cfg.Chat.Domain,
		HistoryTimeout: cfg.Chat.HistoryTimeout.Std(),
		InboxTimeout:   cfg.Chat.InboxTimeout.Std(),
		PushTimeout:    cfg.Chat.PushTimeout.Std(),
		Bus:            b,
		Logger:         logger.Named("chat"),
	})
}

func provideInbox(c *chat.Client, rest *restapi.Client, db *store.DB, cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*inbox.Store, error) {
	in := inbox.New(inbox.Options{
		Querier:        c,
		Enricher:       rest,
		Skipper:        rest,
		Persister:      db,
		Bus:            b,
		Logger:         logger.Named("inbox"),
		SettleDelay:    cfg.Inbox.SettleDelay.Std(),
		SettleAttempts: cfg.Inbox.SettleAttempts,
	})
	if err := in.Load(); err != nil {
		return nil, err
	}
	c.SetReadMarker(in)
	return in, nil
}

func provideSyncEngine(db *store.DB, b *bus.Bus, in *inbox.Store, acct *account.Account, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, in, acct, logger.Named("sync"))
}

func provideSender(corr *correlator.Correlator, acct *account.Account, c *chat.Client, in *inbox.Store, db *store.DB, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(outbox.Options{
		Correlator:   corr,
		Identity:     acct,
		Domain:       cfg.Chat.Domain,
		History:      c,
		Inbox:        in,
		DB:           db,
		Bus:          b,
		Logger:       logger.Named("outbox"),
		Online:       acct.Online,
		PollInterval: cfg.Outbox.PollInterval.Std(),
	})
}

func provideSessionService(p Params, m *status.Machine, acct *account.Account, db *store.DB) *api.SessionService {
	return api.NewSessionService(p.SessionName, m, acct, db)
}

func provideChatService(in *inbox.Store, db *store.DB, acct *account.Account) *api.ChatService {
	return api.NewChatService(in, db, acct)
}

func provideMessageService(c *chat.Client, sender *outbox.Sender, engine *intsync.Engine, db *store.DB, cfg *config.Config, logger *zap.Logger) *api.MessageService {
	opts := outbox.SendOptions{Tries: cfg.Outbox.Tries, Timeout: cfg.Outbox.Timeout.Std()}
	return api.NewMessageService(c, sender, engine, db, opts, logger.Named("api"))
}

func provideSyncService(p Params, in *inbox.Store, r *intsync.Reconciler, batcher *presence.Batcher, tracker *presence.Tracker, m *status.Machine, b *bus.Bus, cfg *config.Config) *api.SyncService {
	return api.NewSyncService(in, r, batcher, tracker, m, b, api.SyncConfig{
		SessionName: p.SessionName,
		PageSize:    cfg.Inbox.PageSize,
	})
}

type lifecycleParams struct {
	fx.In

	Config     *config.Config
	Server     *Server
	Lock       *lock.Lock
	DB         *store.DB
	Conn       *conn.Manager
	Correlator *correlator.Correlator
	Account    *account.Account
	Chat       *chat.Client
	Inbox      *inbox.Store
	Batcher    *presence.Batcher
	Tracker    *presence.Tracker
	Engine     *intsync.Engine
	Sender     *outbox.Sender
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	var (
		cancel       context.CancelFunc
		removeListen func()
		unsubscribe  func()
	)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx, c := context.WithCancel(context.Background())
			cancel = c

			p.Account.Bind(p.Chat, p.Inbox)
			removeListen = p.Correlator.Listen(p.Tracker.Handle)
			p.Engine.Start(ctx, p.Correlator)

			// Keep the lock file's identity in step with the signed in person.
			var events <-chan bus.Event
			events, unsubscribe = p.Bus.Subscribe(bus.KindChatOnline, 4)
			go followIdentity(ctx, events, p.Account.PersonUUID, p.Lock.Update, p.Logger)

			// Start gRPC server in background.
			go func() {
				if err := p.Server.Start(); err != nil {
					p.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			p.Account.Start(ctx)
			p.Conn.Start(ctx)
			p.Sender.Start(ctx)

			if p.Config.PersonUUID == "" || p.Config.SessionToken == "" {
				p.Logger.Info("no credentials configured, login required")
				return nil
			}
			err := p.Account.Login(account.Credentials{
				PersonUUID:   p.Config.PersonUUID,
				SessionToken: p.Config.SessionToken,
			})
			if err != nil {
				p.Logger.Warn("configured credentials rejected", zap.Error(err))
				return nil
			}
			if p.Config.PushToken != "" {
				if err := p.Account.SetPushToken(ctx, p.Config.PushToken); err != nil {
					p.Logger.Warn("push token registration failed", zap.Error(err))
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if unsubscribe != nil {
				unsubscribe()
			}
			p.Sender.Stop()
			p.Account.Stop()
			p.Conn.Stop()
			p.Engine.Stop()
			p.Batcher.Stop()
			if removeListen != nil {
				removeListen()
			}
			p.Correlator.Close()
			p.Server.Stop(ctx)
			if err := p.DB.Close(); err != nil {
				p.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				p.Logger.Warn("error releasing lock", zap.Error(err))
			}
			p.Logger.Info("daemon stopped")
			return nil
		},
	})
}

// followIdentity rewrites the lock file's person each time the chat comes
// online, until ctx ends or events is closed.
func followIdentity(ctx context.Context, events <-chan bus.Event, person func() string, update func(string) error, logger *zap.Logger) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if online, _ := evt.Payload.(bool); !online {
				continue
			}
			if err := update(person()); err != nil {
				logger.Warn("failed to update session lock", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
