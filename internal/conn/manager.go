package conn

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/status"
	"go.uber.org/zap"
)

// CommandKind distinguishes queued socket commands.
type CommandKind int

const (
	CommandSend CommandKind = iota
	CommandClose
)

// Command is a unit of work for the socket, executed in FIFO order.
type Command struct {
	Kind    CommandKind
	Payload []byte
}

// Options configures a Manager.
type Options struct {
	URL          string
	Dialer       Dialer
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Bus          *bus.Bus
	Machine      *status.Machine
	Logger       *zap.Logger
}

type listener[T any] struct {
	id int
	fn T
}

// Manager owns the single chat socket. It dials, redials with exponential
// backoff, and holds outbound commands in a queue while no socket is open.
type Manager struct {
	url     string
	dialer  Dialer
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	backoff func() backoff.BackOff
	wait    func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	sock     Socket
	queue    []Command
	flushing bool
	opening  bool // open hooks running; the queue only grows
	inbound  []listener[func([]byte)]
	onOpen   []listener[func()]
	nextID   int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a connection manager. Start must be called to connect.
func NewManager(opts Options) *Manager {
	initial := opts.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	machine := opts.Machine
	if machine == nil {
		machine = status.NewMachine(opts.Bus)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WSDialer{HandshakeTimeout: 10 * time.Second}
	}

	return &Manager{
		url:     opts.URL,
		dialer:  dialer,
		bus:     opts.Bus,
		machine: machine,
		logger:  logger,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.Multiplier = 2
			b.RandomizationFactor = 0
			b.MaxInterval = maxDelay
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
		wait: sleepCtx,
	}
}

// Start begins the dial loop in the background.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop halts reconnection and closes the current socket.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	m.mu.Lock()
	sock := m.sock
	m.sock = nil
	m.mu.Unlock()
	if sock != nil {
		_ = sock.Close()
	}
	<-done
	_ = m.machine.Transition(status.Stopped)
}

// Send queues a payload for transmission. It never reports errors: the payload
// is retried on the next open if it cannot be written now.
func (m *Manager) Send(payload []byte) {
	m.enqueue(Command{Kind: CommandSend, Payload: payload})
}

// SendFront queues a payload ahead of everything already waiting. Used for
// the authentication stanza, which must precede queued traffic on a new socket.
func (m *Manager) SendFront(payload []byte) {
	m.mu.Lock()
	m.queue = append([]Command{{Kind: CommandSend, Payload: payload}}, m.queue...)
	m.mu.Unlock()
	m.flush()
}

// Close queues a graceful close of the current socket. The dial loop will
// open a new one after the usual backoff.
func (m *Manager) Close() {
	m.enqueue(Command{Kind: CommandClose})
}

// Online reports whether a socket is currently open.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sock != nil
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Pending returns the number of queued commands.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// OnInbound registers fn to receive every inbound frame, in registration order.
func (m *Manager) OnInbound(fn func(raw []byte)) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.inbound = append(m.inbound, listener[func([]byte)]{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.inbound = removeListener(m.inbound, id)
	}
}

// OnOpen registers fn to run each time a socket opens, before the queue is
// flushed. Hooks run on the read goroutine and must not wait for inbound frames.
func (m *Manager) OnOpen(fn func()) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.onOpen = append(m.onOpen, listener[func()]{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.onOpen = removeListener(m.onOpen, id)
	}
}

func removeListener[T any](ls []listener[T], id int) []listener[T] {
	out := ls[:0:0]
	for _, l := range ls {
		if l.id != id {
			out = append(out, l)
		}
	}
	return out
}

func (m *Manager) enqueue(cmd Command) {
	m.mu.Lock()
	m.queue = append(m.queue, cmd)
	m.mu.Unlock()
	m.flush()
}

// flush drains the queue while a socket is open. Only one goroutine writes at
// a time; a failed write puts the command back at the head and stops. Nothing
// is written while open hooks run, so their SendFront lands first.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing || m.opening {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sock := m.sock
		if sock == nil || m.opening || len(m.queue) == 0 {
			m.flushing = false
			m.mu.Unlock()
			return
		}
		cmd := m.queue[0]
		m.queue = m.queue[1:]
		if cmd.Kind == CommandClose {
			m.sock = nil
		}
		m.mu.Unlock()

		switch cmd.Kind {
		case CommandSend:
			if err := sock.WriteMessage(cmd.Payload); err != nil {
				m.logger.Warn("socket write failed, command re-queued", zap.Error(err))
				m.mu.Lock()
				m.queue = append([]Command{cmd}, m.queue...)
				m.flushing = false
				m.mu.Unlock()
				return
			}
		case CommandClose:
			m.logger.Info("closing socket on request")
			_ = sock.Close()
		}
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	bo := m.backoff()

	for ctx.Err() == nil {
		m.transition(status.Connecting)
		sock, err := m.dialer.Dial(ctx, m.url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("dial failed", zap.String("url", m.url), zap.Error(err))
			m.closed()
			if !m.wait(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		bo.Reset()
		if !m.opened(ctx, sock) {
			_ = sock.Close()
			return
		}
		m.readLoop(sock)

		m.mu.Lock()
		if m.sock == sock {
			m.sock = nil
		}
		m.mu.Unlock()
		_ = sock.Close()

		if ctx.Err() != nil {
			return
		}
		m.closed()
		delay := bo.NextBackOff()
		m.logger.Info("socket closed, reconnecting", zap.Duration("delay", delay))
		if !m.wait(ctx, delay) {
			return
		}
	}
}

func (m *Manager) opened(ctx context.Context, sock Socket) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.sock = sock
	m.opening = true
	hooks := make([]func(), 0, len(m.onOpen))
	for _, l := range m.onOpen {
		hooks = append(hooks, l.fn)
	}
	m.mu.Unlock()

	m.transition(status.Open)
	m.logger.Info("socket open", zap.String("url", m.url))
	if m.bus != nil {
		m.bus.Emit(bus.KindConnOpened, m.url)
	}
	for _, fn := range hooks {
		fn()
	}
	m.mu.Lock()
	m.opening = false
	m.mu.Unlock()
	m.flush()
	return true
}

func (m *Manager) closed() {
	m.transition(status.Disconnected)
	if m.bus != nil {
		m.bus.Emit(bus.KindConnClosed, m.url)
	}
}

func (m *Manager) readLoop(sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			m.logger.Debug("read loop ended", zap.Error(err))
			return
		}
		m.mu.Lock()
		fns := make([]func([]byte), 0, len(m.inbound))
		for _, l := range m.inbound {
			fns = append(fns, l.fn)
		}
		m.mu.Unlock()
		for _, fn := range fns {
			fn(data)
		}
	}
}

func (m *Manager) transition(to status.State) {
	if m.machine.Current() == to {
		return
	}
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
