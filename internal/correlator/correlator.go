// Package correlator multiplexes request/response exchanges over the single
// chat socket. Every inbound frame is decoded once and offered to each live
// exchange; an exchange resolves exactly once, by match, sentinel or deadline.
package correlator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/matchchat/internal/wire"
	"go.uber.org/zap"
)

// ErrTimeout is returned when an exchange gets no terminating frame in time.
var ErrTimeout = errors.New("exchange timed out")

// DefaultTimeout applies to exchanges that do not set one.
const DefaultTimeout = 10 * time.Second

// Transport is the part of the connection manager the correlator relies on.
type Transport interface {
	Send(payload []byte)
	OnInbound(fn func(raw []byte)) (remove func())
}

// Correlator fans decoded inbound frames out to exchanges and listeners.
type Correlator struct {
	transport Transport
	logger    *zap.Logger
	detach    func()

	mu        sync.Mutex
	handlers  map[uint64]func(wire.Frame)
	order     []uint64
	nextID    uint64
	exchanges int
}

// New attaches a correlator to the transport's inbound stream.
func New(t Transport, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Correlator{
		transport: t,
		logger:    logger,
		handlers:  make(map[uint64]func(wire.Frame)),
	}
	c.detach = t.OnInbound(c.dispatch)
	return c
}

// Close detaches from the transport.
func (c *Correlator) Close() {
	if c.detach != nil {
		c.detach()
	}
}

// Send transmits a payload without waiting for any response.
func (c *Correlator) Send(payload []byte) {
	c.transport.Send(payload)
}

// Listen registers a long-lived consumer of every decoded frame.
func (c *Correlator) Listen(fn func(wire.Frame)) (remove func()) {
	id := c.register(fn, false)
	var once sync.Once
	return func() { once.Do(func() { c.unregister(id, false) }) }
}

// Live returns the number of exchanges awaiting resolution.
func (c *Correlator) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchanges
}

func (c *Correlator) register(fn func(wire.Frame), exchange bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = fn
	c.order = append(c.order, id)
	if exchange {
		c.exchanges++
	}
	return id
}

func (c *Correlator) unregister(id uint64, exchange bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[id]; !ok {
		return
	}
	delete(c.handlers, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	if exchange {
		c.exchanges--
	}
}

func (c *Correlator) dispatch(raw []byte) {
	frame := wire.Decode(raw)
	if frame.Kind == wire.KindUnknown {
		c.logger.Debug("unrecognized frame", zap.ByteString("raw", raw))
	}

	c.mu.Lock()
	fns := make([]func(wire.Frame), 0, len(c.order))
	for _, id := range c.order {
		fns = append(fns, c.handlers[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(frame)
	}
}

// Exchange describes one request and how to recognise its response.
//
// With neither Match nor Sentinel the payload is sent and Call returns at once.
// With Match only, the first matched value resolves the exchange. With a
// Sentinel, matched values accumulate until the sentinel frame arrives.
type Exchange[T any] struct {
	Payload  []byte
	Match    func(wire.Frame) (T, bool)
	Sentinel func(wire.Frame) bool
	Timeout  time.Duration
}

// Result holds a resolved exchange: Value for single-response exchanges,
// Values for streamed ones.
type Result[T any] struct {
	Value  T
	Values []T
}

// Call runs an exchange. The listener is in place before the payload is
// queued and removed when the exchange resolves, whatever the cause.
func Call[T any](ctx context.Context, c *Correlator, ex Exchange[T]) (Result[T], error) {
	if ex.Match == nil && ex.Sentinel == nil {
		c.transport.Send(ex.Payload)
		return Result[T]{}, nil
	}
	timeout := ex.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var (
		mu       sync.Mutex
		finished bool
		res      Result[T]
		done     = make(chan struct{})
	)
	finish := func() {
		finished = true
		close(done)
	}

	id := c.register(func(f wire.Frame) {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		if ex.Match != nil {
			if v, ok := ex.Match(f); ok {
				if ex.Sentinel == nil {
					res.Value = v
					finish()
					return
				}
				res.Values = append(res.Values, v)
			}
		}
		if ex.Sentinel != nil && ex.Sentinel(f) {
			finish()
		}
	}, true)
	defer c.unregister(id, true)

	c.transport.Send(ex.Payload)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case <-done:
	case <-timer.C:
		cause = ErrTimeout
	case <-ctx.Done():
		cause = ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	if cause != nil && !finished {
		finished = true
		return Result[T]{}, cause
	}
	return res, nil
}
