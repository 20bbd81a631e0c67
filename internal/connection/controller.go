// Package connection implements ConnectionController: orchestration of
// the streaming instance's session lifecycle (connect, auto-reconnect,
// ping, resubscribe-on-reconnect). Grounded on the teacher's
// internal/websocket/connection.go reconnection state machine
// (autoReconnect/reconnectAttempts/reconnecting guarded by a mutex,
// exponential backoff with a cap), with the backoff math itself swapped
// from the teacher's hand-rolled `1<<attempt` loop for
// cenkalti/backoff.ExponentialBackOff per SPEC_FULL.md §4.5.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/errs"
	"github.com/qpub/qpub-client-go/internal/eventbus"
	"github.com/qpub/qpub-client-go/internal/frame"
	"github.com/qpub/qpub-client-go/internal/transport"
)

// Event names emitted on the owning instance's connection Bus.
const (
	EventInitialized  = "INITIALIZED"
	EventConnecting   = "CONNECTING"
	EventOpened       = "OPENED"
	EventConnected    = "CONNECTED"
	EventDisconnected = "DISCONNECTED"
	EventClosing      = "CLOSING"
	EventClosed       = "CLOSED"
	EventFailed       = "FAILED"
)

// Event carries the payload for every connection event above.
type Event struct {
	Err error
}

// Resubscriber is the dependency ConnectionController calls once a
// session reaches Connected, satisfied by *registry.Registry without an
// import cycle (Registry in turn needs the Socket ConnectionController
// owns).
type Resubscriber interface {
	ResubscribeAll(ctx context.Context)
}

// Config configures a Controller at construction. The reconnect policy
// fields mirror options.Options' ReconnectInitialDelay/ReconnectMaxDelay/
// ReconnectMultiplier/MaxReconnectAttempts.
type Config struct {
	Socket                *transport.Socket
	Resubscriber          Resubscriber
	AutoReconnect         bool
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMultiplier   float64
	MaxReconnectAttempts  int
	ConnectTimeout        time.Duration
	PingTimeout           time.Duration
	Logger                zerolog.Logger
}

// Controller orchestrates the streaming instance's session lifecycle on
// top of a transport.Socket, triggering ChannelRegistry.ResubscribeAll
// on every successful (re)connection.
type Controller struct {
	cfg Config
	bus *eventbus.Bus

	mu        sync.Mutex
	cancelCtx context.Context
	cancel    context.CancelFunc
	connected bool

	pongWaiters map[int64]chan struct{}
	pongMu      sync.Mutex
}

// New constructs a Controller. bus receives the eight lifecycle events
// listed in spec.md §4.5.
func New(cfg Config, bus *eventbus.Bus) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:         cfg,
		bus:         bus,
		cancelCtx:   ctx,
		cancel:      cancel,
		pongWaiters: make(map[int64]chan struct{}),
	}
	cfg.Socket.OnGlobalFrame(c.onGlobalFrame)
	bus.Emit(EventInitialized, Event{})
	return c
}

// IsConnected reports whether the underlying socket currently reports a
// connected session.
func (c *Controller) IsConnected() bool {
	return c.cfg.Socket.State() == transport.StateConnected
}

// Connect dials the transport. On success it emits OPENED then CONNECTED
// and triggers a resubscribe sweep; on failure it either starts the
// reconnect loop (AutoReconnect) or returns the dial error.
func (c *Controller) Connect(ctx context.Context) error {
	c.bus.Emit(EventConnecting, Event{})

	dialCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := c.cfg.Socket.Connect(dialCtx); err != nil {
		c.bus.Emit(EventFailed, Event{Err: err})
		if c.cfg.AutoReconnect {
			go c.reconnectLoop(c.cancelCtx)
			return nil
		}
		return err
	}

	c.onConnected()
	return nil
}

func (c *Controller) onConnected() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.bus.Emit(EventOpened, Event{})
	c.bus.Emit(EventConnected, Event{})
	if c.cfg.Resubscriber != nil {
		go c.cfg.Resubscriber.ResubscribeAll(c.cancelCtx)
	}
}

// HandleDisconnect is invoked when the socket reports an unexpected
// drop (wired by the owning instance, which observes transport.Event).
func (c *Controller) HandleDisconnect(err error) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if !wasConnected {
		return
	}
	c.bus.Emit(EventDisconnected, Event{Err: err})
	if c.cfg.AutoReconnect {
		go c.reconnectLoop(c.cancelCtx)
	}
}

// reconnectLoop retries Connect with exponential backoff until it
// succeeds, cancelCtx (the controller's context when the loop started)
// is cancelled by Reset, or MaxReconnectAttempts (0 means unlimited) is
// exhausted.
func (c *Controller) reconnectLoop(cancelCtx context.Context) {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     nonZero(c.cfg.ReconnectInitialDelay, time.Second),
		RandomizationFactor: 0.2,
		Multiplier:          nonZeroFloat(c.cfg.ReconnectMultiplier, 2.0),
		MaxInterval:         nonZero(c.cfg.ReconnectMaxDelay, 30*time.Second),
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	policy.Reset()

	var bo backoff.BackOff = policy
	if c.cfg.MaxReconnectAttempts > 0 {
		bo = backoff.WithMaxRetries(policy, uint64(c.cfg.MaxReconnectAttempts))
	}

	err := backoff.Retry(func() error {
		select {
		case <-cancelCtx.Done():
			return backoff.Permanent(errs.Cancelled("connection.reconnect"))
		default:
		}

		ctx := cancelCtx
		if c.cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			defer cancel()
		}

		if err := c.cfg.Socket.Connect(ctx); err != nil {
			c.cfg.Logger.Warn().Err(err).Msg("connection: reconnect attempt failed")
			return err
		}
		return nil
	}, bo)

	if err != nil {
		c.bus.Emit(EventFailed, Event{Err: err})
		return
	}
	c.onConnected()
}

// Disconnect closes the transport cleanly: emits CLOSING, closes the
// socket, then emits CLOSED.
func (c *Controller) Disconnect() error {
	c.bus.Emit(EventClosing, Event{})
	err := c.cfg.Socket.Close()
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.bus.Emit(EventClosed, Event{})
	return err
}

// Ping sends a PING frame and returns the measured round-trip time.
func (c *Controller) Ping(ctx context.Context) (time.Duration, error) {
	ts := time.Now().UnixMilli()

	wait := make(chan struct{})
	c.pongMu.Lock()
	c.pongWaiters[ts] = wait
	c.pongMu.Unlock()
	defer func() {
		c.pongMu.Lock()
		delete(c.pongWaiters, ts)
		c.pongMu.Unlock()
	}()

	sent := time.Now()
	if err := c.cfg.Socket.SendEnvelope(ctx, frame.Ping(ts)); err != nil {
		return 0, err
	}

	timeout := c.cfg.PingTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	select {
	case <-wait:
		return time.Since(sent), nil
	case <-ctx.Done():
		return 0, errs.Cancelled("connection.ping")
	case <-time.After(timeout):
		return 0, errs.Timeout("connection.ping", "no PONG received")
	}
}

func (c *Controller) onGlobalFrame(e frame.Envelope) {
	if e.Action != frame.ActionPong {
		return
	}
	c.pongMu.Lock()
	wait, ok := c.pongWaiters[e.Timestamp]
	c.pongMu.Unlock()
	if ok {
		close(wait)
	}
}

// Reset signals cancellation to any in-flight reconnect loop and
// installs a fresh cancellation context, per spec.md §5's per-instance
// cancellation token.
func (c *Controller) Reset() {
	c.cancel()
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelCtx = ctx
	c.cancel = cancel
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func nonZeroFloat(f, fallback float64) float64 {
	if f <= 0 {
		return fallback
	}
	return f
}
