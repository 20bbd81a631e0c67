// Package transport implements the TransportSocket component: a thin
// async adapter over the streaming transport (connect/send/close/events)
// plus the central frame demultiplexer described in spec.md §9 ("Channel
// lifetime and the frame filter"). Mechanically this is the teacher's
// internal/websocket/connection.go (single reader goroutine, single
// ping-loop goroutine, sync.Once-guarded doneChan, write-mutex-protected
// Send) generalized from Binance's raw-bytes handler to the QPub wire
// frame. Reconnect policy is not this package's concern: Socket reports
// drops via onEvent and leaves retry timing to ConnectionController.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/errs"
	"github.com/qpub/qpub-client-go/internal/frame"
)

// RouteFunc receives one decoded inbound frame already known to belong
// to a particular channel.
type RouteFunc func(frame.Envelope)

// Event is emitted on the Socket's own lifecycle bus. Channel-scoped
// frame routing happens separately via OnChannelFrame/OnGlobalFrame.
type Event struct {
	Name string // "opened", "closed", "failed", "disconnected"
	Err  error
}

// Socket adapts a single gorilla/websocket connection to the
// connect/send/close/events contract TransportSocket specifies.
type Socket struct {
	url string

	stateMu sync.RWMutex
	state   State

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	readTimeout  time.Duration

	pongMu       sync.Mutex
	lastPongTime time.Time

	conn    *websocket.Conn
	connMu  sync.Mutex
	writeMu sync.Mutex

	closeChan chan struct{}
	doneChan  chan struct{}
	doneOnce  sync.Once
	lifecycle sync.Mutex

	routerMu sync.RWMutex
	routes   map[string]RouteFunc // channel name -> handler
	global   RouteFunc            // handler for frames with no channel field

	onEvent func(Event)
	logger  zerolog.Logger

	dialer *websocket.Dialer
}

// Option configures a Socket at construction.
type Option func(*Socket)

func WithPingInterval(d time.Duration) Option { return func(s *Socket) { s.pingInterval = d } }
func WithPongTimeout(d time.Duration) Option  { return func(s *Socket) { s.pongTimeout = d } }
func WithWriteTimeout(d time.Duration) Option { return func(s *Socket) { s.writeTimeout = d } }
func WithReadTimeout(d time.Duration) Option  { return func(s *Socket) { s.readTimeout = d } }
func WithLogger(l zerolog.Logger) Option      { return func(s *Socket) { s.logger = l } }
func WithEventHandler(fn func(Event)) Option  { return func(s *Socket) { s.onEvent = fn } }

// New creates a Socket bound to url. The connection is not dialed until
// Connect is called.
func New(url string, opts ...Option) *Socket {
	s := &Socket{
		url:          url,
		state:        StateDisconnected,
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		readTimeout:  60 * time.Second,
		closeChan:    make(chan struct{}),
		doneChan:     make(chan struct{}),
		routes:       make(map[string]RouteFunc),
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Socket) URL() string { return s.url }

func (s *Socket) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Socket) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// OnChannelFrame registers the handler for frames addressed to channel.
// Installing a second handler for the same channel replaces the first,
// matching the invariant that a Channel only ever has one frame-filter
// listener attached at a time.
func (s *Socket) OnChannelFrame(channel string, fn RouteFunc) {
	s.routerMu.Lock()
	s.routes[channel] = fn
	s.routerMu.Unlock()
}

// RemoveChannelFrame detaches the handler for channel.
func (s *Socket) RemoveChannelFrame(channel string) {
	s.routerMu.Lock()
	delete(s.routes, channel)
	s.routerMu.Unlock()
}

// OnGlobalFrame registers the handler for frames without a channel field
// (CONNECTED, DISCONNECTED, PONG, connection-level ERROR).
func (s *Socket) OnGlobalFrame(fn RouteFunc) {
	s.routerMu.Lock()
	s.global = fn
	s.routerMu.Unlock()
}

// Connect dials the transport and starts the read/ping loops.
func (s *Socket) Connect(ctx context.Context) error {
	if s.State() == StateConnected {
		return errs.New("transport.connect", errs.KindNotConnected, "already connected")
	}
	s.setState(StateConnecting)

	s.lifecycle.Lock()
	select {
	case <-s.closeChan:
		s.closeChan = make(chan struct{})
	default:
	}
	select {
	case <-s.doneChan:
		s.doneChan = make(chan struct{})
		s.doneOnce = sync.Once{}
	default:
	}
	s.lifecycle.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.setState(StateDisconnected)
		s.emit(Event{Name: "failed", Err: err})
		return errs.Wrap("transport.connect", errs.KindNotConnected, "dial failed", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	conn.SetPongHandler(func(string) error {
		s.pongMu.Lock()
		s.lastPongTime = time.Now()
		s.pongMu.Unlock()
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	s.pongMu.Lock()
	s.lastPongTime = time.Now()
	s.pongMu.Unlock()
	conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	s.setState(StateConnected)
	s.emit(Event{Name: "opened"})

	go s.pingLoop()
	go s.readLoop()

	return nil
}

// Send writes raw bytes (an encoded frame.Envelope) to the transport.
func (s *Socket) Send(ctx context.Context, data []byte) error {
	if s.State() != StateConnected {
		return errs.NotConnected("transport.send")
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return errs.NotConnected("transport.send")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return errs.Wrap("transport.send", errs.KindNotConnected, "write failed", err)
		}
	}
	return nil
}

// SendEnvelope encodes and sends a frame.Envelope.
func (s *Socket) SendEnvelope(ctx context.Context, e frame.Envelope) error {
	raw, err := frame.Encode(e)
	if err != nil {
		return err
	}
	return s.Send(ctx, raw)
}

// Close tears down the connection and stops background loops.
func (s *Socket) Close() error {
	if s.State() == StateClosed {
		return nil
	}
	s.setState(StateClosed)

	select {
	case <-s.closeChan:
	default:
		close(s.closeChan)
	}

	time.Sleep(10 * time.Millisecond)

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		done := make(chan struct{}, 1)
		go func() {
			s.writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
			done <- struct{}{}
		}()
		select {
		case <-done:
		case <-closeCtx.Done():
		}
		cancel()
		conn.Close()
	}

	select {
	case <-s.doneChan:
	case <-time.After(time.Second):
	}

	s.emit(Event{Name: "closed"})
	return nil
}

func (s *Socket) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

func (s *Socket) markDone() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.doneOnce.Do(func() {
		select {
		case <-s.doneChan:
		default:
			close(s.doneChan)
		}
	})
}

func (s *Socket) pingLoop() {
	defer s.markDone()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			if s.State() != StateConnected {
				return
			}
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				return
			}

			s.pongMu.Lock()
			sinceLastPong := time.Since(s.lastPongTime)
			s.pongMu.Unlock()
			if sinceLastPong > s.pongTimeout {
				s.handleDrop(errs.New("transport.ping", errs.KindTimeout, "pong timeout"))
				return
			}

			s.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.handleDrop(err)
				return
			}
		}
	}
}

func (s *Socket) readLoop() {
	defer s.markDone()

	for {
		select {
		case <-s.closeChan:
			return
		default:
		}
		if s.State() != StateConnected {
			return
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDrop(err)
			return
		}

		s.route(data)
	}
}

func (s *Socket) route(data []byte) {
	env, err := frame.Decode(data)
	if err != nil {
		s.routerMu.RLock()
		global := s.global
		s.routerMu.RUnlock()
		if global != nil {
			global(frame.Envelope{Action: frame.ActionError, Error: &frame.ErrorPayload{Message: "message_parsing"}})
		}
		return
	}

	if env.Channel == "" {
		s.routerMu.RLock()
		global := s.global
		s.routerMu.RUnlock()
		if global != nil {
			global(env)
		}
		return
	}

	s.routerMu.RLock()
	handler, ok := s.routes[env.Channel]
	s.routerMu.RUnlock()
	if ok {
		handler(env)
	}
}

func (s *Socket) handleDrop(err error) {
	if s.State() == StateClosed {
		return
	}
	s.setState(StateDisconnected)
	s.emit(Event{Name: "disconnected", Err: err})
}
