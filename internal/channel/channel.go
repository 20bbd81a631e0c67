// Package channel implements the Channel component: a per-channel state
// machine that coordinates subscribe/unsubscribe/publish with server
// acknowledgements over a shared TransportSocket. Grounded on the
// teacher's internal/websocket stream subscription handling
// (internal/websocket/streams.go), generalized from Binance's
// fixed kline/depth/trade streams to named, arbitrarily-created QPub
// channels with client-side event filtering.
//
// State mutation runs exclusively on the instance-wide dispatch.Loop
// passed to New — never on a per-Channel goroutine or behind a mutex —
// the Go mapping of the single-threaded cooperative model in spec.md §5.
package channel

import (
	"context"
	"time"

	"github.com/qpub/qpub-client-go/internal/dispatch"
	"github.com/qpub/qpub-client-go/internal/errs"
	"github.com/qpub/qpub-client-go/internal/frame"
	"github.com/qpub/qpub-client-go/internal/transport"
)

// State is the Channel's local subscription-lifecycle state. It is
// never exchanged on the wire.
type State int

const (
	StateIdle State = iota
	StateSubscribing
	StateSubscribed
	StateUnsubscribing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateUnsubscribing:
		return "unsubscribing"
	default:
		return "unknown"
	}
}

// Callback receives one delivered message for a channel subscription.
type Callback func(frame.DeliveredMessage)

// Event is emitted on the owning instance's channel event bus.
type Event struct {
	Name    string // SUBSCRIBING, SUBSCRIBED, UNSUBSCRIBING, UNSUBSCRIBED, FAILED, RESUMED
	Channel string
	Err     error
	Count   int // RESUMED payload: bufferedMessagesDelivered
}

// SubscribeOptions configures one Subscribe call.
type SubscribeOptions struct {
	// Event scopes the subscription to one wire event name. Empty means
	// a catch-all subscription.
	Event string
	// Timeout bounds how long Subscribe waits for SUBSCRIBED; zero uses
	// the 10s default.
	Timeout time.Duration
}

// UnsubscribeOptions configures one Unsubscribe call.
type UnsubscribeOptions struct {
	// Event targets one event-scoped subscription; empty means the full
	// channel (catch-all) unsubscribe.
	Event string
	// ID, when nonzero, targets the single callback returned by the
	// matching Subscribe call; zero removes every callback for Event.
	ID int
	// Timeout bounds how long Unsubscribe waits for UNSUBSCRIBED.
	Timeout time.Duration
}

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
)

// pendingAck is a one-shot, broadcastable completion signal: closing
// done unblocks every waiter, who then reads err.
type pendingAck struct {
	done chan struct{}
	err  error
}

func newPendingAck() *pendingAck { return &pendingAck{done: make(chan struct{})} }

func (a *pendingAck) resolve(err error) {
	a.err = err
	close(a.done)
}

type queuedOp struct {
	kind opKind
	ack  *pendingAck
}

type eventCallback struct {
	id int
	fn Callback
}

// Channel is the per-channel state machine described in spec.md §4.1.
type Channel struct {
	name   string
	socket *transport.Socket
	loop   *dispatch.Loop
	notify func(Event)

	defaultTimeout time.Duration

	state State

	paused            bool
	bufferWhilePaused bool
	buffer            []frame.DeliveredMessage

	catchAll       Callback
	eventCallbacks map[string][]eventCallback
	nextCallbackID int

	ops                []queuedOp
	pendingSubscribe   bool
	pendingUnsubscribe bool
	inFlight           *pendingAck
}

// New creates a Channel named name, installing its single frame-filter
// listener on socket (the invariant that a Channel attaches exactly one
// listener for its entire lifetime). loop must be the dispatch.Loop
// shared by every Channel of the instance — sharing one Loop across all
// Channels is what gives them the single-threaded cooperative guarantee
// (the AuthManager serializes its own state on a Loop of its own).
// notify forwards lifecycle
// events to the instance's channel event bus; it may be nil in tests.
func New(name string, socket *transport.Socket, loop *dispatch.Loop, notify func(Event)) *Channel {
	c := &Channel{
		name:           name,
		socket:         socket,
		loop:           loop,
		notify:         notify,
		defaultTimeout: 10 * time.Second,
		eventCallbacks: make(map[string][]eventCallback),
	}
	socket.OnChannelFrame(name, c.onFrame)
	return c
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) State() State {
	var s State
	c.loop.Run(func() { s = c.state })
	return s
}

// HasCallbacks reports whether any callback (catch-all or event-scoped)
// is currently registered — the signal ChannelRegistry.release uses to
// decide whether to keep a channel around for auto-resubscribe.
func (c *Channel) HasCallbacks() bool {
	var has bool
	c.loop.Run(func() { has = c.catchAll != nil || len(c.eventCallbacks) > 0 })
	return has
}

func (c *Channel) emit(e Event) {
	if c.notify != nil {
		c.notify(e)
	}
}

// Subscribe registers cb and, when network confirmation is required,
// blocks until SUBSCRIBED arrives, FAILED is received, ctx is
// cancelled, or Timeout elapses. It returns a subscription id usable
// with UnsubscribeOptions.ID for an event-scoped subscription.
func (c *Channel) Subscribe(ctx context.Context, cb Callback, opts SubscribeOptions) (int, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	var id int
	var wait *pendingAck
	var resolved bool

	c.loop.Run(func() {
		if opts.Event != "" {
			id = c.addEventCallbackLocked(opts.Event, cb)
			if c.state == StateSubscribed && !c.pendingUnsubscribe {
				resolved = true
				return
			}
			if c.state == StateSubscribing && !c.pendingUnsubscribe {
				wait = c.inFlight
				return
			}
			if c.pendingSubscribe || c.pendingUnsubscribe {
				wait = c.enqueueLocked(opSubscribe)
				return
			}
			wait = c.requestSubscribeLocked()
			return
		}

		// Catch-all subscribe: a second subscribe() on an
		// already-subscribed channel just swaps in the latest
		// callback without a new SUBSCRIBE frame.
		c.catchAll = cb
		c.eventCallbacks = make(map[string][]eventCallback)

		if c.state == StateSubscribed && !c.pendingUnsubscribe {
			resolved = true
			return
		}
		if c.pendingSubscribe || c.pendingUnsubscribe {
			wait = c.enqueueLocked(opSubscribe)
			return
		}
		wait = c.requestSubscribeLocked()
	})

	if resolved {
		return id, nil
	}
	return id, c.await(ctx, wait, timeout, "channel.subscribe")
}

// Unsubscribe removes the targeted callback(s) and, if the channel's
// full callback set becomes empty, proceeds to a full channel
// unsubscribe.
func (c *Channel) Unsubscribe(ctx context.Context, opts UnsubscribeOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	var wait *pendingAck
	var resolved bool

	c.loop.Run(func() {
		if opts.Event != "" {
			empty := c.removeEventCallbackLocked(opts.Event, opts.ID)
			if !empty || c.catchAll != nil {
				resolved = true
				return
			}
		}

		if c.state != StateSubscribed && c.state != StateSubscribing {
			resolved = true
			return
		}

		if c.socket.State() != transport.StateConnected {
			c.state = StateIdle
			c.pendingUnsubscribe = false
			c.emit(Event{Name: "UNSUBSCRIBED", Channel: c.name})
			resolved = true
			return
		}

		if c.pendingSubscribe || c.pendingUnsubscribe {
			wait = c.enqueueLocked(opUnsubscribe)
			return
		}
		wait = c.requestUnsubscribeLocked()
	})

	if resolved {
		return nil
	}
	return c.await(ctx, wait, timeout, "channel.unsubscribe")
}

// Publish is fire-and-forget: it resolves immediately after the frame
// is handed to the transport and never touches the operation queue.
func (c *Channel) Publish(ctx context.Context, messages []frame.DataMessagePayload) error {
	if c.socket.State() != transport.StateConnected {
		return errs.NotConnected("channel.publish")
	}
	return c.socket.SendEnvelope(ctx, frame.Publish(c.name, messages))
}

// Pause suspends delivery. A second Pause before an intervening Resume
// is a no-op, including its bufferMessages argument.
func (c *Channel) Pause(bufferMessages bool) {
	c.loop.Run(func() {
		if c.paused {
			return
		}
		c.paused = true
		c.bufferWhilePaused = bufferMessages
	})
}

// Resume flushes any buffered messages in FIFO order and emits RESUMED
// with the delivered count. Calling Resume while not paused is a no-op.
func (c *Channel) Resume() int {
	var delivered int
	var wasPaused bool
	c.loop.Run(func() {
		if !c.paused {
			return
		}
		wasPaused = true
		c.paused = false
		buffered := c.buffer
		c.buffer = nil
		for _, m := range buffered {
			c.dispatchLocked(m)
		}
		delivered = len(buffered)
	})
	if wasPaused {
		c.emit(Event{Name: "RESUMED", Channel: c.name, Count: delivered})
	}
	return delivered
}

// Resubscribe is invoked by ChannelRegistry after the transport enters
// Connected. It is a no-op for channels with no callbacks; otherwise it
// clears any stale pending flags and state left over from the dropped
// session and sends a fresh SUBSCRIBE.
func (c *Channel) Resubscribe(ctx context.Context) error {
	var wait *pendingAck
	var nothingToDo bool
	c.loop.Run(func() {
		if c.catchAll == nil && len(c.eventCallbacks) == 0 {
			nothingToDo = true
			return
		}
		c.pendingSubscribe = false
		c.pendingUnsubscribe = false
		c.state = StateIdle
		wait = c.requestSubscribeLocked()
	})
	if nothingToDo {
		return nil
	}
	return c.await(ctx, wait, c.defaultTimeout, "channel.resubscribe")
}

// Reset tears the Channel down: rejects every queued and in-flight
// operation with Cancelled, detaches its frame-filter listener (per the
// "reset() detaches it" invariant), and returns it to Idle.
func (c *Channel) Reset() {
	c.loop.Run(func() {
		for _, op := range c.ops {
			op.ack.resolve(errs.Cancelled("channel.reset"))
		}
		c.ops = nil
		if c.inFlight != nil {
			c.inFlight.resolve(errs.Cancelled("channel.reset"))
			c.inFlight = nil
		}
		c.pendingSubscribe = false
		c.pendingUnsubscribe = false
		c.state = StateIdle
		c.socket.RemoveChannelFrame(c.name)
	})
}

func (c *Channel) await(ctx context.Context, ack *pendingAck, timeout time.Duration, op string) error {
	if ack == nil {
		return nil
	}
	select {
	case <-ack.done:
		return ack.err
	case <-ctx.Done():
		return errs.Cancelled(op)
	case <-time.After(timeout):
		return errs.Timeout(op, "timed out waiting for server acknowledgement")
	}
}

func (c *Channel) addEventCallbackLocked(event string, cb Callback) int {
	c.nextCallbackID++
	id := c.nextCallbackID
	c.catchAll = nil
	c.eventCallbacks[event] = append(c.eventCallbacks[event], eventCallback{id: id, fn: cb})
	return id
}

// removeEventCallbackLocked reports whether the full event-callback map
// is empty afterward.
func (c *Channel) removeEventCallbackLocked(event string, id int) bool {
	regs := c.eventCallbacks[event]
	if id == 0 {
		delete(c.eventCallbacks, event)
	} else {
		kept := regs[:0]
		for _, r := range regs {
			if r.id != id {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(c.eventCallbacks, event)
		} else {
			c.eventCallbacks[event] = kept
		}
	}
	return len(c.eventCallbacks) == 0
}

func (c *Channel) enqueueLocked(kind opKind) *pendingAck {
	ack := newPendingAck()
	c.ops = append(c.ops, queuedOp{kind: kind, ack: ack})
	return ack
}

func (c *Channel) requestSubscribeLocked() *pendingAck {
	ack := newPendingAck()
	c.startSubscribeLocked(ack)
	return ack
}

func (c *Channel) requestUnsubscribeLocked() *pendingAck {
	ack := newPendingAck()
	c.startUnsubscribeLocked(ack)
	return ack
}

func (c *Channel) startSubscribeLocked(ack *pendingAck) {
	c.pendingSubscribe = true
	c.inFlight = ack
	c.state = StateSubscribing
	c.emit(Event{Name: "SUBSCRIBING", Channel: c.name})
	if err := c.socket.SendEnvelope(context.Background(), frame.Subscribe(c.name)); err != nil {
		c.pendingSubscribe = false
		c.inFlight = nil
		ack.resolve(err)
		c.emit(Event{Name: "FAILED", Channel: c.name, Err: err})
	}
}

func (c *Channel) startUnsubscribeLocked(ack *pendingAck) {
	c.pendingUnsubscribe = true
	c.inFlight = ack
	c.state = StateUnsubscribing
	c.emit(Event{Name: "UNSUBSCRIBING", Channel: c.name})
	if err := c.socket.SendEnvelope(context.Background(), frame.Unsubscribe(c.name)); err != nil {
		c.pendingUnsubscribe = false
		c.inFlight = nil
		c.state = StateSubscribed
		ack.resolve(err)
		c.emit(Event{Name: "FAILED", Channel: c.name, Err: err})
	}
}

func (c *Channel) drainQueueLocked() {
	if c.pendingSubscribe || c.pendingUnsubscribe || len(c.ops) == 0 {
		return
	}
	op := c.ops[0]
	c.ops = c.ops[1:]
	switch op.kind {
	case opSubscribe:
		c.startSubscribeLocked(op.ack)
	case opUnsubscribe:
		c.startUnsubscribeLocked(op.ack)
	}
}

// onFrame is the single frame-filter listener installed on the shared
// TransportSocket. It always runs off the socket's own read goroutine,
// so it hands processing to the dispatch loop rather than touching
// Channel state directly.
func (c *Channel) onFrame(env frame.Envelope) {
	c.loop.Post(func() { c.handleFrameLocked(env) })
}

func (c *Channel) handleFrameLocked(env frame.Envelope) {
	switch env.Action {
	case frame.ActionSubscribed:
		c.onSubscribedLocked()
	case frame.ActionUnsubscribed:
		c.onUnsubscribedLocked()
	case frame.ActionMessage:
		c.onMessageLocked(env)
	case frame.ActionError:
		c.onErrorLocked(env)
	}
}

func (c *Channel) onSubscribedLocked() {
	c.state = StateSubscribed
	c.pendingSubscribe = false
	ack := c.inFlight
	c.inFlight = nil
	c.emit(Event{Name: "SUBSCRIBED", Channel: c.name})
	if ack != nil {
		ack.resolve(nil)
	}
	c.drainQueueLocked()
}

func (c *Channel) onUnsubscribedLocked() {
	c.state = StateIdle
	c.pendingUnsubscribe = false
	c.catchAll = nil
	c.eventCallbacks = make(map[string][]eventCallback)
	ack := c.inFlight
	c.inFlight = nil
	c.emit(Event{Name: "UNSUBSCRIBED", Channel: c.name})
	if ack != nil {
		ack.resolve(nil)
	}
	c.drainQueueLocked()
}

func (c *Channel) onMessageLocked(env frame.Envelope) {
	for _, m := range frame.ProjectMessages(env) {
		c.deliverLocked(m)
	}
}

func (c *Channel) deliverLocked(m frame.DeliveredMessage) {
	if c.paused {
		if c.bufferWhilePaused {
			c.buffer = append(c.buffer, m)
		}
		return
	}
	c.dispatchLocked(m)
}

func (c *Channel) dispatchLocked(m frame.DeliveredMessage) {
	if c.catchAll != nil {
		c.catchAll(m)
		return
	}
	if m.Event == "" {
		return
	}
	for _, reg := range c.eventCallbacks[m.Event] {
		reg.fn(m)
	}
}

// onErrorLocked implements the fault transition: "Any -> Any" with no
// local state change. Pending flags are deliberately left untouched —
// they're cleared only by a matching SUBSCRIBED/UNSUBSCRIBED ack — so an
// in-flight operation that gets an ERROR instead of its ack leaves the
// channel's queue blocked until Reset or Resubscribe clears them.
func (c *Channel) onErrorLocked(env frame.Envelope) {
	var perr error
	if env.Error != nil {
		perr = errs.ProtocolError("channel.frame", env.Error.Code, env.Error.Href, env.Error.Message, env.Error.StatusCode)
	} else {
		perr = errs.InternalParseError("channel.frame", nil)
	}
	c.emit(Event{Name: "FAILED", Channel: c.name, Err: perr})
	if c.inFlight != nil {
		ack := c.inFlight
		c.inFlight = nil
		ack.resolve(perr)
	}
}
