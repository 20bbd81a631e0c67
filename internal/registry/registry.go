// Package registry implements ChannelRegistry: a refcounted map from
// channel name to Channel, plus the after-reconnect resubscribe sweep
// and the request-variant's batched HTTP publish. Grounded on the
// teacher's internal/websocket/streams.go subscription bookkeeping,
// generalized from a fixed set of market-data streams to an arbitrary,
// caller-named set of channels.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/channel"
	"github.com/qpub/qpub-client-go/internal/dispatch"
	"github.com/qpub/qpub-client-go/internal/frame"
	"github.com/qpub/qpub-client-go/internal/transport"
)

type entry struct {
	ch       *channel.Channel
	refCount int
}

// Registry owns every live Channel for one streaming instance.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	socket *transport.Socket
	loop   *dispatch.Loop
	notify func(channel.Event)
	logger zerolog.Logger
}

// New creates an empty Registry. socket and loop are shared with every
// Channel it creates; notify forwards each Channel's lifecycle events to
// the instance's channel event bus.
func New(socket *transport.Socket, loop *dispatch.Loop, notify func(channel.Event), logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		socket:  socket,
		loop:    loop,
		notify:  notify,
		logger:  logger,
	}
}

// Get returns the named Channel, creating it on first use, and
// increments its reference count.
func (r *Registry) Get(name string) *channel.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		e = &entry{ch: channel.New(name, r.socket, r.loop, r.notify)}
		r.entries[name] = e
	}
	e.refCount++
	return e.ch
}

// Release decrements name's reference count. At zero, a channel with no
// registered callbacks is removed entirely; one that still has
// callbacks (has been subscribed) is kept so it rejoins on a future
// reconnect — see DESIGN.md's resolution of the release() TTL open
// question.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount > 0 {
		return
	}
	if !e.ch.HasCallbacks() {
		delete(r.entries, name)
	}
}

// ResubscribeAll is called by ConnectionController once the session
// reaches Connected. Every channel with registered callbacks is
// resubscribed; a single channel's failure is logged as a warning and
// does not abort the sweep. The channel itself emits FAILED only when the
// failure comes from an ERROR frame or a failed send; a timeout or a
// cancelled ctx emits no FAILED event.
func (r *Registry) ResubscribeAll(ctx context.Context) {
	r.mu.Lock()
	channels := make([]*channel.Channel, 0, len(r.entries))
	for _, e := range r.entries {
		channels = append(channels, e.ch)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch *channel.Channel) {
			defer wg.Done()
			if err := ch.Resubscribe(ctx); err != nil {
				r.logger.Warn().Str("channel", ch.Name()).Err(err).Msg("resubscribe failed")
			}
		}(ch)
	}
	wg.Wait()
}

// ResetAll tears down every Channel (rejecting in-flight/queued
// operations with Cancelled and detaching its frame listener), used by
// the owning instance's reset().
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.ch.Reset()
	}
	r.entries = make(map[string]*entry)
}

// ChannelSnapshot is a point-in-time view of one registered channel,
// used by the admin/debug HTTP surface.
type ChannelSnapshot struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	RefCount     int    `json:"ref_count"`
	HasCallbacks bool   `json:"has_callbacks"`
}

// Snapshot returns a ChannelSnapshot for every registered channel,
// sorted by name, for internal/adminapi's /debug/channels endpoint.
func (r *Registry) Snapshot() []ChannelSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChannelSnapshot, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, ChannelSnapshot{
			Name:         name,
			State:        e.ch.State().String(),
			RefCount:     e.refCount,
			HasCallbacks: e.ch.HasCallbacks(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PublishBatchRequester is the HTTP dependency PublishBatch needs —
// satisfied by httprequester.Client without importing it directly.
type PublishBatchRequester interface {
	Post(ctx context.Context, path string, body interface{}) ([]byte, error)
}

// PublishBatchPayload is the request body for the request variant's
// stateless batched publish.
type PublishBatchPayload struct {
	Channels []string                   `json:"channels,omitempty"`
	Messages []frame.DataMessagePayload `json:"messages"`
}

// PublishBatch composes one HTTP request carrying payloads addressed to
// one or more channels (request variant only).
func (r *Registry) PublishBatch(ctx context.Context, http PublishBatchRequester, path string, channels []string, messages []frame.DataMessagePayload) ([]byte, error) {
	return http.Post(ctx, path, PublishBatchPayload{Channels: channels, Messages: messages})
}
