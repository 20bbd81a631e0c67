// Package qpub wires the collaborators in internal/ into the two
// instance roles spec.md describes: a long-lived streaming instance and
// a stateless request instance. This is the "explicit wiring" this
// codebase settled on instead of a DI container keyed by strings — a
// construction function building a struct of typed handles, the same
// shape the teacher's cmd/server/main.go uses to assemble its API
// server and WebSocket client by hand.
package qpub

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/adminapi"
	"github.com/qpub/qpub-client-go/internal/auth"
	"github.com/qpub/qpub-client-go/internal/channel"
	"github.com/qpub/qpub-client-go/internal/connection"
	"github.com/qpub/qpub-client-go/internal/dispatch"
	"github.com/qpub/qpub-client-go/internal/eventbus"
	"github.com/qpub/qpub-client-go/internal/frame"
	"github.com/qpub/qpub-client-go/internal/httprequester"
	"github.com/qpub/qpub-client-go/internal/identity"
	"github.com/qpub/qpub-client-go/internal/metrics"
	"github.com/qpub/qpub-client-go/internal/options"
	"github.com/qpub/qpub-client-go/internal/registry"
	"github.com/qpub/qpub-client-go/internal/transport"
)

// StreamingInstance is a long-lived bidirectional QPub session: a
// TransportSocket, a ChannelRegistry, an AuthManager, and the
// ConnectionController that orchestrates them.
type StreamingInstance struct {
	id     string
	opts   *options.Options
	logger zerolog.Logger

	ConnectionEvents *eventbus.Bus
	ChannelEvents    *eventbus.Bus
	AuthEvents       *eventbus.Bus

	socket     *transport.Socket
	registry   *registry.Registry
	auth       *auth.Manager
	http       *httprequester.Client
	controller *connection.Controller
	metrics    *metrics.Collector
	admin      *adminapi.Server
}

// NewStreamingInstance builds a StreamingInstance from the given
// options. Construction never dials the transport; call Connect to
// start a session (or rely on AutoConnect, which a caller drives
// itself — this SDK does not spawn goroutines the caller didn't ask
// for at construction time).
func NewStreamingInstance(opts ...options.Option) *StreamingInstance {
	o := options.New(opts...)

	logger := zerolog.Nop()
	if o.LogLevel != "" {
		level, err := zerolog.ParseLevel(o.LogLevel)
		if err == nil {
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
		}
	}

	id := identity.New(identity.RoleStreaming)
	connBus := eventbus.New(logger)
	chanBus := eventbus.New(logger)
	authBus := eventbus.New(logger)

	// inst is referenced by closures below (the socket's drop handler,
	// the HTTP client's header source) before every field is filled in —
	// the same forward-reference shape httpClient.Headers already uses
	// for inst.auth.
	inst := &StreamingInstance{
		id:               id,
		opts:             o,
		logger:           logger,
		ConnectionEvents: connBus,
		ChannelEvents:    chanBus,
		AuthEvents:       authBus,
		metrics:          metrics.NewCollector(),
	}

	socket := transport.New(o.StreamBaseURL(),
		transport.WithPingInterval(30*time.Second),
		transport.WithPongTimeout(o.PingTimeout),
		transport.WithLogger(logger),
		transport.WithEventHandler(func(e transport.Event) {
			if e.Name == "disconnected" {
				inst.controller.HandleDisconnect(e.Err)
			}
		}),
	)
	inst.socket = socket

	loop := dispatch.New()

	inst.registry = registry.New(socket, loop, func(e channel.Event) {
		inst.metrics.RecordChannelEvent(e.Channel, e.Name)
		chanBus.Emit(e.Name, e)
	}, logger)

	keyID, keySecret := splitAPIKey(o.APIKey)
	signer := auth.NewSigner(keyID, keySecret)
	mode := authModeFor(o.AuthMode)

	httpClient := httprequester.New(httprequester.Config{
		BaseURL: o.HTTPBaseURL(),
		Headers: func(ctx context.Context) (map[string]string, error) {
			return inst.auth.GetAuthHeaders(ctx)
		},
		Timeout: o.ConnectTimeout,
		Logger:  logger,
	})
	inst.http = httpClient

	inst.auth = auth.NewManager(auth.Config{
		Mode:                      mode,
		Signer:                    signer,
		HTTP:                      httpClient,
		AuthURL:                   o.AuthURL,
		ClientAlias:               o.ClientAlias,
		AuthenticateRetries:       o.AuthenticateRetries,
		AuthenticateRetryInterval: o.AuthenticateRetryInterval,
		PrebuiltTokenRequest:      o.PrebuiltTokenRequest,
		AuthRequestAugment:        o.AuthRequestAugment,
		Logger:                    logger,
	}, authBus)

	authBus.On(auth.EventTokenUpdated, func(p interface{}) { inst.metrics.RecordAuthEvent(auth.EventTokenUpdated) })
	authBus.On(auth.EventAuthError, func(p interface{}) { inst.metrics.RecordAuthEvent(auth.EventAuthError) })

	inst.controller = connection.New(connection.Config{
		Socket:                socket,
		Resubscriber:          inst.registry,
		AutoReconnect:         o.AutoReconnect,
		ReconnectInitialDelay: o.ReconnectInitialDelay,
		ReconnectMaxDelay:     o.ReconnectMaxDelay,
		ReconnectMultiplier:   o.ReconnectMultiplier,
		MaxReconnectAttempts:  o.MaxReconnectAttempts,
		ConnectTimeout:        o.ConnectTimeout,
		PingTimeout:           o.PingTimeout,
		Logger:                logger,
	}, connBus)

	connBus.On(connection.EventConnected, func(p interface{}) { inst.metrics.RecordConnectionEvent(connection.EventConnected) })
	connBus.On(connection.EventDisconnected, func(p interface{}) { inst.metrics.RecordConnectionEvent(connection.EventDisconnected) })
	connBus.On(connection.EventFailed, func(p interface{}) { inst.metrics.RecordConnectionEvent(connection.EventFailed) })

	inst.admin = adminapi.New(adminapi.Config{
		Version:    "1.0.0",
		Connection: inst.controller,
		Channels:   inst.registry,
		Metrics:    inst.metrics,
		Logger:     logger,
	})

	return inst
}

// ID returns this instance's stable InstanceId (socket_<ulid>).
func (s *StreamingInstance) ID() string { return s.id }

// Connect dials the transport and, once CONNECTED, resubscribes every
// channel with registered callbacks.
func (s *StreamingInstance) Connect(ctx context.Context) error {
	return s.controller.Connect(ctx)
}

// Disconnect closes the transport session cleanly.
func (s *StreamingInstance) Disconnect() error {
	return s.controller.Disconnect()
}

// IsConnected reports whether the underlying session is live.
func (s *StreamingInstance) IsConnected() bool { return s.controller.IsConnected() }

// Ping measures round-trip time to the server.
func (s *StreamingInstance) Ping(ctx context.Context) (time.Duration, error) {
	return s.controller.Ping(ctx)
}

// Channel returns the named Channel, creating it on first use.
func (s *StreamingInstance) Channel(name string) *channel.Channel {
	return s.registry.Get(name)
}

// ReleaseChannel decrements name's reference count, per
// ChannelRegistry.release semantics.
func (s *StreamingInstance) ReleaseChannel(name string) {
	s.registry.Release(name)
}

// Authenticate runs the configured AuthManager flow.
func (s *StreamingInstance) Authenticate(ctx context.Context) error {
	return s.auth.Authenticate(ctx)
}

// Admin returns the read-only admin/debug gin.Engine for this instance,
// for callers that want to mount it on their own HTTP listener.
func (s *StreamingInstance) Admin() *adminapi.Server { return s.admin }

// Reset tears down every channel and the auth manager's in-flight work,
// then installs a fresh cancellation token, per spec.md §5.
func (s *StreamingInstance) Reset() {
	s.registry.ResetAll()
	s.auth.Reset()
	s.auth.Resume()
	s.controller.Reset()
	s.opts.Reset()
}

// Close cancels the auth manager's refresh timer, stops the auth
// manager's dispatch loop, and closes the transport socket. The dispatch
// loop shared by the channels is not stopped.
func (s *StreamingInstance) Close() error {
	s.auth.Close()
	return s.socket.Close()
}

// Publish sends one or more payloads on name, fire-and-forget.
func (s *StreamingInstance) Publish(ctx context.Context, name string, messages []frame.DataMessagePayload) error {
	s.metrics.RecordPublish(name)
	return s.Channel(name).Publish(ctx, messages)
}

// splitAPIKey splits an API key written as "keyId:keySecret" at its
// first colon. A key with no colon is
// treated as keyId with an empty secret (static-key-only usage).
func splitAPIKey(apiKey string) (keyID, keySecret string) {
	if idx := strings.IndexByte(apiKey, ':'); idx >= 0 {
		return apiKey[:idx], apiKey[idx+1:]
	}
	return apiKey, ""
}

// authModeFor maps the OptionRegistry's AuthMode to auth.Mode. Options
// selects the mode explicitly (options.WithAuthMode) rather than this
// wiring guessing it from which credential fields happen to be set.
func authModeFor(m options.AuthMode) auth.Mode {
	switch m {
	case options.AuthModeIssueToken:
		return auth.ModeIssueToken
	case options.AuthModeGenerateToken:
		return auth.ModeGenerateToken
	case options.AuthModeTokenRequest:
		return auth.ModeTokenRequest
	default:
		return auth.ModeStaticKey
	}
}
