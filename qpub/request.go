package qpub

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/auth"
	"github.com/qpub/qpub-client-go/internal/eventbus"
	"github.com/qpub/qpub-client-go/internal/frame"
	"github.com/qpub/qpub-client-go/internal/httprequester"
	"github.com/qpub/qpub-client-go/internal/identity"
	"github.com/qpub/qpub-client-go/internal/options"
	"github.com/qpub/qpub-client-go/internal/registry"
)

// RequestInstance is the stateless publish-only counterpart to
// StreamingInstance: an HttpRequester and an AuthManager, with no
// transport socket, no Channel state machines, and no resubscribe
// sweep. Its ChannelRegistry exists only to host the shared
// PublishBatch helper — it is never populated with Channels.
type RequestInstance struct {
	id   string
	opts *options.Options

	AuthEvents *eventbus.Bus

	http     *httprequester.Client
	auth     *auth.Manager
	registry *registry.Registry
}

// NewRequestInstance builds a RequestInstance from the given options.
func NewRequestInstance(opts ...options.Option) *RequestInstance {
	o := options.New(opts...)
	logger := zerolog.Nop()

	id := identity.New(identity.RoleRequest)
	authBus := eventbus.New(logger)

	inst := &RequestInstance{
		id:         id,
		opts:       o,
		AuthEvents: authBus,
	}

	httpClient := httprequester.New(httprequester.Config{
		BaseURL: o.HTTPBaseURL(),
		Headers: func(ctx context.Context) (map[string]string, error) {
			return inst.auth.GetAuthHeaders(ctx)
		},
		Timeout: o.ConnectTimeout,
		Logger:  logger,
	})
	inst.http = httpClient

	keyID, keySecret := splitAPIKey(o.APIKey)
	signer := auth.NewSigner(keyID, keySecret)
	mode := authModeFor(o.AuthMode)

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

	// No socket, no loop, no per-channel notify: this Registry only ever
	// serves PublishBatch, whose receiver never touches those fields.
	inst.registry = registry.New(nil, nil, nil, logger)

	return inst
}

// ID returns this instance's stable InstanceId (rest_<ulid>).
func (r *RequestInstance) ID() string { return r.id }

// Authenticate runs the configured AuthManager flow.
func (r *RequestInstance) Authenticate(ctx context.Context) error {
	return r.auth.Authenticate(ctx)
}

// PublishBatch composes one HTTP request carrying payloads addressed to
// one or more channels, signing it via AuthManager's headers.
func (r *RequestInstance) PublishBatch(ctx context.Context, path string, channels []string, messages []frame.DataMessagePayload) ([]byte, error) {
	return r.registry.PublishBatch(ctx, r.http, path, channels, messages)
}

// Close releases the auth manager's refresh timer.
func (r *RequestInstance) Close() error {
	r.auth.Close()
	return nil
}
