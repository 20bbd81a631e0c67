// Package auth implements the AuthManager component: token lifecycle
// across four authentication modes, proactive refresh scheduling, and
// observable state transitions. State mutation is serialized through a
// dispatch.Loop rather than per-field mutexes, the Go mapping of
// spec.md §5's single-threaded cooperative model.
package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/dispatch"
	"github.com/qpub/qpub-client-go/internal/errs"
	"github.com/qpub/qpub-client-go/internal/eventbus"
	"github.com/qpub/qpub-client-go/internal/jwtcodec"
)

// Event names emitted on the owning instance's auth Bus.
const (
	EventTokenUpdated = "TOKEN_UPDATED"
	EventTokenExpired = "TOKEN_EXPIRED"
	EventTokenError   = "TOKEN_ERROR"
	EventAuthError    = "AUTH_ERROR"
)

// Event carries the payload for every auth event above. Only the fields
// relevant to the named event are populated.
type Event struct {
	Token     *Token
	ExpiresAt time.Time
	Err       error
}

// Mode selects which of the four authentication flows authenticate()
// runs.
type Mode int

const (
	// ModeStaticKey needs no network round trip: getAuthHeaders returns
	// the "keyId:keySecret" header directly and authenticate() is a no-op.
	ModeStaticKey Mode = iota
	// ModeIssueToken POSTs the key id, client alias and a timestamp to
	// AuthURL; the response body carries a bearer token. The request body
	// carries no signature. Medium security.
	ModeIssueToken
	// ModeGenerateToken builds a JWT locally from the API key's private
	// component. Intended for server-to-server use.
	ModeGenerateToken
	// ModeTokenRequest exchanges a server-signed TokenRequest for a
	// bearer token via requestToken, without the client ever holding the
	// API key's secret. High security.
	ModeTokenRequest
)

// HTTPPoster is the minimal HTTP dependency AuthManager needs: issuing a
// POST with an extra set of caller-supplied headers layered on top of
// the transport's own header composition, and getting the raw response
// body back. httprequester.Client satisfies this without AuthManager
// importing it directly, avoiding an import cycle (HttpRequester in turn
// depends on AuthManager for its own outbound header composition).
type HTTPPoster interface {
	PostWithHeaders(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error)
}

// issueTokenResponse is the expected shape of an issueToken/requestToken
// HTTP response body.
type issueTokenResponse struct {
	Token string `json:"token"`
}

// Config carries everything AuthManager needs to run one of the four
// modes. AuthURL, ClientAlias, AuthRequestAugment, and
// PrebuiltTokenRequest mirror the corresponding OptionRegistry keys.
type Config struct {
	Mode                      Mode
	Signer                    *Signer
	HTTP                      HTTPPoster
	AuthURL                   string
	ClientAlias               string
	TokenTTL                  time.Duration
	AuthenticateRetries       int
	AuthenticateRetryInterval time.Duration
	Logger                    zerolog.Logger

	// AuthRequestAugment, when set, is applied to the header set sent
	// with every issueToken/requestToken HTTP call, letting a caller
	// attach its own headers (e.g. a reverse-proxy auth token) to the
	// auth round trip without those headers leaking onto ordinary
	// publish/subscribe traffic.
	AuthRequestAugment func(map[string]string) map[string]string

	// PrebuiltTokenRequest is the JSON-encoded TokenRequest ModeTokenRequest
	// POSTs verbatim to AuthURL. It must be produced, and signed, by
	// whatever party legitimately holds the API key's secret component —
	// never by this SDK, which is the entire point of the high-security
	// createTokenRequest + requestToken flow (spec.md §4.3 mode 4).
	PrebuiltTokenRequest []byte
}

// Manager runs the configured authentication mode, tracks the current
// Token, and schedules proactive refresh 30s before expiry.
type Manager struct {
	cfg  Config
	bus  *eventbus.Bus
	loop *dispatch.Loop

	currentToken *Token
	refreshTimer *time.Timer
	isResetting  bool
}

// NewManager constructs a Manager. bus receives the four auth events;
// callers typically pass a Bus dedicated to auth events per instance.
func NewManager(cfg Config, bus *eventbus.Bus) *Manager {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 55 * time.Minute
	}
	if cfg.AuthenticateRetries <= 0 {
		cfg.AuthenticateRetries = 3
	}
	if cfg.AuthenticateRetryInterval <= 0 {
		cfg.AuthenticateRetryInterval = 2 * time.Second
	}
	return &Manager{
		cfg:  cfg,
		bus:  bus,
		loop: dispatch.New(),
	}
}

// CurrentToken returns the most recently set token, or nil if none has
// been acquired (or the mode needs none).
func (m *Manager) CurrentToken() *Token {
	var tok *Token
	m.loop.Run(func() { tok = m.currentToken })
	return tok
}

// GetAuthHeaders returns the header set to attach to an outbound
// request under the configured mode: a static key:secret header for
// ModeStaticKey, or a bearer header built from the current token for
// the three token-based modes.
func (m *Manager) GetAuthHeaders(ctx context.Context) (map[string]string, error) {
	if m.cfg.Mode == ModeStaticKey {
		return map[string]string{"Authorization": m.cfg.Signer.StaticAuthHeader()}, nil
	}

	var tok *Token
	m.loop.Run(func() { tok = m.currentToken })

	if tok.IsExpired() {
		if err := m.Authenticate(ctx); err != nil {
			return nil, err
		}
		m.loop.Run(func() { tok = m.currentToken })
	}
	if tok == nil {
		return nil, errs.AuthFailure("auth.getAuthHeaders", "no token available")
	}
	return map[string]string{"Authorization": "Bearer " + tok.Raw}, nil
}

// Authenticate runs the configured mode once, synchronously, and on
// success calls setToken (which schedules the next proactive refresh).
// ModeStaticKey is a no-op that resolves immediately.
func (m *Manager) Authenticate(ctx context.Context) error {
	switch m.cfg.Mode {
	case ModeStaticKey:
		return nil
	case ModeIssueToken:
		return m.authenticateViaIssueToken(ctx)
	case ModeGenerateToken:
		return m.authenticateViaGenerateToken()
	case ModeTokenRequest:
		return m.authenticateViaTokenRequest(ctx)
	default:
		return errs.New("auth.authenticate", errs.KindAuthFailure, "unknown auth mode")
	}
}

func (m *Manager) authenticateViaIssueToken(ctx context.Context) error {
	body := map[string]interface{}{
		"keyId":     m.cfg.Signer.KeyID(),
		"alias":     m.cfg.ClientAlias,
		"timestamp": time.Now().UnixMilli(),
	}
	raw, err := m.cfg.HTTP.PostWithHeaders(ctx, m.cfg.AuthURL, body, m.augmentedHeaders())
	if err != nil {
		return errs.Wrap("auth.issueToken", errs.KindAuthFailure, "issueToken request failed", err)
	}
	return m.acceptRawToken(raw)
}

// augmentedHeaders applies the configured AuthRequestAugment (if any) to
// an empty header set, for the two modes that round-trip to AuthURL.
func (m *Manager) augmentedHeaders() map[string]string {
	headers := map[string]string{}
	if m.cfg.AuthRequestAugment != nil {
		headers = m.cfg.AuthRequestAugment(headers)
	}
	return headers
}

func (m *Manager) authenticateViaGenerateToken() error {
	claims := jwtcodec.NewClaims(
		time.Now().Add(m.cfg.TokenTTL),
		m.cfg.ClientAlias,
		nil,
		m.cfg.Signer.KeyID(),
	)
	signed, err := jwtcodec.Sign(claims, m.cfg.Signer.KeySecret())
	if err != nil {
		return errs.Wrap("auth.generateToken", errs.KindAuthFailure, "failed to sign local token", err)
	}
	m.setToken(&Token{
		Raw:       signed,
		ExpiresAt: claims.ExpiresAt.Time,
		Alias:     claims.Alias,
	})
	return nil
}

// authenticateViaTokenRequest exchanges a server-signed TokenRequest for
// a bearer token. Per spec.md §4.3 mode 4, the request is signed by
// whatever party holds the API key's secret component before it ever
// reaches this SDK — the client only ever POSTs the prebuilt blob
// (options.WithPrebuiltTokenRequest). It deliberately never calls
// m.cfg.Signer here: doing so would mean the client held and used the
// key secret itself, collapsing this mode into ModeGenerateToken.
func (m *Manager) authenticateViaTokenRequest(ctx context.Context) error {
	if len(m.cfg.PrebuiltTokenRequest) == 0 {
		return errs.New("auth.requestToken", errs.KindAuthFailure,
			"ModeTokenRequest requires a prebuilt TokenRequest (options.WithPrebuiltTokenRequest) signed by the party holding the API key secret")
	}
	var req TokenRequest
	if err := json.Unmarshal(m.cfg.PrebuiltTokenRequest, &req); err != nil {
		return errs.Wrap("auth.requestToken", errs.KindInternalParseError, "malformed prebuilt token request", err)
	}
	raw, err := m.cfg.HTTP.PostWithHeaders(ctx, m.cfg.AuthURL, req, m.augmentedHeaders())
	if err != nil {
		return errs.Wrap("auth.requestToken", errs.KindAuthFailure, "requestToken request failed", err)
	}
	return m.acceptRawToken(raw)
}

func (m *Manager) acceptRawToken(raw []byte) error {
	var resp issueTokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return errs.Wrap("auth.acceptToken", errs.KindInternalParseError, "malformed token response", err)
	}
	claims, err := jwtcodec.Inspect(resp.Token)
	if err != nil {
		return err
	}
	m.setToken(&Token{
		Raw:         resp.Token,
		ExpiresAt:   claims.ExpiresAt.Time,
		Alias:       claims.Alias,
		Permissions: claims.Permissions,
	})
	return nil
}

// setToken installs t as the current token, emits TOKEN_UPDATED, and
// (re)schedules the proactive refresh timer at exp-30s, clamped to
// fire no sooner than immediately.
func (m *Manager) setToken(t *Token) {
	m.loop.Run(func() {
		m.currentToken = t
		m.cancelRefreshTimerLocked()

		delay := time.Until(t.ExpiresAt) - 30*time.Second
		if delay < 0 {
			delay = 0
		}
		m.refreshTimer = time.AfterFunc(delay, m.onRefreshFire)
	})
	m.bus.Emit(EventTokenUpdated, Event{Token: t, ExpiresAt: t.ExpiresAt})
}

func (m *Manager) cancelRefreshTimerLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

// onRefreshFire re-runs the configured authenticate flow when the
// proactive refresh timer fires. On failure it retries up to
// AuthenticateRetries times at AuthenticateRetryInterval spacing,
// emitting TOKEN_ERROR per attempt and AUTH_ERROR on exhaustion.
func (m *Manager) onRefreshFire() {
	var resetting bool
	m.loop.Run(func() { resetting = m.isResetting })
	if resetting {
		return
	}

	m.bus.Emit(EventTokenExpired, Event{})

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(m.cfg.AuthenticateRetryInterval),
		uint64(m.cfg.AuthenticateRetries),
	)

	attempt := 0
	err := backoff.Retry(func() error {
		var aborted bool
		m.loop.Run(func() { aborted = m.isResetting })
		if aborted {
			return backoff.Permanent(errs.Cancelled("auth.refresh"))
		}

		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rerr := m.Authenticate(ctx)
		if rerr != nil {
			m.bus.Emit(EventTokenError, Event{Err: rerr})
		}
		return rerr
	}, policy)

	if err != nil {
		m.bus.Emit(EventAuthError, Event{Err: err})
	}
}

// Reset aborts any in-flight authentication's retry loop and cancels
// the pending refresh timer, per spec.md §4.3's cancellation signal.
func (m *Manager) Reset() {
	m.loop.Run(func() {
		m.isResetting = true
		m.cancelRefreshTimerLocked()
		m.currentToken = nil
	})
}

// Resume clears the resetting flag so a fresh Authenticate call (after
// a reconnect) can run again.
func (m *Manager) Resume() {
	m.loop.Run(func() { m.isResetting = false })
}

// Close cancels the pending refresh timer and stops the Manager's
// dispatch loop. Call once the owning instance is torn down for good.
func (m *Manager) Close() {
	m.loop.Run(m.cancelRefreshTimerLocked)
	m.loop.Close()
}
