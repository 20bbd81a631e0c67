// Package options implements the QPub client's OptionRegistry: a typed
// config store with defaults and partial overrides, generalized from the
// teacher's env-var-driven Config struct (internal/config/config.go) into
// a functional-options registry mutated at construction and via SetOption.
package options

import (
	"strconv"
	"time"
)

// AuthMode selects which of AuthManager's four authentication flows an
// instance uses, mirroring auth.Mode without this leaf package importing
// internal/auth directly.
type AuthMode int

const (
	// AuthModeStatic sends the "keyId:keySecret" header with no network
	// round trip — the default whenever no AuthMode is given, whether or
	// not AuthURL is set.
	AuthModeStatic AuthMode = iota
	// AuthModeIssueToken POSTs the key id, client alias and a timestamp
	// to AuthURL and receives a bearer token in response; the request
	// body carries no signature.
	AuthModeIssueToken
	// AuthModeGenerateToken builds a JWT locally from the API key's
	// private component, for server-to-server use. Never selected
	// implicitly — a caller with the key's private component must opt in.
	AuthModeGenerateToken
	// AuthModeTokenRequest exchanges a server-signed TokenRequest for a
	// bearer token, without this instance ever holding the API key.
	AuthModeTokenRequest
)

// Options is the closed set of recognized configuration keys. Values are
// created at instance construction, mutated via Set, and reset to
// defaults by Reset (called from the instance's reset()).
type Options struct {
	// Credentials
	APIKey               string
	AuthMode             AuthMode
	AuthURL              string
	AuthRequestAugment   func(map[string]string) map[string]string
	PrebuiltTokenRequest []byte
	ClientAlias          string

	// Endpoints
	HTTPHost    string
	HTTPPort    int
	StreamHost  string
	StreamPort  int
	Secure      bool

	// Behaviors
	AutoConnect     bool
	AutoReconnect   bool
	AutoResubscribe bool
	AutoAuthenticate bool

	// Timings
	ConnectTimeout           time.Duration
	ReconnectInitialDelay    time.Duration
	ReconnectMaxDelay        time.Duration
	ReconnectMultiplier      float64
	MaxReconnectAttempts     int
	ResubscribeInterval      time.Duration
	AuthenticateRetries      int
	AuthenticateRetryInterval time.Duration
	PingTimeout              time.Duration
	SubscribeTimeout         time.Duration

	// Observability
	Debug    bool
	LogLevel string
	LogSink  func(level string, msg string, fields map[string]interface{})
}

// Option mutates an Options value at construction time.
type Option func(*Options)

// Default returns the documented defaults for every recognized key.
func Default() *Options {
	return &Options{
		AuthMode:   AuthModeStatic,
		HTTPHost:   "rest.qpub.example",
		HTTPPort:   443,
		StreamHost: "stream.qpub.example",
		StreamPort: 443,
		Secure:     true,

		AutoConnect:      true,
		AutoReconnect:    true,
		AutoResubscribe:  true,
		AutoAuthenticate: true,

		ConnectTimeout:            10 * time.Second,
		ReconnectInitialDelay:     1 * time.Second,
		ReconnectMaxDelay:         30 * time.Second,
		ReconnectMultiplier:       2.0,
		MaxReconnectAttempts:      10,
		ResubscribeInterval:       100 * time.Millisecond,
		AuthenticateRetries:       3,
		AuthenticateRetryInterval: 2 * time.Second,
		PingTimeout:               60 * time.Second,
		SubscribeTimeout:          10 * time.Second,

		LogLevel: "info",
	}
}

// New builds an Options value by applying opts over the documented
// defaults, the construction-time path spec.md §3 describes.
func New(opts ...Option) *Options {
	o := Default()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Set applies a single option after construction (the SetOption path).
func (o *Options) Set(opt Option) {
	opt(o)
}

// Reset destroys all mutated values, restoring documented defaults. This
// is the "destroyed on reset()" half of the Option lifecycle; InstanceId
// is untouched by Reset since it lives outside Options.
func (o *Options) Reset() {
	*o = *Default()
}

func WithAPIKey(key string) Option            { return func(o *Options) { o.APIKey = key } }
func WithAuthMode(mode AuthMode) Option       { return func(o *Options) { o.AuthMode = mode } }
func WithAuthURL(url string) Option           { return func(o *Options) { o.AuthURL = url } }
func WithClientAlias(alias string) Option     { return func(o *Options) { o.ClientAlias = alias } }
func WithHTTPHost(host string) Option         { return func(o *Options) { o.HTTPHost = host } }
func WithHTTPPort(port int) Option            { return func(o *Options) { o.HTTPPort = port } }
func WithStreamHost(host string) Option       { return func(o *Options) { o.StreamHost = host } }
func WithStreamPort(port int) Option          { return func(o *Options) { o.StreamPort = port } }
func WithSecure(secure bool) Option           { return func(o *Options) { o.Secure = secure } }
func WithAutoConnect(b bool) Option           { return func(o *Options) { o.AutoConnect = b } }
func WithAutoReconnect(b bool) Option         { return func(o *Options) { o.AutoReconnect = b } }
func WithAutoResubscribe(b bool) Option       { return func(o *Options) { o.AutoResubscribe = b } }
func WithAutoAuthenticate(b bool) Option      { return func(o *Options) { o.AutoAuthenticate = b } }
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}
func WithReconnectPolicy(initial, max time.Duration, multiplier float64, maxAttempts int) Option {
	return func(o *Options) {
		o.ReconnectInitialDelay = initial
		o.ReconnectMaxDelay = max
		o.ReconnectMultiplier = multiplier
		o.MaxReconnectAttempts = maxAttempts
	}
}
func WithResubscribeInterval(d time.Duration) Option {
	return func(o *Options) { o.ResubscribeInterval = d }
}
func WithAuthRetryPolicy(retries int, interval time.Duration) Option {
	return func(o *Options) {
		o.AuthenticateRetries = retries
		o.AuthenticateRetryInterval = interval
	}
}
func WithPingTimeout(d time.Duration) Option      { return func(o *Options) { o.PingTimeout = d } }
func WithSubscribeTimeout(d time.Duration) Option { return func(o *Options) { o.SubscribeTimeout = d } }
func WithDebug(b bool) Option                     { return func(o *Options) { o.Debug = b } }
func WithLogLevel(level string) Option            { return func(o *Options) { o.LogLevel = level } }
func WithLogSink(sink func(level, msg string, fields map[string]interface{})) Option {
	return func(o *Options) { o.LogSink = sink }
}
func WithPrebuiltTokenRequest(raw []byte) Option {
	return func(o *Options) { o.PrebuiltTokenRequest = raw }
}
func WithAuthRequestAugment(fn func(map[string]string) map[string]string) Option {
	return func(o *Options) { o.AuthRequestAugment = fn }
}

// HTTPBaseURL composes the scheme/host/port the HttpRequester dials.
func (o *Options) HTTPBaseURL() string {
	scheme := "http"
	if o.Secure {
		scheme = "https"
	}
	if (o.Secure && o.HTTPPort == 443) || (!o.Secure && o.HTTPPort == 80) || o.HTTPPort == 0 {
		return scheme + "://" + o.HTTPHost
	}
	return scheme + "://" + o.HTTPHost + portSuffix(o.HTTPPort)
}

// StreamBaseURL composes the scheme/host/port the TransportSocket dials.
func (o *Options) StreamBaseURL() string {
	scheme := "ws"
	if o.Secure {
		scheme = "wss"
	}
	if (o.Secure && o.StreamPort == 443) || (!o.Secure && o.StreamPort == 80) || o.StreamPort == 0 {
		return scheme + "://" + o.StreamHost
	}
	return scheme + "://" + o.StreamHost + portSuffix(o.StreamPort)
}

func portSuffix(port int) string {
	if port == 0 {
		return ""
	}
	return ":" + strconv.Itoa(port)
}
