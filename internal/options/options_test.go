package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	o := Default()
	assert.True(t, o.AutoConnect)
	assert.True(t, o.AutoReconnect)
	assert.Equal(t, 10*time.Second, o.ConnectTimeout)
	assert.Equal(t, "wss://stream.qpub.example", o.StreamBaseURL())
	assert.Equal(t, "https://rest.qpub.example", o.HTTPBaseURL())
}

func TestNewAppliesOverrides(t *testing.T) {
	o := New(
		WithAPIKey("key.secret"),
		WithStreamHost("custom.stream"),
		WithStreamPort(8443),
		WithSecure(false),
	)
	require.Equal(t, "key.secret", o.APIKey)
	assert.Equal(t, "ws://custom.stream:8443", o.StreamBaseURL())
}

func TestSetMutatesAfterConstruction(t *testing.T) {
	o := Default()
	o.Set(WithDebug(true))
	assert.True(t, o.Debug)
}

func TestResetRestoresDefaults(t *testing.T) {
	o := New(WithAPIKey("k"), WithDebug(true))
	o.Reset()
	assert.Empty(t, o.APIKey)
	assert.False(t, o.Debug)
	assert.True(t, o.AutoConnect)
}

func TestReconnectPolicyOption(t *testing.T) {
	o := New(WithReconnectPolicy(2*time.Second, time.Minute, 1.5, 20))
	assert.Equal(t, 2*time.Second, o.ReconnectInitialDelay)
	assert.Equal(t, time.Minute, o.ReconnectMaxDelay)
	assert.Equal(t, 1.5, o.ReconnectMultiplier)
	assert.Equal(t, 20, o.MaxReconnectAttempts)
}

func TestAuthModeDefaultsToStatic(t *testing.T) {
	o := New(WithAPIKey("key:secret"))
	assert.Equal(t, AuthModeStatic, o.AuthMode)
}

func TestAuthModeOverride(t *testing.T) {
	o := New(WithAPIKey("key:secret"), WithAuthMode(AuthModeGenerateToken))
	assert.Equal(t, AuthModeGenerateToken, o.AuthMode)
}
