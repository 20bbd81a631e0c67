package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qpub/qpub-client-go/internal/metrics"
	"github.com/qpub/qpub-client-go/internal/registry"
)

type fakeConnection struct{ connected bool }

func (f fakeConnection) IsConnected() bool { return f.connected }

type fakeChannels struct{ snap []registry.ChannelSnapshot }

func (f fakeChannels) Snapshot() []registry.ChannelSnapshot { return f.snap }

func TestHandleHealthz_ReportsConnectionState(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := New(Config{Version: "1.0.0", Connection: fakeConnection{connected: true}, Logger: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["connected"])
}

func TestHandleHealthz_DisconnectedReturns503(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := New(Config{Connection: fakeConnection{connected: false}, Logger: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleMetrics_RendersPrometheusText(t *testing.T) {
	gin.SetMode(gin.TestMode)

	collector := metrics.NewCollector()
	collector.RecordChannelEvent("orders", "SUBSCRIBED")

	s := New(Config{Metrics: collector, Logger: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "qpub_channel_events_total")
}

func TestHandleDebugChannels_ListsSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)

	chans := fakeChannels{snap: []registry.ChannelSnapshot{
		{Name: "orders", State: "Subscribed", RefCount: 2, HasCallbacks: true},
	}}
	s := New(Config{Channels: chans, Logger: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/debug/channels", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Channels []registry.ChannelSnapshot `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Channels, 1)
	assert.Equal(t, "orders", body.Channels[0].Name)
	assert.Equal(t, 2, body.Channels[0].RefCount)
}

func TestHandleDebugChannels_EmptyWhenNoChannels(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := New(Config{Logger: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodGet, "/debug/channels", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"channels":[]}`, w.Body.String())
}
