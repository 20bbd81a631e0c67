package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHTTPRequest_IncrementsCounter(t *testing.T) {
	c := NewCollector()
	c.RecordHTTPRequest("GET", "/healthz", 200)
	c.RecordHTTPRequest("GET", "/healthz", 200)
	c.RecordHTTPRequest("GET", "/metrics", 500)

	snapshot := c.Snapshot()
	var total int64
	for _, counter := range snapshot.Counters {
		if counter.Name == "qpub_admin_http_requests_total" {
			total += counter.Value
		}
	}
	assert.Equal(t, int64(3), total)
}

func TestRecordChannelEvent_TracksPerChannel(t *testing.T) {
	c := NewCollector()
	c.RecordChannelEvent("orders", "SUBSCRIBED")
	c.RecordChannelEvent("orders", "SUBSCRIBED")
	c.RecordChannelEvent("trades", "FAILED")

	snapshot := c.Snapshot()
	counts := map[string]int64{}
	for _, counter := range snapshot.Counters {
		if counter.Name == "qpub_channel_events_total" {
			counts[counter.Labels["channel"]+":"+counter.Labels["event"]] = counter.Value
		}
	}
	assert.Equal(t, int64(2), counts["orders:SUBSCRIBED"])
	assert.Equal(t, int64(1), counts["trades:FAILED"])
}

func TestRecordMessageDelivered_AccumulatesPerChannel(t *testing.T) {
	c := NewCollector()
	c.RecordMessageDelivered("orders", 3)
	c.RecordMessageDelivered("orders", 1)

	snapshot := c.Snapshot()
	for _, counter := range snapshot.Counters {
		if counter.Name == "qpub_messages_delivered_total" && counter.Labels["channel"] == "orders" {
			assert.Equal(t, int64(4), counter.Value)
			return
		}
	}
	t.Fatal("qpub_messages_delivered_total for orders not found")
}

func TestRecordAuthLatency_FeedsHistogram(t *testing.T) {
	c := NewCollector()
	c.RecordAuthLatency("generateToken", 0.002)
	c.RecordAuthLatency("generateToken", 0.012)

	snapshot := c.Snapshot()
	var n int
	for _, h := range snapshot.Histograms {
		if h.Name == "qpub_auth_latency_seconds" {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestReset_ClearsAllMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordChannelEvent("orders", "SUBSCRIBED")
	c.RecordAuthEvent("TOKEN_UPDATED")
	c.Reset()

	snapshot := c.Snapshot()
	assert.Empty(t, snapshot.Counters)
	assert.Empty(t, snapshot.Histograms)
}

func TestCollect_RendersPrometheusText(t *testing.T) {
	c := NewCollector()
	c.RecordChannelEvent("orders", "SUBSCRIBED")
	c.RecordAuthLatency("generateToken", 0.01)

	text, err := c.Collect()
	require.NoError(t, err)
	assert.Contains(t, text, "qpub_client_uptime_seconds")
	assert.Contains(t, text, "# TYPE qpub_channel_events_total counter")
	assert.Contains(t, text, `channel="orders"`)
	assert.Contains(t, text, "# TYPE qpub_auth_latency_seconds histogram")
	assert.True(t, strings.Contains(text, "_bucket{"))
}
