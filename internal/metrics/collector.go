// Package metrics implements the QPub client's Prometheus-text metrics
// surface exposed by internal/adminapi. Adapted from the teacher's
// internal/metrics/collector.go (same composite-key counter/histogram
// maps and bucket-based Collect() rendering), repointed from Binance
// order/stream metrics to channel lifecycle events, delivered message
// counts, auth token events, and connection lifecycle events.
package metrics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NewCollector creates a Collector with the default latency buckets.
func NewCollector() *Collector {
	return &Collector{
		httpRequestCounter:     make(map[string]int64),
		httpRequestHistogram:   make(map[string][]float64),
		channelEventCounter:    make(map[string]int64),
		messagesDelivered:      make(map[string]int64),
		publishCounter:         make(map[string]int64),
		authEventCounter:       make(map[string]int64),
		authLatencyHist:        make(map[string][]float64),
		connectionEventCounter: make(map[string]int64),
		customHistograms:       make(map[string][]float64),
		customCounters:         make(map[string]int64),
		histogramBuckets:       DefaultLatencyBuckets,
		startTime:              time.Now(),
	}
}

// RecordHTTPRequest increments the admin-API HTTP request counter.
func (c *Collector) RecordHTTPRequest(method, path string, status int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.httpRequestCounter[c.buildKey(method, path, status)]++
}

// RecordHTTPDuration records an admin-API HTTP request's duration.
func (c *Collector) RecordHTTPDuration(method, path string, seconds float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	key := c.buildKey(method, path)
	c.httpRequestHistogram[key] = append(c.httpRequestHistogram[key], seconds)
}

// RecordChannelEvent increments the per-channel lifecycle event counter
// (SUBSCRIBED, UNSUBSCRIBED, FAILED, RESUMED, ...).
func (c *Collector) RecordChannelEvent(channel, event string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.channelEventCounter[c.buildKey(channel, event)]++
}

// RecordMessageDelivered increments the per-channel delivered-message
// counter by n (the payload count of one MESSAGE frame).
func (c *Collector) RecordMessageDelivered(channel string, n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.messagesDelivered[channel] += int64(n)
}

// RecordPublish increments the per-channel publish counter.
func (c *Collector) RecordPublish(channel string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.publishCounter[channel]++
}

// RecordAuthEvent increments the auth event counter (TOKEN_UPDATED,
// TOKEN_EXPIRED, TOKEN_ERROR, AUTH_ERROR).
func (c *Collector) RecordAuthEvent(event string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.authEventCounter[event]++
}

// RecordAuthLatency records how long one authenticate() call took for
// the given mode.
func (c *Collector) RecordAuthLatency(mode string, seconds float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.authLatencyHist[mode] = append(c.authLatencyHist[mode], seconds)
}

// RecordConnectionEvent increments the connection lifecycle event
// counter (CONNECTED, DISCONNECTED, FAILED, ...).
func (c *Collector) RecordConnectionEvent(event string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.connectionEventCounter[event]++
}

// RecordCustomCounter increments an arbitrary named counter.
func (c *Collector) RecordCustomCounter(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.customCounters[name]++
}

// Snapshot returns a point-in-time view of every metric.
func (c *Collector) Snapshot() Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var counters []CounterEntry
	var histograms []HistogramEntry

	for key, count := range c.httpRequestCounter {
		parts := c.parseKey(key, 3)
		if len(parts) >= 3 {
			counters = append(counters, CounterEntry{
				Name: "qpub_admin_http_requests_total", Value: count,
				Labels: map[string]string{"method": parts[0], "path": parts[1], "status": parts[2]},
			})
		}
	}
	for key, durations := range c.httpRequestHistogram {
		parts := c.parseKey(key, 2)
		if len(parts) >= 2 {
			for _, d := range durations {
				histograms = append(histograms, HistogramEntry{
					Name: "qpub_admin_http_request_duration_seconds", Value: d,
					Labels: map[string]string{"method": parts[0], "path": parts[1]},
				})
			}
		}
	}

	for key, count := range c.channelEventCounter {
		parts := c.parseKey(key, 2)
		if len(parts) >= 2 {
			counters = append(counters, CounterEntry{
				Name: "qpub_channel_events_total", Value: count,
				Labels: map[string]string{"channel": parts[0], "event": parts[1]},
			})
		}
	}
	for channel, count := range c.messagesDelivered {
		counters = append(counters, CounterEntry{
			Name: "qpub_messages_delivered_total", Value: count,
			Labels: map[string]string{"channel": channel},
		})
	}
	for channel, count := range c.publishCounter {
		counters = append(counters, CounterEntry{
			Name: "qpub_publishes_total", Value: count,
			Labels: map[string]string{"channel": channel},
		})
	}
	for event, count := range c.authEventCounter {
		counters = append(counters, CounterEntry{
			Name: "qpub_auth_events_total", Value: count,
			Labels: map[string]string{"event": event},
		})
	}
	for mode, values := range c.authLatencyHist {
		for _, v := range values {
			histograms = append(histograms, HistogramEntry{
				Name: "qpub_auth_latency_seconds", Value: v,
				Labels: map[string]string{"mode": mode},
			})
		}
	}
	for event, count := range c.connectionEventCounter {
		counters = append(counters, CounterEntry{
			Name: "qpub_connection_events_total", Value: count,
			Labels: map[string]string{"event": event},
		})
	}
	for name, count := range c.customCounters {
		counters = append(counters, CounterEntry{Name: name, Value: count, Labels: map[string]string{}})
	}

	return Snapshot{Counters: counters, Histograms: histograms, Timestamp: time.Now()}
}

// Reset clears every metric.
func (c *Collector) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.httpRequestCounter = make(map[string]int64)
	c.httpRequestHistogram = make(map[string][]float64)
	c.channelEventCounter = make(map[string]int64)
	c.messagesDelivered = make(map[string]int64)
	c.publishCounter = make(map[string]int64)
	c.authEventCounter = make(map[string]int64)
	c.authLatencyHist = make(map[string][]float64)
	c.connectionEventCounter = make(map[string]int64)
	c.customCounters = make(map[string]int64)
	c.startTime = time.Now()
}

// Collect returns the current metrics rendered as Prometheus text
// exposition format.
func (c *Collector) Collect() (string, error) {
	snapshot := c.Snapshot()
	var lines []string

	uptime := time.Since(c.startTime).Seconds()
	lines = append(lines, "# HELP qpub_client_uptime_seconds Time since the instance was constructed")
	lines = append(lines, "# TYPE qpub_client_uptime_seconds counter")
	lines = append(lines, fmt.Sprintf("qpub_client_uptime_seconds %f %d", uptime, snapshot.Timestamp.Unix()))
	lines = append(lines, "")

	counterGroups := make(map[string][]CounterEntry)
	for _, counter := range snapshot.Counters {
		counterGroups[counter.Name] = append(counterGroups[counter.Name], counter)
	}
	for name, counters := range counterGroups {
		lines = append(lines, fmt.Sprintf("# HELP %s %s", name, counterHelp(name)))
		lines = append(lines, fmt.Sprintf("# TYPE %s counter", name))
		for _, counter := range counters {
			lines = append(lines, fmt.Sprintf("%s%s %d %d", name, formatLabels(counter.Labels), counter.Value, snapshot.Timestamp.Unix()))
		}
		lines = append(lines, "")
	}

	histogramGroups := make(map[string][]HistogramEntry)
	for _, h := range snapshot.Histograms {
		histogramGroups[h.Name] = append(histogramGroups[h.Name], h)
	}
	for name, entries := range histogramGroups {
		lines = append(lines, fmt.Sprintf("# HELP %s %s", name, histogramHelp(name)))
		lines = append(lines, fmt.Sprintf("# TYPE %s histogram", name))

		labelGroups := make(map[string][]float64)
		for _, e := range entries {
			labelGroups[formatLabels(e.Labels)] = append(labelGroups[formatLabels(e.Labels)], e.Value)
		}
		for labelKey, values := range labelGroups {
			bucketCounts := c.calculateBucketCounts(values)
			for i, limit := range c.histogramBuckets {
				lines = append(lines, fmt.Sprintf("%s_bucket%s %d %d", name, addBucketLabel(labelKey, limit), bucketCounts[i], snapshot.Timestamp.Unix()))
			}
			lines = append(lines, fmt.Sprintf("%s_bucket%s %d %d", name, addBucketLabel(labelKey, "+Inf"), len(values), snapshot.Timestamp.Unix()))

			sum := 0.0
			for _, v := range values {
				sum += v
			}
			lines = append(lines, fmt.Sprintf("%s_sum%s %f %d", name, labelKey, sum, snapshot.Timestamp.Unix()))
			lines = append(lines, fmt.Sprintf("%s_count%s %d %d", name, labelKey, len(values), snapshot.Timestamp.Unix()))
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n"), nil
}

func (c *Collector) buildKey(parts ...interface{}) string {
	var key string
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		switch v := part.(type) {
		case string:
			key += v
		case int:
			key += strconv.Itoa(v)
		}
	}
	return key
}

func (c *Collector) parseKey(key string, expectedParts int) []string {
	parts := make([]string, 0, expectedParts)
	current := ""
	for _, ch := range key {
		if ch == ':' {
			parts = append(parts, current)
			current = ""
		} else {
			current += string(ch)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

func (c *Collector) calculateBucketCounts(values []float64) []int {
	counts := make([]int, len(c.histogramBuckets))
	for _, v := range values {
		for i, limit := range c.histogramBuckets {
			if v <= limit {
				counts[i]++
			}
		}
	}
	for i := 1; i < len(counts); i++ {
		counts[i] += counts[i-1]
	}
	return counts
}

func counterHelp(name string) string {
	switch name {
	case "qpub_admin_http_requests_total":
		return "Total number of admin HTTP requests"
	case "qpub_channel_events_total":
		return "Total number of channel lifecycle events by channel and event"
	case "qpub_messages_delivered_total":
		return "Total number of DeliveredMessage records handed to callbacks"
	case "qpub_publishes_total":
		return "Total number of publish calls per channel"
	case "qpub_auth_events_total":
		return "Total number of auth lifecycle events"
	case "qpub_connection_events_total":
		return "Total number of connection lifecycle events"
	default:
		return "Custom counter metric"
	}
}

func histogramHelp(name string) string {
	switch name {
	case "qpub_admin_http_request_duration_seconds":
		return "Admin HTTP request duration in seconds"
	case "qpub_auth_latency_seconds":
		return "Authenticate() call latency in seconds by mode"
	default:
		return "Custom histogram metric"
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range labels {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, key, value))
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func addBucketLabel(existingLabels string, bucketLimit interface{}) string {
	bucketLimitStr := fmt.Sprintf("%v", bucketLimit)
	if existingLabels == "" || existingLabels == "{}" {
		return fmt.Sprintf(`{le="%s"}`, bucketLimitStr)
	}
	trimmed := strings.TrimSuffix(existingLabels, "}")
	return fmt.Sprintf(`%s,le="%s"}`, trimmed, bucketLimitStr)
}
