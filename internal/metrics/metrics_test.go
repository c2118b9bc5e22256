package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/config"
	"streamrelay/internal/registry"
)

type fixedStats registry.Stats

func (f fixedStats) GetStats() registry.Stats { return registry.Stats(f) }

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_CountersAppearInScrape(t *testing.T) {
	m := New(&config.MetricsConfig{Namespace: "relaytest"})

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.AuthSucceeded()
	m.AuthFailed()
	m.MessageReceived("video-frame", time.Now())
	m.Delivery("video-frame", ResultDelivered)
	m.Delivery("video-frame", ResultFailed)
	m.AlertDropped()
	m.StatusBroadcast("offline")
	m.SetStreamFPS("s1", 24)

	body := scrape(t, m)
	assert.Contains(t, body, "relaytest_connections_open 1")
	assert.Contains(t, body, "relaytest_auth_success_total 1")
	assert.Contains(t, body, "relaytest_auth_failures_total 1")
	assert.Contains(t, body, `relaytest_messages_total{type="video-frame"} 1`)
	assert.Contains(t, body, `relaytest_deliveries_total{kind="video-frame",result="failed"} 1`)
	assert.Contains(t, body, "relaytest_alerts_dropped_total 1")
	assert.Contains(t, body, `relaytest_status_events_total{status="offline"} 1`)
	assert.Contains(t, body, `relaytest_stream_fps{stream="s1"} 24`)

	m.RemoveStream("s1")
	assert.NotContains(t, scrape(t, m), `relaytest_stream_fps{stream="s1"}`)
}

func TestMetrics_BindRegistry(t *testing.T) {
	m := New(&config.MetricsConfig{Namespace: "relaytest"})
	m.BindRegistry(fixedStats{Producers: 2, VideoConsumers: 5, AlertConsumers: 3, RegisteredConnections: 9})

	body := scrape(t, m)
	assert.Contains(t, body, "relaytest_producers 2")
	assert.Contains(t, body, "relaytest_video_consumers 5")
	assert.Contains(t, body, "relaytest_alert_consumers 3")
	assert.Contains(t, body, "relaytest_connections_registered 9")
}

func TestMetrics_Middleware(t *testing.T) {
	m := New(&config.MetricsConfig{Namespace: "relaytest"})
	h := m.Middleware("/api/stats", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Contains(t, scrape(t, m), `relaytest_http_requests_total{method="GET",route="/api/stats",status="418"} 1`)
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.AuthSucceeded()
	m.AuthFailed()
	m.MessageReceived("alert", time.Now())
	m.Delivery("alert", ResultDelivered)
	m.AlertDropped()
	m.StatusBroadcast("streaming")
	m.SetStreamFPS("s", 1)
	m.RemoveStream("s")
	m.BindRegistry(fixedStats{})
	assert.Nil(t, m.Registry())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Middleware("/x", next))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
