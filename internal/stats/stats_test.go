package stats

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lendloop/realtime/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, testutil.TestLogger(t))
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/metrics"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /metrics to be set")
	assert.Equal(t, "GET /metrics", pattern, "expected handler to be registered for GET method on /metrics")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux(), testutil.TestLogger(t))
	su.RegisterMetric("active_clients")
	su.RegisterMetric("active_clients")
	su.Run()
	defer su.Stop()

	su.Incr("active_clients")
	su.Incr("active_clients")
	su.Decr("active_clients")
	su.Incr("unknown_metric")

	gauge := su.gauges["active_clients"]
	require.NotNil(t, gauge)
	assert.Eventually(t, func() bool {
		return promtest.ToFloat64(gauge) == 1
	}, time.Second, 10*time.Millisecond, "expected gauge to settle at 1")
}

func TestStatsUpdater_Handler(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, testutil.TestLogger(t))
	su.RegisterMetric("lobby_members")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "lendloop_lobby_members"), "expected registered gauge in output")
	assert.True(t, strings.Contains(body, "lendloop_uptime_seconds"), "expected uptime gauge in output")
}

func TestStatsUpdater_Counter(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, testutil.TestLogger(t))
	su.RegisterCounter("messages_persisted")
	su.RegisterCounter("messages_persisted")
	su.Run()
	defer su.Stop()

	su.Incr("messages_persisted")
	su.Incr("messages_persisted")
	su.Decr("messages_persisted")

	counter := su.counters["messages_persisted"]
	require.NotNil(t, counter)
	assert.Eventually(t, func() bool {
		return promtest.ToFloat64(counter) == 2
	}, time.Second, 10*time.Millisecond, "expected counter to ignore the decrement")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "# TYPE lendloop_messages_persisted_total counter")
}

func TestStatsUpdater_UpdatesAfterStop(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux(), testutil.TestLogger(t))
	su.RegisterMetric("active_clients")
	su.Run()

	su.Stop()
	assert.NotPanics(t, su.Stop, "expected second stop to be a no-op")
	assert.NotPanics(t, func() {
		su.Incr("active_clients")
		su.Decr("active_clients")
	}, "expected updates after stop to be dropped")
}
