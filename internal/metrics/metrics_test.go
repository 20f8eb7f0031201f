package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Composed("task_reminder", false)
	m.Composed("task_reminder", false)
	m.Composed("session_reminder", true)
	m.Delivery("sent")
	m.Transition("scheduled", "cancelled")
	m.DispatchTick(15 * time.Millisecond)
	m.HTTPRequest("POST", "/api/v1/messages/compose", 201, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.composed.WithLabelValues("task_reminder", "immediate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.composed.WithLabelValues("session_reminder", "scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("scheduled", "cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/v1/messages/compose", "201")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Delivery("delivered")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `reminders_deliveries_total{outcome="delivered"} 1`))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Composed("task_reminder", true)
	m.Delivery("sent")
	m.Transition("a", "b")
	m.DispatchTick(time.Second)
	m.HTTPRequest("GET", "/", 200, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
