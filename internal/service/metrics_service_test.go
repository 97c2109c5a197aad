package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostelsync-api/pkg/events"
)

func TestMetricsSnapshotAggregates(t *testing.T) {
	m := NewMetricsService()

	m.ObserveHTTPRequest(http.MethodPost, "/transport/bookings", http.StatusCreated, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodPost, "/transport/bookings", http.StatusConflict, 40*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordAdmission(AdmissionAccepted)
	m.RecordAdmission("SCHEDULE_FULL")
	m.RecordAdmission("SCHEDULE_FULL")
	m.RecordEventDelivery("kafka", events.ResultPublished)
	m.RecordEventDelivery("kafka", events.ResultDropped)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 30, snap.AverageRequestDurationMs, 0.5)
	assert.InDelta(t, 2.0/3.0, snap.CacheHitRatio, 0.001)
	assert.Equal(t, map[string]int64{"accepted": 1, "SCHEDULE_FULL": 2}, snap.Admissions)
	assert.Equal(t, uint64(1), snap.EventsPublished)
	assert.Equal(t, uint64(1), snap.EventsDropped)
}

func TestMetricsHandlerExposesLedgerSeries(t *testing.T) {
	m := NewMetricsService()
	m.RecordAdmission("SCHEDULE_FULL")
	m.ObserveSlotLockWait(3 * time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `booking_admissions_total{outcome="SCHEDULE_FULL"} 1`)
	assert.Contains(t, w.Body.String(), "booking_slot_lock_wait_seconds_count 1")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.ObserveHTTPRequest(http.MethodGet, "/", 200, time.Millisecond)
		m.RecordAdmission(AdmissionAccepted)
		m.RecordEventDelivery("amqp", events.ResultPublished)
		_ = m.Snapshot()
	})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
