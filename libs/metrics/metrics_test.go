package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestReminderMetrics(t *testing.T) {
	reg := Registry()
	m := NewReminderMetrics(reg)

	m.Enqueued("day_before", "daily", 3)
	m.Enqueued("day_before", "daily", 0)
	m.Claim(true)
	m.Claim(false)
	m.Claim(false)
	m.Send("same_day", "sent", 200*time.Millisecond)
	m.JobRun("send-due", errors.New("db down"))
	m.PartialWrite()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.enqueued.WithLabelValues("day_before", "daily")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.claims.WithLabelValues("lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("send-due", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partial))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "chairbook_reminders_sends_total")
}

func TestNilReceiversAreNoops(t *testing.T) {
	var m *ReminderMetrics
	m.Claim(true)
	m.Send("review", "failed", time.Second)
	var h *HTTPMetrics
	h.ObserveHTTP(http.MethodGet, "/", 200, time.Millisecond)
}
