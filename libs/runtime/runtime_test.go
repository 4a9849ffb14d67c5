package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyzReportsFailingCheck(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("dial timeout") }},
		ReadyCheck{Name: "redis"},
	)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "ok", body.Checks["db"])
	assert.Equal(t, "dial timeout", body.Checks["kafka"])
	assert.NotContains(t, body.Checks, "redis")
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewBaseMuxWithReady().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+39*******567", MaskPhone("+393331234567"))
	assert.Equal(t, "****", MaskPhone("1234"))
}

func TestTruncateUTF8(t *testing.T) {
	s := strings.Repeat("a", 9) + "è"
	assert.Equal(t, strings.Repeat("a", 9), TruncateUTF8(s, 10))
	assert.Equal(t, s, TruncateUTF8(s, 11))
	assert.Equal(t, "ab", TruncateUTF8("a\xffb", 10))
	assert.Equal(t, "", TruncateUTF8("è", 1))

	long := strings.Repeat("x", 488) + strings.Repeat("è", 10)
	got := TruncateUTF8(long, 500)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 500)
	assert.Equal(t, strings.Repeat("x", 488)+strings.Repeat("è", 6), got)
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "scheduler-service", "warn")
	l.Info("hidden")
	l.Warn("shown", "notification_id", "n1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"service":"scheduler-service"`)
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
}
