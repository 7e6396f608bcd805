package admin

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmallory/storeguard/internal/audit"
	"github.com/jmallory/storeguard/internal/lockout"
)

func newTestGate(allowlist []string, tracker *lockout.Tracker) (*Gate, *audit.Log) {
	log := audit.NewLog(slog.Default())
	return NewGate(allowlist, tracker, log, slog.Default()), log
}

func TestValidate_AllowlistedAddress(t *testing.T) {
	gate, log := newTestGate([]string{"10.0.0.1"}, nil)

	ok := gate.Validate(context.Background(), "10.0.0.1", "console/1.0")
	assert.True(t, ok)
	// Success is silent: no event.
	assert.Equal(t, 0, log.Len())
}

func TestValidate_NotAllowlisted(t *testing.T) {
	gate, log := newTestGate([]string{"10.0.0.1"}, nil)

	ok := gate.Validate(context.Background(), "203.0.113.50", "console/1.0")
	assert.False(t, ok)

	events := log.ByKind(audit.KindAdminAccess)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityHigh, events[0].Severity)
	assert.Equal(t, "ip_not_whitelisted", events[0].Details["reason"])
	assert.Equal(t, "203.0.113.50", events[0].SourceAddress)
	assert.Equal(t, "console/1.0", events[0].ClientSignature)
}

func TestValidate_EmptyAllowlistDisablesCheck(t *testing.T) {
	gate, log := newTestGate(nil, nil)

	assert.True(t, gate.Validate(context.Background(), "198.51.100.9", ""))
	assert.Equal(t, 0, log.Len())
}

func TestValidate_LockedAddress(t *testing.T) {
	tracker := lockout.New(1, time.Hour)
	tracker.RecordFailure("10.0.0.1")

	gate, log := newTestGate([]string{"10.0.0.1"}, tracker)

	ok := gate.Validate(context.Background(), "10.0.0.1", "console/1.0")
	assert.False(t, ok)

	events := log.ByKind(audit.KindAdminAccess)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityMedium, events[0].Severity)
	assert.Equal(t, "ip_temporarily_locked", events[0].Details["reason"])
}

func TestValidate_AllowlistCheckedBeforeLockout(t *testing.T) {
	tracker := lockout.New(1, time.Hour)
	tracker.RecordFailure("203.0.113.50")

	gate, log := newTestGate([]string{"10.0.0.1"}, tracker)

	// Address is both unlisted and locked; the allowlist reason wins.
	gate.Validate(context.Background(), "203.0.113.50", "")
	events := log.ByKind(audit.KindAdminAccess)
	require.Len(t, events, 1)
	assert.Equal(t, "ip_not_whitelisted", events[0].Details["reason"])
}

func TestMiddleware_GenericDenialBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate, _ := newTestGate([]string{"10.0.0.1"}, nil)

	router := gin.New()
	router.Use(gate.Middleware())
	router.GET("/admin/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.RemoteAddr = "203.0.113.50:4321"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	// The body must not leak the denial cause.
	assert.NotContains(t, w.Body.String(), "whitelist")
	assert.NotContains(t, w.Body.String(), "lock")
	assert.Contains(t, w.Body.String(), "access denied")
}
