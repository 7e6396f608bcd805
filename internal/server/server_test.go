package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmallory/storeguard/internal/audit"
	"github.com/jmallory/storeguard/internal/config"
	"github.com/jmallory/storeguard/internal/orders"
	"github.com/jmallory/storeguard/internal/transfer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                  "0",
		Env:                   "development",
		LogLevel:              "error",
		EncryptionSecret:      "test-secret-0123456789abcdef",
		MaxLoginAttempts:      3,
		LockoutDuration:       time.Hour,
		SweepInterval:         time.Minute,
		FraudDetectionEnabled: true,
		MinimumTransferAmount: 100,
		DailyTransferCap:      5000,
		NetMarginRate:         0.7,
		TransferTimeout:       time.Second,
		RateLimitRPM:          100000,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
	})
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// completingRail reports success with a fixed external transaction id.
type completingRail struct{ calls int }

func (r *completingRail) Execute(ctx context.Context, intent *transfer.Intent) (string, error) {
	r.calls++
	return "ext_test1234", nil
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])

	w = doJSON(t, s, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Readiness flips only once Run has started the listener.
	w = doJSON(t, s, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodGet, "/api", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "StoreGuard", decode(t, w)["name"])
}

func TestNewRequiresEncryptionSecret(t *testing.T) {
	cfg := testConfig()
	cfg.EncryptionSecret = ""
	_, err := New(cfg)
	require.Error(t, err)
}

func TestAssessRisk_ReturnsVerdictOnly(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/risk/assessments", map[string]any{
		"subjectId": "order-1",
		"actorId":   "user-1",
		"action":    "order_created",
		"amount":    6000.0,
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "order-1", body["subjectId"])
	assert.Equal(t, "approved", body["decision"])

	// Internal scoring detail never reaches the assessed caller.
	assert.NotContains(t, body, "riskScore")
	assert.NotContains(t, body, "flags")
	assert.NotContains(t, body, "actions")
}

func TestAssessRisk_EscalatesOnAccumulatedSignals(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 4; i++ {
		w := doJSON(t, s, http.MethodPost, "/v1/activity", map[string]any{
			"actorId": "user-2",
			"type":    "payment_failure",
		})
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	for i := 0; i < 6; i++ {
		w := doJSON(t, s, http.MethodPost, "/v1/activity", map[string]any{
			"actorId": "user-2",
			"type":    "order_change",
		})
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	// 30 (amount) + 35 (failed payments) + 25 (rapid edits) crosses the
	// rejection threshold.
	w := doJSON(t, s, http.MethodPost, "/v1/risk/assessments", map[string]any{
		"subjectId": "order-2",
		"actorId":   "user-2",
		"action":    "order_created",
		"amount":    6000.0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", decode(t, w)["decision"])

	// The rejection left a critical fraud alert in the event log.
	alerts := s.auditLog.ByKind(audit.KindFraudAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, audit.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "user-2", alerts[0].ActorID)
}

func TestAssessRisk_RejectsUnknownAction(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/risk/assessments", map[string]any{
		"subjectId": "order-3",
		"actorId":   "user-3",
		"action":    "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordActivity_RejectsUnknownType(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/activity", map[string]any{
		"actorId": "user-4",
		"type":    "sneeze",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/activity", map[string]any{
		"actorId": "user-4",
		"type":    "location",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "location activity without coordinates")
}

func TestRecordLoginAttempt_LockoutFlow(t *testing.T) {
	s := newTestServer(t, nil)
	addr := "203.0.113.9"

	for i := 1; i <= 3; i++ {
		w := doJSON(t, s, http.MethodPost, "/v1/auth/attempts", map[string]any{
			"actorId":       "user-5",
			"sourceAddress": addr,
			"success":       false,
		})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, i >= 3, body["locked"], "attempt %d", i)
		assert.Equal(t, float64(i), body["failures"])
	}

	w := doJSON(t, s, http.MethodGet, "/v1/admin/lockouts/"+addr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, true, status["locked"])
	assert.Equal(t, float64(3), status["failures"])

	// The counter sweep leaves active lockouts in place.
	w = doJSON(t, s, http.MethodPost, "/v1/admin/lockouts/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/v1/admin/lockouts/"+addr, nil)
	status = decode(t, w)
	assert.Equal(t, true, status["locked"])
	assert.Equal(t, float64(0), status["failures"])

	// Every attempt was logged as a security event.
	assert.Len(t, s.auditLog.ByKind(audit.KindFailedLogin), 3)
}

func TestRecordLoginAttempt_ValidatesSourceAddress(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/auth/attempts", map[string]any{
		"actorId":       "user-6",
		"sourceAddress": "not-an-ip",
		"success":       false,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCredentialRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/credentials", map[string]any{
		"password": "correct horse battery staple",
	})
	require.Equal(t, http.StatusOK, w.Code)
	cred := decode(t, w)
	require.NotEmpty(t, cred["hash"])
	require.NotEmpty(t, cred["salt"])

	w = doJSON(t, s, http.MethodPost, "/v1/credentials/verify", map[string]any{
		"password": "correct horse battery staple",
		"hash":     cred["hash"],
		"salt":     cred["salt"],
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["valid"])

	w = doJSON(t, s, http.MethodPost, "/v1/credentials/verify", map[string]any{
		"password": "wrong password",
		"hash":     cred["hash"],
		"salt":     cred["salt"],
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["valid"])
}

func TestVaultSealOpen(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/admin/vault/seal", map[string]any{
		"payload": "card ending 4242",
	})
	require.Equal(t, http.StatusOK, w.Code)
	sealed := decode(t, w)["sealed"].(string)
	require.NotEmpty(t, sealed)
	assert.NotContains(t, sealed, "4242")

	w = doJSON(t, s, http.MethodPost, "/v1/admin/vault/open", map[string]any{
		"sealed": sealed,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "card ending 4242", decode(t, w)["payload"])

	w = doJSON(t, s, http.MethodPost, "/v1/admin/vault/open", map[string]any{
		"sealed": "not-a-sealed-payload",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminGate_DeniesUnlistedAddress(t *testing.T) {
	cfg := testConfig()
	cfg.AdminIPs = []string{"10.0.0.1"}
	s := newTestServer(t, cfg)

	w := doJSON(t, s, http.MethodGet, "/v1/admin/stats", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	// Generic denial body, no hint of which check failed.
	assert.JSONEq(t, `{"error": "access denied"}`, w.Body.String())

	denials := s.auditLog.ByKind(audit.KindAdminAccess)
	require.Len(t, denials, 1)
	assert.Equal(t, audit.SeverityHigh, denials[0].Severity)
}

func TestCreateTransfer(t *testing.T) {
	rail := &completingRail{}
	s := newTestServer(t, nil, WithRail(rail))

	w := doJSON(t, s, http.MethodPost, "/v1/admin/transfers", map[string]any{
		"amount": 150.0,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["authorized"])

	intent := body["intent"].(map[string]any)
	assert.Equal(t, string(transfer.StatusCompleted), intent["status"])
	assert.Equal(t, "ext_test1234", intent["externalTransactionId"])
	assert.Equal(t, 1, rail.calls)

	w = doJSON(t, s, http.MethodGet, "/v1/admin/transfers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestCreateTransfer_PolicyRejections(t *testing.T) {
	rail := &completingRail{}
	s := newTestServer(t, nil, WithRail(rail))

	w := doJSON(t, s, http.MethodPost, "/v1/admin/transfers", map[string]any{
		"amount": 50.0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["authorized"])
	assert.Equal(t, string(transfer.ReasonBelowMinimum), body["reason"])

	w = doJSON(t, s, http.MethodPost, "/v1/admin/transfers", map[string]any{
		"amount": 6000.0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(transfer.ReasonExceedsCap), decode(t, w)["reason"])

	w = doJSON(t, s, http.MethodPost, "/v1/admin/transfers", map[string]any{
		"amount": -5.0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, rail.calls, "rejected transfers never reach the rail")
}

func TestCreateTransfer_DefaultsToEligibleEarnings(t *testing.T) {
	store := orders.NewMemoryStore()
	now := time.Now()
	store.Add(&orders.Order{
		ID:          "ord-1",
		UserID:      "user-7",
		Total:       1000,
		Status:      orders.StatusCompleted,
		CreatedAt:   now,
		CompletedAt: now,
	})

	rail := &completingRail{}
	s := newTestServer(t, nil, WithRail(rail), WithOrders(store))

	w := doJSON(t, s, http.MethodGet, "/v1/admin/earnings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 700.0, decode(t, w)["eligible"], 0.001)

	w = doJSON(t, s, http.MethodPost, "/v1/admin/transfers", map[string]any{})
	require.Equal(t, http.StatusCreated, w.Code)
	intent := decode(t, w)["intent"].(map[string]any)
	assert.InDelta(t, 700.0, intent["amount"], 0.001)
}

func TestEligibleEarnings_RejectsBadDate(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodGet, "/v1/admin/earnings?date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSecurityEvents(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		doJSON(t, s, http.MethodPost, "/v1/auth/attempts", map[string]any{
			"actorId":       fmt.Sprintf("user-%d", i),
			"sourceAddress": "198.51.100.4",
			"success":       false,
		})
	}
	doJSON(t, s, http.MethodPost, "/v1/auth/attempts", map[string]any{
		"actorId":       "user-ok",
		"sourceAddress": "198.51.100.5",
		"success":       true,
	})

	w := doJSON(t, s, http.MethodGet, "/v1/admin/security-events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["count"])

	w = doJSON(t, s, http.MethodGet, "/v1/admin/security-events?kind=failed_login", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = doJSON(t, s, http.MethodGet, "/v1/admin/security-events?severity=low", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = doJSON(t, s, http.MethodGet, "/v1/admin/security-events?source=198.51.100.4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = doJSON(t, s, http.MethodGet, "/v1/admin/security-events?source=not-an-ip", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSecurityEvents_Pagination(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 5; i++ {
		doJSON(t, s, http.MethodPost, "/v1/auth/attempts", map[string]any{
			"actorId":       fmt.Sprintf("user-%d", i),
			"sourceAddress": "198.51.100.7",
			"success":       false,
		})
	}

	var seen int
	cursor := ""
	for page := 0; page < 4; page++ {
		path := "/v1/admin/security-events?limit=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		w := doJSON(t, s, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)

		seen += int(body["count"].(float64))
		if body["has_more"] == false {
			break
		}
		cursor = body["next_cursor"].(string)
		require.NotEmpty(t, cursor)
	}
	assert.Equal(t, 5, seen)

	w := doJSON(t, s, http.MethodGet, "/v1/admin/security-events?cursor=%25bad", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveSecurityEvent(t *testing.T) {
	s := newTestServer(t, nil)

	doJSON(t, s, http.MethodPost, "/v1/auth/attempts", map[string]any{
		"actorId":       "user-8",
		"sourceAddress": "198.51.100.8",
		"success":       false,
	})

	events := s.auditLog.ByKind(audit.KindFailedLogin)
	require.Len(t, events, 1)
	id := events[0].ID

	// Only the originating component may resolve.
	w := doJSON(t, s, http.MethodPost, "/v1/admin/security-events/"+id+"/resolve", map[string]any{
		"origin": "fraud",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/admin/security-events/"+id+"/resolve", map[string]any{
		"origin": "auth",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["resolved"])

	w = doJSON(t, s, http.MethodPost, "/v1/admin/security-events/evt_doesnotexist99/resolve", map[string]any{
		"origin": "auth",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Malformed IDs are rejected before the log is consulted.
	w = doJSON(t, s, http.MethodPost, "/v1/admin/security-events/bogus/resolve", map[string]any{
		"origin": "auth",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, nil)

	doJSON(t, s, http.MethodPost, "/v1/auth/attempts", map[string]any{
		"actorId":       "user-9",
		"sourceAddress": "198.51.100.9",
		"success":       true,
	})

	w := doJSON(t, s, http.MethodGet, "/v1/admin/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["securityEvents"].(map[string]any)["total"])
	assert.Contains(t, body, "realtime")
}
