// Package admin gates access to the storefront's admin surface.
//
// A request is allowed only when its source address passes the configured IP
// allowlist and is not under an active lockout. Denials are recorded in the
// security event log; successful validations are deliberately silent — only
// anomalies are worth an audit record.
package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmallory/storeguard/internal/audit"
	"github.com/jmallory/storeguard/internal/lockout"
)

// Denial reasons recorded in the event log. Never returned to the caller:
// a denied request sees a generic "access denied" regardless of cause.
const (
	reasonNotAllowlisted = "ip_not_whitelisted"
	reasonLocked         = "ip_temporarily_locked"
)

var denialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storeguard",
	Subsystem: "admin",
	Name:      "denials_total",
	Help:      "Admin access denials by reason.",
}, []string{"reason"})

func init() {
	prometheus.MustRegister(denialsTotal)
}

// Gate validates inbound admin requests.
type Gate struct {
	allowlist map[string]bool // empty = allowlist disabled
	tracker   *lockout.Tracker
	log       *audit.Log
	logger    *slog.Logger
}

// NewGate creates an admin access gate. An empty allowlist disables the
// allowlist check; lockout checks always apply.
func NewGate(allowedIPs []string, tracker *lockout.Tracker, log *audit.Log, logger *slog.Logger) *Gate {
	allowlist := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		allowlist[ip] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		allowlist: allowlist,
		tracker:   tracker,
		log:       log,
		logger:    logger,
	}
}

// Validate decides whether an admin request from the given address may
// proceed. The boolean is the entire external contract: callers learn
// allowed-or-not, never which check failed.
func (g *Gate) Validate(ctx context.Context, address, clientSignature string) bool {
	if len(g.allowlist) > 0 && !g.allowlist[address] {
		g.deny(ctx, address, clientSignature, reasonNotAllowlisted, audit.SeverityHigh)
		return false
	}

	if g.tracker != nil && g.tracker.IsLocked(address) {
		g.deny(ctx, address, clientSignature, reasonLocked, audit.SeverityMedium)
		return false
	}

	return true
}

func (g *Gate) deny(ctx context.Context, address, clientSignature, reason string, severity audit.Severity) {
	denialsTotal.WithLabelValues(reason).Inc()
	if g.log != nil {
		g.log.Append(ctx, audit.Event{
			Kind:            audit.KindAdminAccess,
			Severity:        severity,
			SourceAddress:   address,
			ClientSignature: clientSignature,
			Origin:          "admin",
			Details:         map[string]any{"reason": reason},
		})
	}
}

// Middleware wraps Validate for gin admin route groups. Denied requests get
// a generic 403 body with no hint of the denial cause.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Validate(c.Request.Context(), c.ClientIP(), c.Request.UserAgent()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			c.Abort()
			return
		}
		c.Next()
	}
}
