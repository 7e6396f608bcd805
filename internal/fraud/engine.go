package fraud

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmallory/storeguard/internal/audit"
	"github.com/jmallory/storeguard/internal/idgen"
)

// Remediation actions attached to escalated assessments.
var (
	rejectActions = []string{"lock_account_temporarily", "notify_administrator"}
	reviewActions = []string{"require_additional_verification"}
)

var decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storeguard",
	Subsystem: "fraud",
	Name:      "decisions_total",
	Help:      "Risk assessments by decision.",
}, []string{"decision"})

func init() {
	prometheus.MustRegister(decisionsTotal)
}

// Engine scores actions against the fixed rule table and escalates to the
// security event log when a threshold is crossed.
type Engine struct {
	log     *audit.Log
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithClock overrides the timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Disabled turns scoring off: every assessment approves with a zero score and
// no events are emitted. Wired to the fraud detection config toggle.
func Disabled() Option {
	return func(e *Engine) { e.enabled = false }
}

// NewEngine creates a fraud risk engine that escalates to the given event log.
func NewEngine(log *audit.Log, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		log:     log,
		logger:  logger,
		enabled: true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Input identifies the action being assessed.
type Input struct {
	SubjectID string
	ActorID   string
	Action    ActionKind
	Signals   Signals
}

// Assess scores an action. Pure computation over the signal bundle: the same
// inputs always yield the same score, flags, and decision. Missing optional
// signals contribute no points and never fail the assessment.
func (e *Engine) Assess(ctx context.Context, in Input) *Assessment {
	a := &Assessment{
		ID:          idgen.WithPrefix("risk_"),
		SubjectID:   in.SubjectID,
		ActorID:     in.ActorID,
		Action:      in.Action,
		Amount:      in.Signals.Amount,
		Decision:    DecisionApproved,
		EvaluatedAt: e.now(),
	}

	if !e.enabled {
		decisionsTotal.WithLabelValues(string(a.Decision)).Inc()
		return a
	}

	for _, rule := range scoreRules {
		if rule.triggered(&in.Signals) {
			a.RiskScore += rule.points
			a.Flags = append(a.Flags, rule.flag)
		}
	}

	// The raw sum is kept for audit; decisioning uses the clamped value.
	score := a.RiskScore
	if score > ScoreCeiling {
		score = ScoreCeiling
	}

	switch {
	case score >= RejectThreshold:
		a.Decision = DecisionRejected
		a.Actions = rejectActions
		e.escalate(ctx, a, audit.KindFraudAlert, audit.SeverityCritical)
	case score >= ReviewThreshold:
		a.Decision = DecisionUnderReview
		a.Actions = reviewActions
		e.escalate(ctx, a, audit.KindTransactionReview, audit.SeverityMedium)
	}

	decisionsTotal.WithLabelValues(string(a.Decision)).Inc()
	return a
}

// escalate appends a security event carrying the full assessment detail.
func (e *Engine) escalate(ctx context.Context, a *Assessment, kind audit.Kind, severity audit.Severity) {
	if e.log == nil {
		return
	}
	e.log.Append(ctx, audit.Event{
		Kind:     kind,
		Severity: severity,
		ActorID:  a.ActorID,
		Origin:   "fraud",
		Details: map[string]any{
			"assessmentId": a.ID,
			"subjectId":    a.SubjectID,
			"action":       string(a.Action),
			"riskScore":    a.RiskScore,
			"flags":        a.Flags,
			"decision":     string(a.Decision),
			"actions":      a.Actions,
		},
	})
}
