// Package fraud implements deterministic rule-based transaction risk scoring.
//
// Every assessed action is evaluated against 5 additive rules: transaction
// amount, rapid order edits, location jump, recent payment failures, and daily
// volume. Points sum to an integer risk score; fixed thresholds map the score
// to approve / review / reject. There is no randomness and no model state —
// the same signal bundle always produces the same score and decision.
package fraud

import (
	"time"
)

// Decision is the engine's tri-state verdict on an action.
type Decision string

const (
	DecisionApproved    Decision = "approved"
	DecisionUnderReview Decision = "under_review"
	DecisionRejected    Decision = "rejected"
)

// ActionKind names the assessed action.
type ActionKind string

const (
	ActionOrderCreated  ActionKind = "order_created"
	ActionOrderChanged  ActionKind = "order_change"
	ActionPaymentFailed ActionKind = "payment_failed"
	ActionAccountChange ActionKind = "account_change"
)

// Decision thresholds. Non-overlapping: >= RejectThreshold rejects,
// >= ReviewThreshold reviews, anything lower approves.
const (
	RejectThreshold = 70
	ReviewThreshold = 40

	// ScoreCeiling caps the score used for decisioning. The raw sum is
	// preserved on the assessment for audit.
	ScoreCeiling = 100
)

// Location is a coarse geographic position.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Signals is the observed indicator bundle for one assessment. Every field is
// optional: an absent signal simply contributes no points, it never errors.
type Signals struct {
	Amount                    float64    `json:"amount,omitempty"`
	RecentChangeCount         int        `json:"recentChangeCount,omitempty"`
	CurrentLocation           *Location  `json:"currentLocation,omitempty"`
	PriorLocations            []Location `json:"priorLocations,omitempty"`
	RecentPaymentFailureCount int        `json:"recentPaymentFailureCount,omitempty"`
	DailyActionCount          int        `json:"dailyActionCount,omitempty"`
}

// Assessment is the full internal result of scoring one action. It carries the
// raw unclamped score and the triggered rule flags for audit. It must never be
// returned to the caller that triggered the check — hand out Verdict() instead.
type Assessment struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subjectId"` // order or transaction id
	ActorID     string     `json:"actorId"`
	Action      ActionKind `json:"action"`
	Amount      float64    `json:"amount"`
	RiskScore   int        `json:"riskScore"` // raw sum, may exceed 100
	Flags       []string   `json:"flags"`     // triggered rules, in table order
	Decision    Decision   `json:"decision"`
	Actions     []string   `json:"actions,omitempty"` // remediation actions
	EvaluatedAt time.Time  `json:"evaluatedAt"`
}

// Verdict is the caller-safe view of an assessment: the decision code only.
// Scores and flags stay internal so an adversary probing the engine cannot
// tune evasion against them.
type Verdict struct {
	SubjectID string   `json:"subjectId"`
	Decision  Decision `json:"decision"`
}

// Verdict returns the external view of the assessment.
func (a *Assessment) Verdict() Verdict {
	return Verdict{SubjectID: a.SubjectID, Decision: a.Decision}
}
