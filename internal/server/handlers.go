package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmallory/storeguard/internal/audit"
	"github.com/jmallory/storeguard/internal/fraud"
	"github.com/jmallory/storeguard/internal/logging"
	"github.com/jmallory/storeguard/internal/pagination"
	"github.com/jmallory/storeguard/internal/traces"
	"github.com/jmallory/storeguard/internal/transfer"
	"github.com/jmallory/storeguard/internal/validation"
	"github.com/jmallory/storeguard/internal/vault"
)

const defaultListLimit = 100

// -----------------------------------------------------------------------------
// Risk assessment
// -----------------------------------------------------------------------------

// AssessRiskRequest identifies the storefront action to score. Amount and
// location are caller-supplied signals; the rest of the bundle is sourced from
// tracked activity.
type AssessRiskRequest struct {
	SubjectID string          `json:"subjectId" binding:"required"`
	ActorID   string          `json:"actorId" binding:"required"`
	Action    string          `json:"action" binding:"required"`
	Amount    float64         `json:"amount"`
	Location  *fraud.Location `json:"location,omitempty"`
}

var validActions = map[fraud.ActionKind]bool{
	fraud.ActionOrderCreated:  true,
	fraud.ActionOrderChanged:  true,
	fraud.ActionPaymentFailed: true,
	fraud.ActionAccountChange: true,
}

// assessRisk scores an action and returns only the verdict. Scores and
// triggered flags stay internal; they are visible to operators through the
// security event log, never to the caller being assessed.
func (s *Server) assessRisk(c *gin.Context) {
	var req AssessRiskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	action := fraud.ActionKind(req.Action)
	if !validActions[action] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown action kind",
		})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "risk.assess",
		traces.ActorID(req.ActorID),
		traces.SubjectID(req.SubjectID),
		traces.Amount(req.Amount),
	)
	defer span.End()

	signals := s.signals.Snapshot(ctx, req.ActorID, req.Amount, req.Location)
	assessment := s.engine.Assess(ctx, fraud.Input{
		SubjectID: req.SubjectID,
		ActorID:   req.ActorID,
		Action:    action,
		Signals:   signals,
	})
	span.SetAttributes(traces.RiskScore(assessment.RiskScore))

	logging.L(ctx).Info("risk assessed",
		"assessmentId", assessment.ID,
		"subject", assessment.SubjectID,
		"decision", assessment.Decision,
	)

	c.JSON(http.StatusOK, assessment.Verdict())
}

// RecordActivityRequest reports an actor signal observed by the storefront.
type RecordActivityRequest struct {
	ActorID  string          `json:"actorId" binding:"required"`
	Type     string          `json:"type" binding:"required"`
	Location *fraud.Location `json:"location,omitempty"`
}

// recordActivity feeds the signal source's sliding windows.
func (s *Server) recordActivity(c *gin.Context) {
	var req RecordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	switch req.Type {
	case "order_change":
		s.signals.RecordOrderChange(req.ActorID)
	case "payment_failure":
		s.signals.RecordPaymentFailure(req.ActorID)
	case "location":
		if req.Location == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "location activity requires a location",
			})
			return
		}
		s.signals.RecordLocation(req.ActorID, *req.Location)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown activity type",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// -----------------------------------------------------------------------------
// Login attempts and lockouts
// -----------------------------------------------------------------------------

// LoginAttemptRequest reports one authentication attempt seen by the
// storefront.
type LoginAttemptRequest struct {
	ActorID         string `json:"actorId"`
	SourceAddress   string `json:"sourceAddress" binding:"required"`
	Success         bool   `json:"success"`
	ClientSignature string `json:"clientSignature,omitempty"`
}

// recordLoginAttempt logs the attempt as a security event and, on failure,
// advances the source address toward lockout. The response tells the
// storefront whether the address is now locked.
func (s *Server) recordLoginAttempt(c *gin.Context) {
	var req LoginAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidSourceAddress("sourceAddress", req.SourceAddress),
		validation.MaxLength("clientSignature", req.ClientSignature, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	signature := validation.SanitizeString(req.ClientSignature, 512)
	if signature == "" {
		signature = c.Request.UserAgent()
	}

	ctx := c.Request.Context()

	if req.Success {
		s.auditLog.Append(ctx, audit.Event{
			Kind:            audit.KindLoginAttempt,
			Severity:        audit.SeverityLow,
			ActorID:         req.ActorID,
			SourceAddress:   req.SourceAddress,
			ClientSignature: signature,
			Origin:          "auth",
			Details:         map[string]any{"success": true},
		})
		c.JSON(http.StatusOK, gin.H{"locked": s.tracker.IsLocked(req.SourceAddress)})
		return
	}

	s.auditLog.Append(ctx, audit.Event{
		Kind:            audit.KindFailedLogin,
		Severity:        audit.SeverityMedium,
		ActorID:         req.ActorID,
		SourceAddress:   req.SourceAddress,
		ClientSignature: signature,
		Origin:          "auth",
		Details:         map[string]any{"success": false},
	})

	locked := s.tracker.RecordFailure(req.SourceAddress)
	c.JSON(http.StatusOK, gin.H{
		"locked":   locked,
		"failures": s.tracker.Failures(req.SourceAddress),
	})
}

// lockoutStatus reports the lockout state of a source address.
func (s *Server) lockoutStatus(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidSourceAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "address must be a valid IP address",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":  address,
		"locked":   s.tracker.IsLocked(address),
		"failures": s.tracker.Failures(address),
	})
}

// resetLockoutCounters clears every failure counter. Active lockouts are left
// in place.
func (s *Server) resetLockoutCounters(c *gin.Context) {
	s.tracker.ResetCounters()
	logging.L(c.Request.Context()).Info("lockout counters reset", "by", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// -----------------------------------------------------------------------------
// Credentials and vault
// -----------------------------------------------------------------------------

// HashCredentialRequest carries a password to hash. Salt is optional: when
// absent a fresh random salt is generated.
type HashCredentialRequest struct {
	Password string `json:"password" binding:"required"`
	Salt     string `json:"salt,omitempty"`
}

func (s *Server) hashCredential(c *gin.Context) {
	var req HashCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	cred, err := s.vault.HashPassword(req.Password, req.Salt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_salt",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, cred)
}

// VerifyCredentialRequest carries a password and the stored credential to
// check it against.
type VerifyCredentialRequest struct {
	Password string `json:"password" binding:"required"`
	Hash     string `json:"hash" binding:"required"`
	Salt     string `json:"salt" binding:"required"`
}

func (s *Server) verifyCredential(c *gin.Context) {
	var req VerifyCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	valid, err := s.vault.VerifyPassword(req.Password, req.Hash, req.Salt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_credential",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// SealRequest carries a plaintext payload to encrypt.
type SealRequest struct {
	Payload string `json:"payload" binding:"required"`
}

func (s *Server) sealPayload(c *gin.Context) {
	var req SealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	sealed, err := s.vault.Encrypt(req.Payload)
	if err != nil {
		logging.L(c.Request.Context()).Error("seal failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "seal_failed",
			"message": "unable to seal payload",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sealed": sealed})
}

// OpenRequest carries a sealed payload to decrypt.
type OpenRequest struct {
	Sealed string `json:"sealed" binding:"required"`
}

// openPayload decrypts a sealed payload. It fails closed: a malformed or
// tampered payload gets one generic error, without distinguishing which check
// rejected it.
func (s *Server) openPayload(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	plaintext, err := s.vault.Decrypt(req.Sealed)
	if err != nil {
		if errors.Is(err, vault.ErrMalformedPayload) || errors.Is(err, vault.ErrDecryptionFailed) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "open_failed",
				"message": "unable to open payload",
			})
			return
		}
		logging.L(c.Request.Context()).Error("open failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "open_failed",
			"message": "unable to open payload",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payload": plaintext})
}

// -----------------------------------------------------------------------------
// Security events
// -----------------------------------------------------------------------------

// listSecurityEvents returns events filtered by at most one of kind, severity,
// or source. Without a filter it pages newest-first through the whole log.
func (s *Server) listSecurityEvents(c *gin.Context) {
	var events []*audit.Event
	switch {
	case c.Query("kind") != "":
		events = s.auditLog.ByKind(audit.Kind(c.Query("kind")))
	case c.Query("severity") != "":
		events = s.auditLog.BySeverity(audit.Severity(c.Query("severity")))
	case c.Query("source") != "":
		source := c.Query("source")
		if !validation.IsValidSourceAddress(source) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "source must be a valid IP address",
			})
			return
		}
		events = s.auditLog.BySource(source)
	default:
		s.listSecurityEventsPage(c)
		return
	}

	if events == nil {
		events = []*audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// listSecurityEventsPage serves the unfiltered list with cursor pagination.
func (s *Server) listSecurityEventsPage(c *gin.Context) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	var beforeSeq int64
	if cursor != nil {
		beforeSeq = cursor.Seq
	}

	limit := parseLimit(c.Query("limit"))
	events := s.auditLog.Before(beforeSeq, limit+1)
	events, next, hasMore := pagination.ComputePage(events, limit, func(e *audit.Event) (int64, string) {
		return e.Seq, e.ID
	})

	if events == nil {
		events = []*audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events":      events,
		"count":       len(events),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

// ResolveEventRequest names the component claiming to have originated the
// event.
type ResolveEventRequest struct {
	Origin string `json:"origin" binding:"required"`
}

func (s *Server) resolveSecurityEvent(c *gin.Context) {
	id := c.Param("id")

	var req ResolveEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	err := s.auditLog.Resolve(c.Request.Context(), id, req.Origin)
	switch {
	case errors.Is(err, audit.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "security event not found",
		})
	case errors.Is(err, audit.ErrNotOriginator):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_originator",
			"message": "event can only be resolved by its originator",
		})
	case err != nil:
		logging.L(c.Request.Context()).Error("resolve failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to resolve event",
		})
	default:
		c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
	}
}

// -----------------------------------------------------------------------------
// Earnings and transfers
// -----------------------------------------------------------------------------

// eligibleEarnings reports the payout-eligible amount for a calendar day,
// defaulting to today.
func (s *Server) eligibleEarnings(c *gin.Context) {
	asOf := time.Now()
	if date := c.Query("date"); date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "date must be YYYY-MM-DD",
			})
			return
		}
		asOf = parsed
	}

	eligible, err := s.earnings.Eligible(c.Request.Context(), asOf)
	if err != nil {
		logging.L(c.Request.Context()).Error("earnings calculation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to calculate earnings",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"asOf":     asOf.Format("2006-01-02"),
		"eligible": eligible,
	})
}

// CreateTransferRequest optionally overrides the payout amount. When absent
// the amount defaults to today's eligible earnings.
type CreateTransferRequest struct {
	Amount *float64 `json:"amount,omitempty"`
}

// createTransfer authorizes a payout and, when authorized, executes it on the
// payment rail. Policy rejections are decisions in the response body, not
// errors; only malformed amounts are rejected outright.
func (s *Server) createTransfer(c *gin.Context) {
	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "transfer.create")
	defer span.End()

	var amount float64
	if req.Amount != nil {
		amount = *req.Amount
	} else {
		eligible, err := s.earnings.Eligible(ctx, time.Now())
		if err != nil {
			logging.L(ctx).Error("earnings calculation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "failed to calculate earnings",
			})
			return
		}
		amount = eligible
	}
	span.SetAttributes(traces.Amount(amount))

	auth, err := s.authorizer.Authorize(ctx, amount)
	if err != nil {
		if errors.Is(err, transfer.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": err.Error(),
			})
			return
		}
		logging.L(ctx).Error("authorization failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to authorize transfer",
		})
		return
	}

	if !auth.Authorized {
		c.JSON(http.StatusOK, gin.H{
			"authorized": false,
			"reason":     auth.Reason,
		})
		return
	}
	span.SetAttributes(traces.IntentID(auth.Intent.ID))

	// The intent record carries the outcome either way; an execution failure
	// is reported through the intent's status, not as a transport error.
	if err := s.authorizer.Execute(ctx, auth.Intent); err != nil {
		logging.L(ctx).Error("transfer execution failed",
			"id", auth.Intent.ID,
			"error", err,
		)
	}

	c.JSON(http.StatusCreated, gin.H{
		"authorized": true,
		"intent":     auth.Intent,
	})
}

func (s *Server) listTransfers(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	intents, err := s.transferStore.ListRecent(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list transfers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list transfers",
		})
		return
	}

	if intents == nil {
		intents = []*transfer.Intent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transfers": intents,
		"count":     len(intents),
	})
}

// -----------------------------------------------------------------------------
// Stats
// -----------------------------------------------------------------------------

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"securityEvents": gin.H{
			"total": s.auditLog.Len(),
		},
		"realtime": s.realtimeHub.Stats(),
	})
}

// parseLimit parses a limit query parameter, clamped to a sane range.
func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > 1000 {
		return 1000
	}
	return n
}
