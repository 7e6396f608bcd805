// Package notify delivers high-severity security events to an
// operator-configured webhook endpoint.
//
// The notifier subscribes to the audit log and posts matching events as
// signed JSON. Delivery is fire-and-forget: a failed delivery is logged and
// counted but never blocks or fails the event append.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmallory/storeguard/internal/audit"
	"github.com/jmallory/storeguard/internal/retry"
	"github.com/jmallory/storeguard/internal/security"
)

var (
	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storeguard",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Admin notification delivery attempts by event kind.",
	}, []string{"kind"})

	deliveryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storeguard",
		Subsystem: "notify",
		Name:      "delivery_errors_total",
		Help:      "Failed admin notification deliveries by event kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(deliveriesTotal, deliveryErrors)
}

const (
	deliverAttempts  = 3
	deliverBaseDelay = time.Second
)

// Notifier posts security events at or above a severity threshold to a
// webhook URL. It implements audit.Subscriber.
type Notifier struct {
	url         string
	secret      string
	minSeverity audit.Severity
	client      *http.Client
	logger      *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) { n.client = client }
}

// WithMinSeverity sets the lowest severity that triggers a notification.
// Defaults to high.
func WithMinSeverity(s audit.Severity) Option {
	return func(n *Notifier) { n.minSeverity = s }
}

// NewNotifier validates the webhook URL and creates a notifier. The URL must
// not point at loopback, private, or link-local addresses.
func NewNotifier(url, secret string, logger *slog.Logger, opts ...Option) (*Notifier, error) {
	if err := security.ValidateEndpointURL(url); err != nil {
		return nil, fmt.Errorf("notification endpoint: %w", err)
	}
	n := &Notifier{
		url:         url,
		secret:      secret,
		minSeverity: audit.SeverityHigh,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n, nil
}

// NotifyEvent delivers the event asynchronously if it meets the severity
// threshold.
func (n *Notifier) NotifyEvent(event *audit.Event) {
	if event.Severity.Rank() < n.minSeverity.Rank() {
		return
	}
	go n.deliver(event)
}

// Deliver posts the event synchronously with bounded retries. Exposed for
// callers that need delivery confirmation; NotifyEvent is the usual path.
func (n *Notifier) Deliver(ctx context.Context, event *audit.Event) error {
	deliveriesTotal.WithLabelValues(string(event.Kind)).Inc()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = retry.Do(ctx, deliverAttempts, deliverBaseDelay, func() error {
		return n.post(ctx, event, payload)
	})
	if err != nil {
		deliveryErrors.WithLabelValues(string(event.Kind)).Inc()
		return err
	}
	return nil
}

func (n *Notifier) deliver(event *audit.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := n.Deliver(ctx, event); err != nil {
		n.logger.Warn("admin notification failed",
			"eventId", event.ID, "kind", event.Kind, "error", err)
	}
}

func (n *Notifier) post(ctx context.Context, event *audit.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Storeguard-Event", string(event.Kind))
	req.Header.Set("X-Storeguard-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if n.secret != "" {
		req.Header.Set("X-Storeguard-Signature", sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("endpoint rejected notification: status %d", resp.StatusCode))
	}
	return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
