package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmallory/storeguard/internal/idgen"
)

// Errors
var (
	ErrEventNotFound = errors.New("security event not found")
	ErrNotOriginator = errors.New("event can only be resolved by its originator")
)

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storeguard",
		Subsystem: "audit",
		Name:      "events_total",
		Help:      "Security events appended, by kind and severity.",
	}, []string{"kind", "severity"})

	persistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storeguard",
		Subsystem: "audit",
		Name:      "persist_failures_total",
		Help:      "Durable security event writes that failed.",
	})
)

func init() {
	prometheus.MustRegister(eventsTotal, persistFailures)
}

// Log is the append-only in-memory security event log with optional
// write-through durable persistence.
type Log struct {
	mu     sync.RWMutex
	events []*Event
	byID   map[string]*Event
	seq    int64

	store  Store // nil = in-memory only
	logger *slog.Logger
	now    func() time.Time

	subMu sync.RWMutex
	subs  []Subscriber
}

// Option configures the log.
type Option func(*Log)

// WithStore sets the durable write-through store.
func WithStore(store Store) Option {
	return func(l *Log) { l.store = store }
}

// WithClock overrides the timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates a security event log.
func NewLog(logger *slog.Logger, opts ...Option) *Log {
	l := &Log{
		byID:   make(map[string]*Event),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Subscribe registers a subscriber for appended events.
func (l *Log) Subscribe(sub Subscriber) {
	l.subMu.Lock()
	l.subs = append(l.subs, sub)
	l.subMu.Unlock()
}

// Append records an event. The log assigns the ID, sequence number, and
// timestamp. Sequence numbers are strictly increasing in append order, so the
// relative order of events for any actor or address reflects the order the
// originating assessments were made. Wall-clock timestamps are advisory only.
//
// The durable write is best-effort: on failure the in-memory event stands, the
// failure is logged at error level, and a counter is incremented. A logging
// failure must never swallow the original event.
func (l *Log) Append(ctx context.Context, event Event) *Event {
	l.mu.Lock()
	l.seq++
	e := event
	e.ID = idgen.WithPrefix("evt_")
	e.Seq = l.seq
	e.Timestamp = l.now()
	e.Resolved = false
	l.events = append(l.events, &e)
	l.byID[e.ID] = &e
	l.mu.Unlock()

	eventsTotal.WithLabelValues(string(e.Kind), string(e.Severity)).Inc()

	if e.Severity == SeverityHigh || e.Severity == SeverityCritical {
		l.logger.Warn("security event",
			"id", e.ID,
			"kind", e.Kind,
			"severity", e.Severity,
			"actor", e.ActorID,
			"source", e.SourceAddress,
		)
	}

	if l.store != nil {
		snapshot := e
		if err := l.store.Create(ctx, &snapshot); err != nil {
			persistFailures.Inc()
			l.logger.Error("failed to persist security event, keeping in-memory copy",
				"id", e.ID,
				"kind", e.Kind,
				"error", err,
			)
		}
	}

	l.notify(&e)
	return &e
}

func (l *Log) notify(event *Event) {
	l.subMu.RLock()
	subs := make([]Subscriber, len(l.subs))
	copy(subs, l.subs)
	l.subMu.RUnlock()

	for _, sub := range subs {
		sub.NotifyEvent(event)
	}
}

// Resolve marks an event resolved. Only the component that originated the
// event may resolve it.
func (l *Log) Resolve(ctx context.Context, id, origin string) error {
	l.mu.Lock()
	e, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return ErrEventNotFound
	}
	if e.Origin != origin {
		l.mu.Unlock()
		return ErrNotOriginator
	}
	e.Resolved = true
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.MarkResolved(ctx, id); err != nil {
			persistFailures.Inc()
			l.logger.Error("failed to persist event resolution", "id", id, "error", err)
		}
	}
	return nil
}

// Recent returns up to n most recent events, newest first.
func (l *Log) Recent(n int) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.events) - n
	if start < 0 {
		start = 0
	}
	out := make([]*Event, 0, len(l.events)-start)
	for i := len(l.events) - 1; i >= start; i-- {
		ev := *l.events[i]
		out = append(out, &ev)
	}
	return out
}

// Before returns up to limit events with a sequence number strictly below
// beforeSeq, newest first. A beforeSeq of 0 starts from the newest event.
func (l *Log) Before(beforeSeq int64, limit int) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Event, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.events[i]
		if beforeSeq > 0 && e.Seq >= beforeSeq {
			continue
		}
		ev := *e
		out = append(out, &ev)
	}
	return out
}

// ByKind returns all events of the given kind in insertion order.
func (l *Log) ByKind(kind Kind) []*Event {
	return l.filter(func(e *Event) bool { return e.Kind == kind })
}

// BySeverity returns all events at the given severity in insertion order.
func (l *Log) BySeverity(severity Severity) []*Event {
	return l.filter(func(e *Event) bool { return e.Severity == severity })
}

// BySource returns all events for the given source address in insertion order.
func (l *Log) BySource(address string) []*Event {
	return l.filter(func(e *Event) bool { return e.SourceAddress == address })
}

func (l *Log) filter(keep func(*Event) bool) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Event
	for _, e := range l.events {
		if keep(e) {
			ev := *e
			out = append(out, &ev)
		}
	}
	return out
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
