package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker rejects a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State of a Breaker. The numeric value is exported as the state gauge.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker trips when the failure ratio over the most recent outcomes reaches
// the threshold. The outcome window holds twice the minimum request count.
// After the open period a single probe is let through; its outcome closes or
// reopens the breaker.
type Breaker struct {
	mu           sync.Mutex
	state        State
	outcomes     []bool
	next         int
	seen         int
	probing      bool
	openedAt     time.Time
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	target       string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewBreaker returns a closed breaker. Out of range settings fall back to
// one request, a 0.5 ratio and 30s.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		outcomes:     make([]bool, minRequests*2),
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
}

// WithTarget labels the breaker in metrics, logs and health output.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishState()
	return b
}

// WithLogger sets the logger used when the call context carries none.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			b.countRejected()
			return false
		}
		b.transition(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			b.countRejected()
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// Report records the outcome of an allowed call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.transition(ctx, Closed)
		} else {
			b.transition(ctx, Open)
		}
		return
	}

	b.outcomes[b.next] = !success
	b.next = (b.next + 1) % len(b.outcomes)
	if b.seen < len(b.outcomes) {
		b.seen++
	}
	if b.seen < b.minRequests {
		return
	}
	if b.failureRate() >= b.failureRatio {
		b.transition(ctx, Open)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Target returns the label set by WithTarget, or "default".
func (b *Breaker) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.label()
}

func (b *Breaker) failureRate() float64 {
	failed := 0
	for i := 0; i < b.seen; i++ {
		if b.outcomes[i] {
			failed++
		}
	}
	return float64(failed) / float64(b.seen)
}

func (b *Breaker) transition(ctx context.Context, to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.openedAt = time.Time{}
	if to == Open {
		b.openedAt = b.now()
	}
	clear(b.outcomes)
	b.next, b.seen = 0, 0
	b.publishState()

	target := b.label()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(target, from.String(), to.String()).Inc()
	}
	if to == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(target).Inc()
	}

	evt := b.loggerFor(ctx).Info().
		Str("target", target).
		Str("from_state", from.String()).
		Str("to_state", to.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishState() {
	if BreakerState != nil {
		BreakerState.WithLabelValues(b.label()).Set(float64(b.state))
	}
}

func (b *Breaker) countRejected() {
	if BreakerRejectedTotal != nil {
		BreakerRejectedTotal.WithLabelValues(b.label()).Inc()
	}
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &b.logger
}
