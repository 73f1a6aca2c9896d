package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 5 * time.Second

var errClassifierPanic = errors.New("classifier panic")

// Failure reasons reported to the guard's hook.
const (
	ReasonTimeout      = "timeout"
	ReasonCanceled     = "canceled"
	ReasonError        = "error"
	ReasonPanic        = "panic"
	ReasonInvalidLabel = "invalid_label"
)

// Guard wraps a Classifier so that callers always get an Intent.
// Timeouts, panics, transport errors and labels outside the set all resolve to Unknown.
type Guard struct {
	inner     Classifier
	timeout   time.Duration
	log       zerolog.Logger
	onFailure func(reason string)
	onLatency func(time.Duration)
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

func WithLogger(l zerolog.Logger) GuardOption {
	return func(g *Guard) { g.log = l }
}

// WithFailureHook registers a callback invoked once per failed classification.
func WithFailureHook(fn func(reason string)) GuardOption {
	return func(g *Guard) { g.onFailure = fn }
}

func WithLatencyHook(fn func(time.Duration)) GuardOption {
	return func(g *Guard) { g.onLatency = fn }
}

func NewGuard(inner Classifier, timeout time.Duration, opts ...GuardOption) *Guard {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	g := &Guard{
		inner:   inner,
		timeout: timeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type classifyResult struct {
	intent Intent
	err    error
}

// Classify never returns an error.
func (g *Guard) Classify(ctx context.Context, userInput, contextHint string) (Intent, error) {
	if g.inner == nil {
		g.fail(ReasonError, errors.New("no classifier configured"))
		return Unknown, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resCh := make(chan classifyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- classifyResult{intent: Unknown, err: fmt.Errorf("%w: %v", errClassifierPanic, r)}
			}
		}()
		i, err := g.inner.Classify(ctx, userInput, contextHint)
		resCh <- classifyResult{intent: i, err: err}
	}()

	var res classifyResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		res = classifyResult{intent: Unknown, err: ctx.Err()}
	}
	if g.onLatency != nil {
		g.onLatency(time.Since(start))
	}

	if res.err != nil {
		g.fail(reasonFor(res.err), res.err)
		return Unknown, nil
	}
	if !res.intent.Valid() {
		g.fail(ReasonInvalidLabel, fmt.Errorf("%w: %q", ErrUnrecognizedLabel, res.intent))
		return Unknown, nil
	}
	return res.intent, nil
}

func (g *Guard) fail(reason string, err error) {
	g.log.Warn().Err(err).Str("reason", reason).Msg("intent_classification_failed")
	if g.onFailure != nil {
		g.onFailure(reason)
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrUnrecognizedLabel):
		return ReasonInvalidLabel
	case errors.Is(err, errClassifierPanic):
		return ReasonPanic
	default:
		return ReasonError
	}
}
