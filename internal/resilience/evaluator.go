package resilience

import (
	"context"

	"github.com/parley-voice/parley/internal/eval"
	"github.com/parley-voice/parley/internal/transcript"
)

// Evaluator mirrors the evaluation client's Submit method so the guard can
// wrap any implementation.
type Evaluator interface {
	Submit(ctx context.Context, entries []transcript.LabeledEntry) (*eval.Evaluation, error)
}

// GuardedEvaluator wraps an [Evaluator] with a [CircuitBreaker]. While the
// breaker is open, Submit fails fast with [ErrCircuitOpen] instead of
// waiting out another timeout against a down service.
type GuardedEvaluator struct {
	inner   Evaluator
	breaker *CircuitBreaker
}

// NewGuardedEvaluator wraps inner with a breaker tuned for evaluation
// traffic: submissions are rare and slow, so the breaker trips after few
// failures.
func NewGuardedEvaluator(inner Evaluator) *GuardedEvaluator {
	return &GuardedEvaluator{
		inner: inner,
		breaker: NewCircuitBreaker(CircuitBreakerConfig{
			Name:        "evaluation",
			MaxFailures: 3,
		}),
	}
}

// Submit forwards to the wrapped evaluator through the breaker.
func (g *GuardedEvaluator) Submit(ctx context.Context, entries []transcript.LabeledEntry) (*eval.Evaluation, error) {
	var verdict *eval.Evaluation
	err := g.breaker.Execute(func() error {
		var err error
		verdict, err = g.inner.Submit(ctx, entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

// State exposes the underlying breaker state.
func (g *GuardedEvaluator) State() State {
	return g.breaker.State()
}
