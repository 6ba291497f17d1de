package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/parley-voice/parley/internal/eval"
	"github.com/parley-voice/parley/internal/resilience"
	"github.com/parley-voice/parley/internal/transcript"
)

// countingEvaluator fails until the test flips it healthy.
type countingEvaluator struct {
	mu      sync.Mutex
	calls   int
	healthy bool
}

func (e *countingEvaluator) Submit(context.Context, []transcript.LabeledEntry) (*eval.Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if !e.healthy {
		return nil, errors.New("service down")
	}
	return &eval.Evaluation{Classification: "pass"}, nil
}

func (e *countingEvaluator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// ─── TestGuardedEvaluator_PassesThroughSuccess ────────────────────────────────

func TestGuardedEvaluator_PassesThroughSuccess(t *testing.T) {
	t.Parallel()

	inner := &countingEvaluator{healthy: true}
	g := resilience.NewGuardedEvaluator(inner)

	verdict, err := g.Submit(context.Background(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if verdict.Classification != "pass" {
		t.Errorf("classification = %q, want pass", verdict.Classification)
	}
	if g.State() != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", g.State())
	}
}

// ─── TestGuardedEvaluator_TripsAfterRepeatedFailures ──────────────────────────

func TestGuardedEvaluator_TripsAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	inner := &countingEvaluator{}
	g := resilience.NewGuardedEvaluator(inner)

	for range 3 {
		if _, err := g.Submit(context.Background(), nil); err == nil {
			t.Fatal("expected failure from unhealthy service")
		}
	}
	if g.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open after 3 failures", g.State())
	}

	// Open breaker fails fast without touching the service.
	before := inner.callCount()
	if _, err := g.Submit(context.Background(), nil); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if inner.callCount() != before {
		t.Error("open breaker must not call the wrapped evaluator")
	}
}
