package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubClassifier struct {
	name   string
	labels []Label
	err    error
	block  bool // ignore everything until the context expires
}

func (s *stubClassifier) Name() string { return s.name }

func (s *stubClassifier) Classify(ctx context.Context, in Interaction) ([]Label, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.labels, s.err
}

type stubPrecision struct {
	byLabel map[string]float64
}

func (s stubPrecision) PrecisionByLabel(cat Category, label string) (float64, bool) {
	p, ok := s.byLabel[label]
	return p, ok
}

func stubEngine(actor, ticket, priority SubClassifier) *Engine {
	return &Engine{
		actor:        actor,
		ticket:       ticket,
		priority:     priority,
		timeout:      time.Second,
		epsilon:      0.05,
		modelVersion: "test-v1",
	}
}

func TestEngineClassifyAggregates(t *testing.T) {
	e := stubEngine(
		&stubClassifier{name: "actor", labels: []Label{{Value: "existing_member", Confidence: 0.92}}},
		&stubClassifier{name: "ticket", labels: []Label{{Value: "refund", Confidence: 0.97}}},
		&stubClassifier{name: "priority", labels: []Label{{Value: "high", Confidence: 0.81}}},
	)

	res, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.ActorType != ActorExistingMember || res.ActorConfidence != 0.92 {
		t.Fatalf("unexpected actor: %s/%f", res.ActorType, res.ActorConfidence)
	}
	if res.TicketType != TicketRefund || res.TicketConfidence != 0.97 {
		t.Fatalf("unexpected ticket: %s/%f", res.TicketType, res.TicketConfidence)
	}
	if res.Priority != PriorityHigh || res.PriorityConfidence != 0.81 {
		t.Fatalf("unexpected priority: %s/%f", res.Priority, res.PriorityConfidence)
	}
	if res.ModelVersion != "test-v1" {
		t.Fatalf("unexpected model version: %s", res.ModelVersion)
	}
}

func TestEngineAllSubsFailedUnavailable(t *testing.T) {
	boom := errors.New("boom")
	e := stubEngine(
		&stubClassifier{name: "actor", err: boom},
		&stubClassifier{name: "ticket", err: boom},
		&stubClassifier{name: "priority", err: boom},
	)

	_, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if !errors.Is(err, ErrClassificationUnavailable) {
		t.Fatalf("expected ErrClassificationUnavailable, got %v", err)
	}
}

func TestEnginePartialFailureFallsBack(t *testing.T) {
	e := stubEngine(
		&stubClassifier{name: "actor", err: errors.New("actor down")},
		&stubClassifier{name: "ticket", labels: []Label{{Value: "cancellation", Confidence: 0.95}}},
		&stubClassifier{name: "priority", labels: []Label{{Value: "normal", Confidence: 0.75}}},
	)

	res, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	// The failed category contributes no signal, which keeps the
	// interaction below any sane routing threshold.
	if res.ActorType != ActorUnknown || res.ActorConfidence != 0 {
		t.Fatalf("expected unknown/0 for failed actor sub, got %s/%f", res.ActorType, res.ActorConfidence)
	}
	if res.TicketType != TicketCancellation {
		t.Fatalf("surviving categories must keep their labels, got %s", res.TicketType)
	}
}

func TestEngineTimeoutCountsAsFailure(t *testing.T) {
	e := stubEngine(
		&stubClassifier{name: "actor", block: true},
		&stubClassifier{name: "ticket", labels: []Label{{Value: "refund", Confidence: 0.9}}},
		&stubClassifier{name: "priority", labels: []Label{{Value: "normal", Confidence: 0.8}}},
	)
	e.timeout = 20 * time.Millisecond

	res, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.ActorType != ActorUnknown || res.ActorConfidence != 0 {
		t.Fatalf("expected timed-out sub to fall back, got %s/%f", res.ActorType, res.ActorConfidence)
	}
}

func TestEngineInvalidLabelClamped(t *testing.T) {
	e := stubEngine(
		&stubClassifier{name: "actor", labels: []Label{{Value: "alien", Confidence: 0.99}}},
		&stubClassifier{name: "ticket", labels: []Label{{Value: "refund", Confidence: 1.7}}},
		&stubClassifier{name: "priority", labels: []Label{{Value: "normal", Confidence: 0.8}}},
	)

	res, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.ActorType != ActorUnknown || res.ActorConfidence != 0 {
		t.Fatalf("invalid label must degrade to unknown/0, got %s/%f", res.ActorType, res.ActorConfidence)
	}
	if res.TicketConfidence != 1 {
		t.Fatalf("confidence must be clamped to [0,1], got %f", res.TicketConfidence)
	}
}

func TestEngineTieBreakByPrecision(t *testing.T) {
	e := stubEngine(
		&stubClassifier{name: "actor", labels: []Label{{Value: "unknown", Confidence: 0.5}}},
		&stubClassifier{name: "ticket", labels: []Label{
			{Value: "refund", Confidence: 0.90},
			{Value: "cancellation", Confidence: 0.88},
		}},
		&stubClassifier{name: "priority", labels: []Label{{Value: "normal", Confidence: 0.8}}},
	)
	e.precision = stubPrecision{byLabel: map[string]float64{
		"refund":       0.60,
		"cancellation": 0.95,
	}}

	res, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	// Within epsilon, the label with better historical precision wins and
	// keeps its own confidence.
	if res.TicketType != TicketCancellation {
		t.Fatalf("expected precision tie-break to pick cancellation, got %s", res.TicketType)
	}
	if res.TicketConfidence != 0.88 {
		t.Fatalf("winner must keep its own confidence, got %f", res.TicketConfidence)
	}
}

func TestEngineTieBreakOutsideEpsilonIgnored(t *testing.T) {
	e := stubEngine(
		&stubClassifier{name: "actor", labels: []Label{{Value: "unknown", Confidence: 0.5}}},
		&stubClassifier{name: "ticket", labels: []Label{
			{Value: "refund", Confidence: 0.90},
			{Value: "cancellation", Confidence: 0.70},
		}},
		&stubClassifier{name: "priority", labels: []Label{{Value: "normal", Confidence: 0.8}}},
	)
	e.precision = stubPrecision{byLabel: map[string]float64{"cancellation": 0.99}}

	res, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.TicketType != TicketRefund {
		t.Fatalf("runner-up outside epsilon must not win, got %s", res.TicketType)
	}
}

func TestEngineTieBreakWindowAnchoredOnTop(t *testing.T) {
	e := stubEngine(
		&stubClassifier{name: "actor", labels: []Label{{Value: "unknown", Confidence: 0.5}}},
		&stubClassifier{name: "ticket", labels: []Label{
			{Value: "refund", Confidence: 0.90},
			{Value: "cancellation", Confidence: 0.86},
			{Value: "account_payment", Confidence: 0.83},
		}},
		&stubClassifier{name: "priority", labels: []Label{{Value: "normal", Confidence: 0.8}}},
	)
	e.precision = stubPrecision{byLabel: map[string]float64{
		"refund":          0.50,
		"cancellation":    0.80,
		"account_payment": 0.99,
	}}

	res, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	// 0.83 is within epsilon of 0.86 but not of the 0.90 top score; a
	// chained swap must not let it win.
	if res.TicketType != TicketCancellation {
		t.Fatalf("expected cancellation, got %s", res.TicketType)
	}
	if res.TicketConfidence != 0.86 {
		t.Fatalf("winner must keep its own confidence, got %f", res.TicketConfidence)
	}
}

func TestEngineTieBreakPrefersSpecificWithoutHistory(t *testing.T) {
	e := stubEngine(
		&stubClassifier{name: "actor", labels: []Label{{Value: "unknown", Confidence: 0.5}}},
		&stubClassifier{name: "ticket", labels: []Label{
			{Value: "other", Confidence: 0.60},
			{Value: "promotional", Confidence: 0.58},
		}},
		&stubClassifier{name: "priority", labels: []Label{{Value: "normal", Confidence: 0.8}}},
	)

	res, err := e.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.TicketType != TicketPromotional {
		t.Fatalf("with no history the specific label beats the generic one, got %s", res.TicketType)
	}
}

func TestChainClassifierFallsThrough(t *testing.T) {
	chain := &chainClassifier{name: "ticket", subs: []SubClassifier{
		&stubClassifier{name: "primary", err: errors.New("api down")},
		&stubClassifier{name: "fallback", labels: []Label{{Value: "refund", Confidence: 0.8}}},
	}}

	labels, err := chain.Classify(context.Background(), Interaction{ID: "i1"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if labels[0].Value != "refund" {
		t.Fatalf("expected fallback answer, got %+v", labels)
	}

	allFail := &chainClassifier{name: "ticket", subs: []SubClassifier{
		&stubClassifier{name: "a", err: errors.New("down")},
		&stubClassifier{name: "b", err: errors.New("also down")},
	}}
	if _, err := allFail.Classify(context.Background(), Interaction{ID: "i1"}); err == nil {
		t.Fatalf("expected error when every strategy fails")
	}
}
