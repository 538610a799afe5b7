package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// ErrClassificationUnavailable means every sub-classifier failed. It is
// surfaced to the router, which queues the interaction for manual review;
// it is never silently defaulted.
var ErrClassificationUnavailable = errors.New("classification unavailable")

// Label is one candidate classification with its confidence in [0,1].
// Confidence 0 means "no signal", not "confident negative".
type Label struct {
	Value      string
	Confidence float64
}

// SubClassifier is one swappable classification strategy for a single
// category. Implementations return candidates sorted by descending
// confidence and must tolerate concurrent calls.
type SubClassifier interface {
	Name() string
	Classify(ctx context.Context, in Interaction) ([]Label, error)
}

// PrecisionSource exposes historical per-label precision for tie-breaks.
type PrecisionSource interface {
	PrecisionByLabel(cat Category, label string) (float64, bool)
}

// chainClassifier tries strategies in order and returns the first answer.
// It fails only when every strategy fails.
type chainClassifier struct {
	name string
	subs []SubClassifier
}

func (c *chainClassifier) Name() string { return c.name }

func (c *chainClassifier) Classify(ctx context.Context, in Interaction) ([]Label, error) {
	var errs []error
	for _, sub := range c.subs {
		labels, err := sub.Classify(ctx, in)
		if err != nil {
			log.Printf("classify sub=%s interaction=%s error: %v", sub.Name(), in.ID, err)
			errs = append(errs, fmt.Errorf("%s: %w", sub.Name(), err))
			continue
		}
		if len(labels) > 0 {
			return labels, nil
		}
	}
	return nil, errors.Join(errs...)
}

// Engine assigns actor type, ticket type, and priority to a normalized
// interaction. The three sub-classifiers are independent strategies; any
// one can be swapped without affecting the others. The engine holds no
// mutable state across calls beyond the read path into the feedback
// tracker's precision metrics.
type Engine struct {
	actor        SubClassifier
	ticket       SubClassifier
	priority     SubClassifier
	timeout      time.Duration
	epsilon      float64
	precision    PrecisionSource
	modelVersion string
}

// NewEngine builds the engine from config: an LLM strategy with rule
// fallback when a provider is configured, rules only otherwise.
func NewEngine(cfg Config, glossary *Glossary, corrections CorrectionSource, precision PrecisionSource) *Engine {
	ruleActor := &ruleActorClassifier{}
	ruleTicket := &ruleTicketClassifier{glossary: glossary}
	rulePriority := &rulePriorityClassifier{}

	e := &Engine{
		actor:        ruleActor,
		ticket:       ruleTicket,
		priority:     rulePriority,
		timeout:      time.Duration(cfg.ClassifyTimeoutSeconds) * time.Second,
		epsilon:      cfg.TieBreakEpsilon,
		precision:    precision,
		modelVersion: ruleModelVersion,
	}

	if cfg.LLMProvider != "" {
		llm := newLLMClient(cfg, corrections)
		e.actor = &chainClassifier{name: "actor", subs: []SubClassifier{llm.forCategory(CategoryActor), ruleActor}}
		e.ticket = &chainClassifier{name: "ticket", subs: []SubClassifier{llm.forCategory(CategoryTicket), ruleTicket}}
		e.priority = &chainClassifier{name: "priority", subs: []SubClassifier{llm.forCategory(CategoryPriority), rulePriority}}
		e.modelVersion = llm.version() + "+" + ruleModelVersion
	}
	return e
}

type subOutcome struct {
	labels []Label
	err    error
}

// Classify runs the three sub-classifiers concurrently, each bounded by
// the configured timeout, and aggregates their answers. Per-category
// confidence is the sub-classifier's own confidence; there is no
// cross-category blending. Idempotent for an identical (interaction,
// model version) pair.
func (e *Engine) Classify(ctx context.Context, in Interaction) (ClassificationResult, error) {
	subs := map[Category]SubClassifier{
		CategoryActor:    e.actor,
		CategoryTicket:   e.ticket,
		CategoryPriority: e.priority,
	}

	outcomes := make(map[Category]subOutcome, len(subs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for cat, sub := range subs {
		wg.Add(1)
		go func(cat Category, sub SubClassifier) {
			defer wg.Done()
			subCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			labels, err := sub.Classify(subCtx, in)
			if err == nil && len(labels) == 0 {
				err = fmt.Errorf("%s returned no labels", sub.Name())
			}
			mu.Lock()
			outcomes[cat] = subOutcome{labels: labels, err: err}
			mu.Unlock()
		}(cat, sub)
	}
	wg.Wait()

	failed := 0
	var errs []error
	for _, cat := range categories {
		if outcomes[cat].err != nil {
			failed++
			errs = append(errs, fmt.Errorf("%s: %w", cat, outcomes[cat].err))
		}
	}
	if failed == len(categories) {
		return ClassificationResult{}, fmt.Errorf("%w: %v", ErrClassificationUnavailable, errors.Join(errs...))
	}

	result := ClassificationResult{
		InteractionID: in.ID,
		ModelVersion:  e.modelVersion,
	}

	actor := e.pick(CategoryActor, outcomes[CategoryActor], string(ActorUnknown))
	ticket := e.pick(CategoryTicket, outcomes[CategoryTicket], string(TicketOther))
	priority := e.pick(CategoryPriority, outcomes[CategoryPriority], string(PriorityNormal))

	result.ActorType = ActorType(actor.Value)
	result.ActorConfidence = actor.Confidence
	result.TicketType = TicketType(ticket.Value)
	result.TicketConfidence = ticket.Confidence
	result.Priority = Priority(priority.Value)
	result.PriorityConfidence = priority.Confidence

	if !result.ActorType.Valid() {
		result.ActorType = ActorUnknown
		result.ActorConfidence = 0
	}
	if !result.TicketType.Valid() {
		result.TicketType = TicketOther
		result.TicketConfidence = 0
	}
	if !result.Priority.Valid() {
		result.Priority = PriorityNormal
		result.PriorityConfidence = 0
	}

	log.Printf("classify interaction=%s actor=%s/%.2f ticket=%s/%.2f priority=%s/%.2f model=%s",
		in.ID, result.ActorType, result.ActorConfidence,
		result.TicketType, result.TicketConfidence,
		result.Priority, result.PriorityConfidence, result.ModelVersion)
	return result, nil
}

// pick selects the winning label for one category, applying the tie-break
// policy: candidates within epsilon of the top score are preferred by
// historical precision; with no history, the more specific label wins.
func (e *Engine) pick(cat Category, outcome subOutcome, fallback string) Label {
	if outcome.err != nil || len(outcome.labels) == 0 {
		// A failed sub-classifier contributes no signal for its category;
		// the low confidence sends the interaction to review.
		return Label{Value: fallback, Confidence: 0}
	}

	// The window is anchored on the top score: a chain of near-ties must
	// not admit a candidate that is itself outside epsilon of the top.
	best := outcome.labels[0]
	top := outcome.labels[0].Confidence
	for _, candidate := range outcome.labels[1:] {
		if top-candidate.Confidence > e.epsilon {
			break // sorted descending; the rest are further away
		}
		if e.prefer(cat, candidate, best) {
			best = candidate
		}
	}
	best.Confidence = clamp01(best.Confidence)
	return best
}

// prefer reports whether candidate should win a tie against current.
func (e *Engine) prefer(cat Category, candidate, current Label) bool {
	if e.precision != nil {
		candPrec, candOK := e.precision.PrecisionByLabel(cat, candidate.Value)
		curPrec, curOK := e.precision.PrecisionByLabel(cat, current.Value)
		if candOK && curOK {
			return candPrec > curPrec
		}
		if candOK != curOK {
			return candOK
		}
	}
	return isGenericLabel(cat, current.Value) && !isGenericLabel(cat, candidate.Value)
}

func isGenericLabel(cat Category, value string) bool {
	switch cat {
	case CategoryActor:
		return value == string(ActorUnknown)
	case CategoryTicket:
		return value == string(TicketOther)
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// describeConfidences renders per-category confidences for reason strings.
func describeConfidences(r ClassificationResult) string {
	return fmt.Sprintf("actor=%s/%.2f ticket=%s/%.2f priority=%s/%.2f",
		r.ActorType, r.ActorConfidence, r.TicketType, r.TicketConfidence, r.Priority, r.PriorityConfidence)
}

// prettyCategory renders a category for operator-facing text.
func prettyCategory(cat Category) string {
	return strings.ReplaceAll(string(cat), "_", " ")
}
