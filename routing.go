package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Router owns the per-interaction state machine:
//
//	pending → classified → {auto_routed, under_review, rejected_spam}
//	(terminal) → override → under_review → resolved
//
// Decisions for one interaction are serialized by a per-interaction lock,
// so at most one decision is in flight and egress is emitted exactly once
// per decision.
type Router struct {
	db      *sql.DB
	cfg     Config
	gateway EgressGateway
	tracker *FeedbackTracker

	mu    sync.Mutex
	locks map[string]*interactionLock
}

// interactionLock is reference-counted so the Router can evict the map
// entry once no caller holds or waits on it; the lock table stays
// bounded by in-flight work instead of growing with every interaction.
type interactionLock struct {
	mu   sync.Mutex
	refs int
}

func NewRouter(db *sql.DB, cfg Config, gateway EgressGateway, tracker *FeedbackTracker) *Router {
	return &Router{
		db:      db,
		cfg:     cfg,
		gateway: gateway,
		tracker: tracker,
		locks:   make(map[string]*interactionLock),
	}
}

func (r *Router) acquire(interactionID string) *interactionLock {
	r.mu.Lock()
	lock, ok := r.locks[interactionID]
	if !ok {
		lock = &interactionLock{}
		r.locks[interactionID] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (r *Router) release(interactionID string, lock *interactionLock) {
	lock.mu.Unlock()
	r.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, interactionID)
	}
	r.mu.Unlock()
}

// Decide evaluates thresholds and business rules for a freshly classified
// interaction and transitions it to a terminal state. classifyErr carries
// ErrClassificationUnavailable when every sub-classifier failed; the
// interaction is then degraded to manual review, never auto-routed.
func (r *Router) Decide(ctx context.Context, in Interaction, res ClassificationResult, classifyErr error) (RoutingDecision, error) {
	lock := r.acquire(in.ID)
	defer r.release(in.ID, lock)

	state, err := GetInteractionState(r.db, in.ID)
	if err != nil {
		return RoutingDecision{}, fmt.Errorf("loading state: %w", err)
	}
	if state.Terminal() {
		return RoutingDecision{}, fmt.Errorf("interaction %s already decided (state=%s)", in.ID, state)
	}

	// Re-read the closed flag: the source ticket may have been deleted
	// while classification was in flight. The finished classification is
	// kept, but its decision is discarded rather than acted upon.
	current, err := GetInteraction(r.db, in.ID)
	if err != nil {
		return RoutingDecision{}, fmt.Errorf("loading interaction: %w", err)
	}
	if current.SourceClosed {
		decision := RoutingDecision{
			InteractionID:    in.ID,
			ClassificationID: res.ID,
			Action:           ActionDiscarded,
			ReasonCode:       ReasonSourceClosed,
			Reason:           "source ticket closed before routing",
		}
		return r.commit(ctx, decision, StateResolved)
	}

	decision := r.evaluate(in, res, classifyErr)
	var nextState InteractionState
	switch decision.Action {
	case ActionAutoRoute:
		nextState = StateAutoRouted
	case ActionRejectSpam:
		nextState = StateRejectedSpam
	default:
		nextState = StateUnderReview
	}
	return r.commit(ctx, decision, nextState)
}

func (r *Router) evaluate(in Interaction, res ClassificationResult, classifyErr error) RoutingDecision {
	decision := RoutingDecision{
		InteractionID:    in.ID,
		ClassificationID: res.ID,
	}

	if classifyErr != nil {
		decision.Action = ActionQueueForReview
		decision.ReasonCode = ReasonClassifierUnavailable
		decision.Reason = classifyErr.Error()
		return decision
	}

	// Spam wins first: a confident spam call suppresses rather than routes.
	if res.TicketType == TicketSpam && res.TicketConfidence >= r.cfg.SpamThreshold {
		decision.Action = ActionRejectSpam
		decision.ReasonCode = ReasonSpamThreshold
		decision.Reason = fmt.Sprintf("spam confidence %.2f >= %.2f", res.TicketConfidence, r.cfg.SpamThreshold)
		return decision
	}

	for _, rule := range r.cfg.ForcedReview {
		if rule.Matches(in, res) {
			decision.Action = ActionQueueForReview
			decision.ReasonCode = ReasonRuleMatched
			decision.Reason = fmt.Sprintf("forced-review rule %q matched", rule.Name)
			return decision
		}
	}

	for _, cat := range categories {
		threshold := r.cfg.Threshold(cat)
		if res.Confidence(cat) < threshold {
			decision.Action = ActionQueueForReview
			decision.ReasonCode = ReasonBelowThreshold
			decision.Reason = fmt.Sprintf("%s confidence %.2f < %.2f (%s)",
				cat, res.Confidence(cat), threshold, describeConfidences(res))
			return decision
		}
	}

	decision.Action = ActionAutoRoute
	decision.Destination = r.cfg.Destination(res.TicketType)
	decision.ReasonCode = ReasonThresholdMet
	decision.Reason = describeConfidences(res)
	return decision
}

// commit persists the decision, advances the state, and emits the egress
// instruction. State advances before egress: a failed egress lands in the
// outbox for the retry sweep instead of re-running the decision.
func (r *Router) commit(ctx context.Context, decision RoutingDecision, nextState InteractionState) (RoutingDecision, error) {
	id, err := InsertRoutingDecision(r.db, decision)
	if err != nil {
		return decision, fmt.Errorf("recording decision: %w", err)
	}
	decision.ID = id

	if err := SetInteractionState(r.db, decision.InteractionID, nextState); err != nil {
		return decision, fmt.Errorf("advancing state: %w", err)
	}
	log.Printf("route interaction=%s action=%s destination=%s reason=%s state=%s",
		decision.InteractionID, decision.Action, decision.Destination, decision.ReasonCode, nextState)

	var egressErr error
	switch decision.Action {
	case ActionAutoRoute:
		egressErr = r.gateway.Route(ctx, decision.InteractionID, decision.Destination, r.routingMetadata(decision))
	case ActionRejectSpam:
		egressErr = r.gateway.Suppress(ctx, decision.InteractionID)
	case ActionQueueForReview:
		egressErr = r.gateway.EnqueueReview(ctx, decision.InteractionID, r.cfg.ReviewQueue)
	case ActionDiscarded:
		// Logged for audit only; no egress.
	}
	if egressErr != nil && !errors.Is(egressErr, ErrEgressFailure) {
		return decision, egressErr
	}
	if egressErr != nil {
		// Permanent egress failure was already alerted and is parked in
		// the outbox; the decision itself stands.
		log.Printf("route egress parked interaction=%s action=%s err=%v",
			decision.InteractionID, decision.Action, egressErr)
	}
	return decision, nil
}

func (r *Router) routingMetadata(decision RoutingDecision) map[string]string {
	meta := map[string]string{
		"decision_id": fmt.Sprintf("%d", decision.ID),
		"reason":      decision.ReasonCode,
	}
	if cls, err := GetClassificationByID(r.db, decision.ClassificationID); err == nil {
		meta["actor_type"] = string(cls.ActorType)
		meta["ticket_type"] = string(cls.TicketType)
		meta["priority"] = string(cls.Priority)
	}
	return meta
}

// ApplyOverride records a human correction and reopens the interaction
// for review. Only interactions that already reached a terminal state can
// be overridden; the original classification is preserved untouched.
func (r *Router) ApplyOverride(ctx context.Context, o OverrideRecord) (OverrideRecord, error) {
	lock := r.acquire(o.InteractionID)
	defer r.release(o.InteractionID, lock)

	state, err := GetInteractionState(r.db, o.InteractionID)
	if err == sql.ErrNoRows {
		return o, fmt.Errorf("%w: unknown interaction %s", ErrInvalidOverride, o.InteractionID)
	}
	if err != nil {
		return o, fmt.Errorf("loading state: %w", err)
	}
	if !state.Terminal() {
		return o, fmt.Errorf("%w: interaction %s has no routing decision yet (state=%s)",
			ErrInvalidOverride, o.InteractionID, state)
	}

	rec, err := r.tracker.RecordOverride(o)
	if err != nil {
		return o, err
	}

	decision := RoutingDecision{
		InteractionID:    o.InteractionID,
		ClassificationID: o.ClassificationID,
		Action:           ActionQueueForReview,
		ReasonCode:       ReasonOverride,
		Reason:           fmt.Sprintf("override by operator %s reopened the interaction", o.OperatorID),
	}
	if _, err := r.commit(ctx, decision, StateUnderReview); err != nil {
		return rec, err
	}
	return rec, nil
}

// Resolve closes an interaction under review. No override beforehand is
// an implicit confirmation of the classifier's labels.
func (r *Router) Resolve(interactionID, operatorID string) error {
	lock := r.acquire(interactionID)
	defer r.release(interactionID, lock)

	state, err := GetInteractionState(r.db, interactionID)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	if state != StateUnderReview {
		return fmt.Errorf("interaction %s is not under review (state=%s)", interactionID, state)
	}
	if err := SetInteractionState(r.db, interactionID, StateResolved); err != nil {
		return fmt.Errorf("advancing state: %w", err)
	}
	log.Printf("resolve interaction=%s operator=%s", interactionID, operatorID)

	if err := r.tracker.Refresh(); err != nil {
		log.Printf("feedback refresh error (non-fatal): %v", err)
	}
	return nil
}
