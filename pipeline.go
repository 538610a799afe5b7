package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Hub ties the pipeline together: gateway ingress → normalizer →
// classifier → router. Interactions from independent sources are
// processed concurrently with no cross-interaction ordering; within one
// interaction the stages run strictly in sequence, enforced by the state
// machine.
type Hub struct {
	db      *sql.DB
	cfg     Config
	engine  *Engine
	router  *Router
	gateway EgressGateway
}

func NewHub(db *sql.DB, cfg Config, engine *Engine, router *Router, gateway EgressGateway) *Hub {
	return &Hub{db: db, cfg: cfg, engine: engine, router: router, gateway: gateway}
}

// Deliver is the gateway ingress contract: it normalizes and persists a
// source payload and returns the interaction id. Idempotent per dedup
// key: re-delivering the same upstream ticket or call returns the
// existing id without creating a second interaction.
//
// Normalization failures never drop data: unsupported-channel and
// empty-content interactions are persisted flagged and head to manual
// review instead.
func (h *Hub) Deliver(ctx context.Context, channel SourceChannel, rawPayload string, receivedAt time.Time, actorHint, dedupKey string) (string, bool, error) {
	if dedupKey == "" {
		// No upstream key: nothing to deduplicate against.
		dedupKey = "adhoc:" + uuid.NewString()
	}

	in, normErr := NormalizeInteraction(channel, rawPayload, receivedAt, actorHint)
	if errors.Is(normErr, ErrUnsupportedChannel) {
		in = Interaction{
			ID:            uuid.NewString(),
			SourceChannel: channel,
			RawPayload:    rawPayload,
			EmptyContent:  true,
			ReceivedAt:    receivedAt,
			ActorHint:     actorHint,
		}
	}
	in.DedupKey = dedupKey

	id, created, err := InsertInteraction(h.db, in)
	if err != nil {
		return "", false, fmt.Errorf("storing interaction: %w", err)
	}
	if !created {
		log.Printf("deliver dedup hit key=%s interaction=%s", dedupKey, id)
		return id, false, nil
	}
	log.Printf("deliver interaction=%s channel=%s dedup=%s empty=%v", id, channel, dedupKey, in.EmptyContent)

	if errors.Is(normErr, ErrUnsupportedChannel) {
		// The interaction is queryable but cannot be classified; a human
		// sorts it out.
		if err := SetInteractionState(h.db, id, StateUnderReview); err != nil {
			return id, true, err
		}
		if err := h.gateway.EnqueueReview(ctx, id, h.cfg.ReviewQueue); err != nil && !errors.Is(err, ErrEgressFailure) {
			return id, true, err
		}
		return id, true, normErr
	}
	return id, true, nil
}

// Process runs classification and routing for a pending interaction.
// Classifier failure degrades to manual review; it never crashes the
// pipeline and the interaction stays queryable throughout.
func (h *Hub) Process(ctx context.Context, interactionID string) error {
	in, err := GetInteraction(h.db, interactionID)
	if err != nil {
		return fmt.Errorf("loading interaction: %w", err)
	}
	state, err := GetInteractionState(h.db, interactionID)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	if state != StatePending {
		return fmt.Errorf("interaction %s is not pending (state=%s)", interactionID, state)
	}

	res, classifyErr := h.engine.Classify(ctx, in)
	if classifyErr != nil {
		if !errors.Is(classifyErr, ErrClassificationUnavailable) {
			return classifyErr
		}
		log.Printf("classify unavailable interaction=%s err=%v", interactionID, classifyErr)
		_, decideErr := h.router.Decide(ctx, in, ClassificationResult{InteractionID: in.ID}, classifyErr)
		return decideErr
	}

	stored, err := InsertClassificationResult(h.db, res)
	if err != nil {
		return fmt.Errorf("storing classification: %w", err)
	}
	if err := SetInteractionState(h.db, interactionID, StateClassified); err != nil {
		return fmt.Errorf("advancing state: %w", err)
	}

	_, err = h.router.Decide(ctx, in, stored, nil)
	return err
}

// Ingest delivers a payload and processes it in one call. Used by source
// adapters; callers ingesting many interactions run Ingest concurrently,
// one goroutine per interaction.
func (h *Hub) Ingest(ctx context.Context, channel SourceChannel, rawPayload string, receivedAt time.Time, actorHint, dedupKey string) (string, bool, error) {
	id, created, err := h.Deliver(ctx, channel, rawPayload, receivedAt, actorHint, dedupKey)
	if err != nil {
		// Unsupported-channel deliveries are already parked in review.
		if errors.Is(err, ErrUnsupportedChannel) {
			return id, created, nil
		}
		return id, created, err
	}
	if !created {
		return id, false, nil
	}
	return id, true, h.Process(ctx, id)
}

// Reclassify appends a fresh classification to an interaction's history
// without touching its routing state. Used when the classifier version
// changes; history only ever grows.
func (h *Hub) Reclassify(ctx context.Context, interactionID string) (ClassificationResult, error) {
	in, err := GetInteraction(h.db, interactionID)
	if err != nil {
		return ClassificationResult{}, fmt.Errorf("loading interaction: %w", err)
	}
	res, err := h.engine.Classify(ctx, in)
	if err != nil {
		return ClassificationResult{}, err
	}
	return InsertClassificationResult(h.db, res)
}
