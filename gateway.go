package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrEgressFailure means an egress instruction could not be delivered
// after exhausting retries. It is surfaced to the operational alert
// channel, never silently dropped.
var ErrEgressFailure = errors.New("egress failure")

// EgressGateway is the outbound half of the integration boundary.
// Concrete adapters implement the three instructions; new external
// systems require only a new adapter, not core changes.
type EgressGateway interface {
	// Route directs an auto-routed interaction to its destination queue.
	Route(ctx context.Context, interactionID, destination string, metadata map[string]string) error
	// Suppress archives a spam-rejected interaction at the source.
	Suppress(ctx context.Context, interactionID string) error
	// EnqueueReview places an interaction on the human review queue.
	EnqueueReview(ctx context.Context, interactionID, queueName string) error
}

// Alerter carries operational alerts (exhausted egress retries and the
// like) to whoever is on call.
type Alerter interface {
	Alert(message string)
}

type logAlerter struct{}

func (logAlerter) Alert(message string) {
	log.Printf("ALERT: %s", message)
}

// retryingGateway wraps an EgressGateway with persistent outbox entries,
// bounded retries with exponential backoff, and alerting on permanent
// failure. Fire-and-forget from the router's point of view: the outbox
// keeps failed instructions visible to the sweep job.
type retryingGateway struct {
	next        EgressGateway
	db          *sql.DB
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	alerter     Alerter
	sleep       func(time.Duration)
}

func newRetryingGateway(cfg Config, db *sql.DB, next EgressGateway, alerter Alerter) *retryingGateway {
	if alerter == nil {
		alerter = logAlerter{}
	}
	return &retryingGateway{
		next:        next,
		db:          db,
		maxRetries:  cfg.EgressMaxRetries,
		baseBackoff: time.Duration(cfg.EgressBaseBackoffMs) * time.Millisecond,
		maxBackoff:  time.Duration(cfg.EgressMaxBackoffMs) * time.Millisecond,
		alerter:     alerter,
		sleep:       time.Sleep,
	}
}

func (g *retryingGateway) Route(ctx context.Context, interactionID, destination string, metadata map[string]string) error {
	return g.attempt(ctx, "route", interactionID, destination, func(ctx context.Context) error {
		return g.next.Route(ctx, interactionID, destination, metadata)
	})
}

func (g *retryingGateway) Suppress(ctx context.Context, interactionID string) error {
	return g.attempt(ctx, "suppress", interactionID, "", func(ctx context.Context) error {
		return g.next.Suppress(ctx, interactionID)
	})
}

func (g *retryingGateway) EnqueueReview(ctx context.Context, interactionID, queueName string) error {
	return g.attempt(ctx, "enqueue_review", interactionID, queueName, func(ctx context.Context) error {
		return g.next.EnqueueReview(ctx, interactionID, queueName)
	})
}

func (g *retryingGateway) attempt(ctx context.Context, kind, interactionID, destination string, call func(context.Context) error) error {
	entryID, err := InsertOutboxEntry(g.db, OutboxEntry{
		InteractionID: interactionID,
		Kind:          kind,
		Destination:   destination,
	})
	if err != nil {
		return fmt.Errorf("recording outbox entry: %w", err)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		attempts++
		lastErr = call(ctx)
		if lastErr == nil {
			if err := MarkOutboxSent(g.db, entryID); err != nil {
				log.Printf("egress outbox mark sent error: %v", err)
			}
			log.Printf("egress sent kind=%s interaction=%s destination=%s attempts=%d",
				kind, interactionID, destination, attempts)
			return nil
		}
		log.Printf("egress attempt failed kind=%s interaction=%s attempt=%d err=%v",
			kind, interactionID, attempt+1, lastErr)
		if attempt < g.maxRetries {
			g.sleep(g.backoffFor(attempt))
		}
	}

	if err := MarkOutboxFailed(g.db, entryID, attempts, lastErr.Error()); err != nil {
		log.Printf("egress outbox mark failed error: %v", err)
	}
	g.alerter.Alert(fmt.Sprintf("egress %s for interaction %s failed after %d attempts: %v",
		kind, interactionID, attempts, lastErr))
	return fmt.Errorf("%w: %s for interaction %s after %d attempts: %v",
		ErrEgressFailure, kind, interactionID, attempts, lastErr)
}

func (g *retryingGateway) backoffFor(attempt int) time.Duration {
	delay := g.baseBackoff << uint(attempt)
	if delay > g.maxBackoff || delay <= 0 {
		delay = g.maxBackoff
	}
	return delay
}

// RetrySweep re-attempts failed outbox entries once each. Entries that
// succeed are marked sent; the rest stay visible as failed. Run from the
// scheduler.
func (g *retryingGateway) RetrySweep(ctx context.Context, limit int) (retried, sent int, err error) {
	entries, err := GetFailedOutbox(g.db, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("loading failed outbox: %w", err)
	}
	for _, entry := range entries {
		retried++
		var callErr error
		switch entry.Kind {
		case "route":
			callErr = g.next.Route(ctx, entry.InteractionID, entry.Destination, nil)
		case "suppress":
			callErr = g.next.Suppress(ctx, entry.InteractionID)
		case "enqueue_review":
			callErr = g.next.EnqueueReview(ctx, entry.InteractionID, entry.Destination)
		default:
			log.Printf("egress sweep skipping unknown kind=%s id=%d", entry.Kind, entry.ID)
			continue
		}
		if callErr != nil {
			if markErr := MarkOutboxFailed(g.db, entry.ID, 1, callErr.Error()); markErr != nil {
				log.Printf("egress sweep mark failed error: %v", markErr)
			}
			continue
		}
		if markErr := MarkOutboxSent(g.db, entry.ID); markErr != nil {
			log.Printf("egress sweep mark sent error: %v", markErr)
		}
		sent++
	}
	if retried > 0 {
		log.Printf("egress sweep retried=%d sent=%d", retried, sent)
	}
	return retried, sent, nil
}

// compositeGateway fans egress instructions out to the concrete
// integrations: ClickUp tasks for routing, Zoho ticket closure for
// suppression, and a Slack review channel for the human queue. Any nil
// member degrades to logging so partial deployments still run.
type compositeGateway struct {
	db      *sql.DB
	clickup *clickupClient
	zoho    *zohoClient
	review  ReviewEnqueuer
}

// ReviewEnqueuer posts an interaction onto a named human review queue.
type ReviewEnqueuer interface {
	EnqueueReview(ctx context.Context, in Interaction, queueName string) error
}

func (c *compositeGateway) Route(ctx context.Context, interactionID, destination string, metadata map[string]string) error {
	in, err := GetInteraction(c.db, interactionID)
	if err != nil {
		return fmt.Errorf("loading interaction for routing: %w", err)
	}
	if c.clickup == nil {
		log.Printf("egress route (no clickup configured) interaction=%s destination=%s", interactionID, destination)
		return nil
	}
	return c.clickup.CreateTask(ctx, in, destination, metadata)
}

func (c *compositeGateway) Suppress(ctx context.Context, interactionID string) error {
	in, err := GetInteraction(c.db, interactionID)
	if err != nil {
		return fmt.Errorf("loading interaction for suppression: %w", err)
	}
	if c.zoho == nil || !isZohoDedupKey(in.DedupKey) {
		log.Printf("egress suppress (local only) interaction=%s", interactionID)
		return nil
	}
	return c.zoho.CloseTicketAsSpam(ctx, zohoTicketIDFromDedupKey(in.DedupKey))
}

func (c *compositeGateway) EnqueueReview(ctx context.Context, interactionID, queueName string) error {
	in, err := GetInteraction(c.db, interactionID)
	if err != nil {
		return fmt.Errorf("loading interaction for review: %w", err)
	}
	if c.review == nil {
		log.Printf("egress enqueue_review (no review channel configured) interaction=%s queue=%s", interactionID, queueName)
		return nil
	}
	return c.review.EnqueueReview(ctx, in, queueName)
}
