package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrInvalidOverride means an operator-submitted override references a
// classification that does not exist or does not belong to the named
// interaction. Such overrides are rejected and logged, never applied.
var ErrInvalidOverride = errors.New("invalid override")

type categoryMetrics struct {
	samples        int
	correct        int
	implicit       int // no override touched the category
	explicit       int // an override restated the original label
	predicted      map[string]int
	correctByLabel map[string]int
}

func newCategoryMetrics() *categoryMetrics {
	return &categoryMetrics{
		predicted:      make(map[string]int),
		correctByLabel: make(map[string]int),
	}
}

// AccuracySnapshot is a read-only view of one category's trailing-window
// accuracy, used by the stats digest.
type AccuracySnapshot struct {
	Category Category
	Samples  int
	Accuracy float64
	Implicit int
	Explicit int
}

// FeedbackTracker records human corrections against classifier output and
// derives accuracy metrics from the append-only log. Figures are always
// recomputed from the immutable records, never incrementally mutated, so
// the same log yields the same numbers. Reads tolerate concurrent callers
// while a single writer appends overrides.
type FeedbackTracker struct {
	db     *sql.DB
	window int

	mu         sync.RWMutex
	byCategory map[Category]*categoryMetrics
}

func NewFeedbackTracker(db *sql.DB, window int) (*FeedbackTracker, error) {
	t := &FeedbackTracker{db: db, window: window}
	if err := t.Refresh(); err != nil {
		return nil, err
	}
	return t, nil
}

// RecordOverride validates and appends a human correction. The original
// classification is never deleted or altered; the override is additive
// evidence. Returns the stored record.
func (t *FeedbackTracker) RecordOverride(o OverrideRecord) (OverrideRecord, error) {
	if o.Empty() {
		return o, fmt.Errorf("%w: override corrects nothing", ErrInvalidOverride)
	}
	if o.CorrectedActorType != "" && !o.CorrectedActorType.Valid() {
		return o, fmt.Errorf("%w: unknown actor_type %q", ErrInvalidOverride, o.CorrectedActorType)
	}
	if o.CorrectedTicketType != "" && !o.CorrectedTicketType.Valid() {
		return o, fmt.Errorf("%w: unknown ticket_type %q", ErrInvalidOverride, o.CorrectedTicketType)
	}
	if o.CorrectedPriority != "" && !o.CorrectedPriority.Valid() {
		return o, fmt.Errorf("%w: unknown priority %q", ErrInvalidOverride, o.CorrectedPriority)
	}

	cls, err := GetClassificationByID(t.db, o.ClassificationID)
	if err == sql.ErrNoRows {
		return o, fmt.Errorf("%w: classification %d does not exist", ErrInvalidOverride, o.ClassificationID)
	}
	if err != nil {
		return o, err
	}
	if cls.InteractionID != o.InteractionID {
		return o, fmt.Errorf("%w: classification %d belongs to interaction %s, not %s",
			ErrInvalidOverride, o.ClassificationID, cls.InteractionID, o.InteractionID)
	}

	id, err := InsertOverrideRecord(t.db, o)
	if err != nil {
		return o, err
	}
	o.ID = id
	log.Printf("override recorded interaction=%s classification=%d operator=%s actor=%q ticket=%q priority=%q",
		o.InteractionID, o.ClassificationID, o.OperatorID,
		o.CorrectedActorType, o.CorrectedTicketType, o.CorrectedPriority)

	if err := t.Refresh(); err != nil {
		log.Printf("feedback refresh error (non-fatal): %v", err)
	}
	return o, nil
}

// Accuracy returns the fraction of resolved interactions in the trailing
// window whose label for the category survived human review. Implicit
// confirmation (no override) and explicit confirmation (override matching
// the original label) both count as correct. Returns 0 with no samples.
func (t *FeedbackTracker) Accuracy(cat Category) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byCategory[cat]
	if !ok || m.samples == 0 {
		return 0
	}
	return float64(m.correct) / float64(m.samples)
}

// PrecisionByLabel returns the fraction of window predictions of the
// given label that survived review. The bool is false when the label has
// no history.
func (t *FeedbackTracker) PrecisionByLabel(cat Category, label string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byCategory[cat]
	if !ok {
		return 0, false
	}
	predicted := m.predicted[label]
	if predicted == 0 {
		return 0, false
	}
	return float64(m.correctByLabel[label]) / float64(predicted), true
}

// Snapshot returns per-category accuracy with confirmation counts, for
// audit and the operational digest.
func (t *FeedbackTracker) Snapshot() []AccuracySnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []AccuracySnapshot
	for _, cat := range categories {
		snap := AccuracySnapshot{Category: cat}
		if m, ok := t.byCategory[cat]; ok && m.samples > 0 {
			snap.Samples = m.samples
			snap.Accuracy = float64(m.correct) / float64(m.samples)
			snap.Implicit = m.implicit
			snap.Explicit = m.explicit
		}
		out = append(out, snap)
	}
	return out
}

// Refresh recomputes every metric from the trailing window of resolved
// interactions. The latest override touching a category is authoritative;
// earlier ones are preserved in the log but superseded.
func (t *FeedbackTracker) Refresh() error {
	ids, err := GetResolvedWindow(t.db, t.window)
	if err != nil {
		return fmt.Errorf("loading resolved window: %w", err)
	}

	byCategory := make(map[Category]*categoryMetrics, len(categories))
	for _, cat := range categories {
		byCategory[cat] = newCategoryMetrics()
	}

	for _, id := range ids {
		cls, err := GetLatestClassification(t.db, id)
		if err == sql.ErrNoRows {
			continue // resolved without a classification (e.g. empty content)
		}
		if err != nil {
			return err
		}
		overrides, err := GetOverrides(t.db, id)
		if err != nil {
			return err
		}

		for _, cat := range categories {
			m := byCategory[cat]
			m.samples++
			original := cls.Label(cat)
			m.predicted[original]++

			finalLabel := ""
			touched := false
			for _, o := range overrides {
				if corrected, ok := o.Corrected(cat); ok {
					finalLabel = corrected
					touched = true
				}
			}

			switch {
			case !touched:
				m.implicit++
				m.correct++
				m.correctByLabel[original]++
			case finalLabel == original:
				m.explicit++
				m.correct++
				m.correctByLabel[original]++
			}
		}
	}

	t.mu.Lock()
	t.byCategory = byCategory
	t.mu.Unlock()
	return nil
}

// RecentCorrections returns the latest genuine corrections (override label
// differs from the original) for a category, newest first. Fed into the
// LLM prompt so the model stops repeating known mistakes.
func (t *FeedbackTracker) RecentCorrections(cat Category, limit int) []LabelCorrection {
	var column, original string
	switch cat {
	case CategoryActor:
		column, original = "o.corrected_actor_type", "cr.actor_type"
	case CategoryTicket:
		column, original = "o.corrected_ticket_type", "cr.ticket_type"
	case CategoryPriority:
		column, original = "o.corrected_priority", "cr.priority"
	default:
		return nil
	}

	rows, err := t.db.Query(
		`SELECT i.normalized_text, `+original+`, `+column+`
		 FROM override_records o
		 JOIN classification_results cr ON cr.id = o.classification_id
		 JOIN interactions i ON i.id = o.interaction_id
		 WHERE `+column+` != '' AND `+column+` != `+original+`
		 ORDER BY o.id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		log.Printf("feedback corrections query error: %v", err)
		return nil
	}
	defer rows.Close()

	var out []LabelCorrection
	for rows.Next() {
		var c LabelCorrection
		if err := rows.Scan(&c.Text, &c.Original, &c.Corrected); err != nil {
			log.Printf("feedback corrections scan error: %v", err)
			return out
		}
		out = append(out, c)
	}
	return out
}
