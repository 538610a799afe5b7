package main

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id              TEXT PRIMARY KEY,
		dedup_key       TEXT NOT NULL,
		source_channel  TEXT NOT NULL,
		raw_payload     TEXT NOT NULL,
		normalized_text TEXT NOT NULL,
		actor_hint      TEXT DEFAULT '',
		empty_content   INTEGER NOT NULL DEFAULT 0,
		source_closed   INTEGER NOT NULL DEFAULT 0,
		received_at     DATETIME NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_interactions_dedup ON interactions(dedup_key);
	CREATE INDEX IF NOT EXISTS idx_interactions_received ON interactions(received_at);

	CREATE TABLE IF NOT EXISTS classification_results (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id      TEXT NOT NULL,
		seq                 INTEGER NOT NULL,
		actor_type          TEXT NOT NULL,
		ticket_type         TEXT NOT NULL,
		priority            TEXT NOT NULL,
		actor_confidence    REAL NOT NULL,
		ticket_confidence   REAL NOT NULL,
		priority_confidence REAL NOT NULL,
		model_version       TEXT NOT NULL,
		classified_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(interaction_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_cr_interaction ON classification_results(interaction_id);

	CREATE TABLE IF NOT EXISTS routing_decisions (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id    TEXT NOT NULL,
		classification_id INTEGER NOT NULL DEFAULT 0,
		action            TEXT NOT NULL,
		destination       TEXT DEFAULT '',
		reason_code       TEXT NOT NULL,
		reason            TEXT DEFAULT '',
		decided_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rd_interaction ON routing_decisions(interaction_id);

	CREATE TABLE IF NOT EXISTS override_records (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id        TEXT NOT NULL,
		classification_id     INTEGER NOT NULL,
		corrected_actor_type  TEXT DEFAULT '',
		corrected_ticket_type TEXT DEFAULT '',
		corrected_priority    TEXT DEFAULT '',
		operator_id           TEXT NOT NULL,
		corrected_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_or_interaction ON override_records(interaction_id);

	CREATE TABLE IF NOT EXISTS interaction_state (
		interaction_id TEXT PRIMARY KEY,
		state          TEXT NOT NULL,
		updated_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS egress_outbox (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		interaction_id TEXT NOT NULL,
		kind           TEXT NOT NULL,
		destination    TEXT DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'pending',
		attempts       INTEGER NOT NULL DEFAULT 0,
		last_error     TEXT DEFAULT '',
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
		sent_at        DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_status ON egress_outbox(status);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// InsertInteraction stores a new interaction, or returns the id of the
// existing one when the dedup key was seen before. The bool reports
// whether a new row was created. The conflict clause makes this safe
// against concurrent deliveries of the same key: the loser re-reads the
// winner's id instead of surfacing a constraint error.
func InsertInteraction(db *sql.DB, in Interaction) (string, bool, error) {
	res, err := db.Exec(
		`INSERT INTO interactions (id, dedup_key, source_channel, raw_payload, normalized_text, actor_hint, empty_content, source_closed, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(dedup_key) DO NOTHING`,
		in.ID, in.DedupKey, in.SourceChannel, in.RawPayload, in.NormalizedText,
		in.ActorHint, boolToInt(in.EmptyContent), in.ReceivedAt,
	)
	if err != nil {
		return "", false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if inserted == 0 {
		var existingID string
		if err := db.QueryRow(`SELECT id FROM interactions WHERE dedup_key = ?`, in.DedupKey).Scan(&existingID); err != nil {
			return "", false, err
		}
		return existingID, false, nil
	}
	if err := SetInteractionState(db, in.ID, StatePending); err != nil {
		return "", false, err
	}
	return in.ID, true, nil
}

func GetInteraction(db *sql.DB, id string) (Interaction, error) {
	var in Interaction
	var empty, closed int
	err := db.QueryRow(
		`SELECT id, dedup_key, source_channel, raw_payload, normalized_text, actor_hint, empty_content, source_closed, received_at, created_at
		 FROM interactions WHERE id = ?`,
		id,
	).Scan(
		&in.ID, &in.DedupKey, &in.SourceChannel, &in.RawPayload, &in.NormalizedText,
		&in.ActorHint, &empty, &closed, &in.ReceivedAt, &in.CreatedAt,
	)
	in.EmptyContent = empty != 0
	in.SourceClosed = closed != 0
	return in, err
}

// MarkSourceClosed flags that the upstream ticket was deleted or closed.
// This is the one writable bit on an interaction: it never alters content,
// only tells the router to discard in-flight decisions.
func MarkSourceClosed(db *sql.DB, id string) error {
	_, err := db.Exec(`UPDATE interactions SET source_closed = 1 WHERE id = ?`, id)
	return err
}

// --- Classification history (append-only) ---

// InsertClassificationResult appends a result to the interaction's
// classification history, assigning the next sequence number.
func InsertClassificationResult(db *sql.DB, r ClassificationResult) (ClassificationResult, error) {
	tx, err := db.Begin()
	if err != nil {
		return r, err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(
		`SELECT MAX(seq) FROM classification_results WHERE interaction_id = ?`,
		r.InteractionID,
	).Scan(&maxSeq); err != nil {
		return r, err
	}
	r.Seq = int(maxSeq.Int64) + 1

	res, err := tx.Exec(
		`INSERT INTO classification_results
		 (interaction_id, seq, actor_type, ticket_type, priority, actor_confidence, ticket_confidence, priority_confidence, model_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.InteractionID, r.Seq, r.ActorType, r.TicketType, r.Priority,
		r.ActorConfidence, r.TicketConfidence, r.PriorityConfidence, r.ModelVersion,
	)
	if err != nil {
		return r, err
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return r, err
	}
	return r, tx.Commit()
}

func scanClassificationRows(rows *sql.Rows) ([]ClassificationResult, error) {
	defer rows.Close()
	var out []ClassificationResult
	for rows.Next() {
		var r ClassificationResult
		if err := rows.Scan(
			&r.ID, &r.InteractionID, &r.Seq, &r.ActorType, &r.TicketType, &r.Priority,
			&r.ActorConfidence, &r.TicketConfidence, &r.PriorityConfidence,
			&r.ModelVersion, &r.ClassifiedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const classificationColumns = `id, interaction_id, seq, actor_type, ticket_type, priority,
	actor_confidence, ticket_confidence, priority_confidence, model_version, classified_at`

// GetClassificationHistory returns every result for an interaction in
// sequence order.
func GetClassificationHistory(db *sql.DB, interactionID string) ([]ClassificationResult, error) {
	rows, err := db.Query(
		`SELECT `+classificationColumns+`
		 FROM classification_results WHERE interaction_id = ? ORDER BY seq`,
		interactionID,
	)
	if err != nil {
		return nil, err
	}
	return scanClassificationRows(rows)
}

func GetLatestClassification(db *sql.DB, interactionID string) (ClassificationResult, error) {
	rows, err := db.Query(
		`SELECT `+classificationColumns+`
		 FROM classification_results WHERE interaction_id = ? ORDER BY seq DESC LIMIT 1`,
		interactionID,
	)
	if err != nil {
		return ClassificationResult{}, err
	}
	results, err := scanClassificationRows(rows)
	if err != nil {
		return ClassificationResult{}, err
	}
	if len(results) == 0 {
		return ClassificationResult{}, sql.ErrNoRows
	}
	return results[0], nil
}

func GetClassificationByID(db *sql.DB, id int64) (ClassificationResult, error) {
	rows, err := db.Query(
		`SELECT `+classificationColumns+` FROM classification_results WHERE id = ?`, id,
	)
	if err != nil {
		return ClassificationResult{}, err
	}
	results, err := scanClassificationRows(rows)
	if err != nil {
		return ClassificationResult{}, err
	}
	if len(results) == 0 {
		return ClassificationResult{}, sql.ErrNoRows
	}
	return results[0], nil
}

// --- Routing decisions ---

func InsertRoutingDecision(db *sql.DB, d RoutingDecision) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO routing_decisions (interaction_id, classification_id, action, destination, reason_code, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.InteractionID, d.ClassificationID, d.Action, d.Destination, d.ReasonCode, d.Reason,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func GetRoutingDecisions(db *sql.DB, interactionID string) ([]RoutingDecision, error) {
	rows, err := db.Query(
		`SELECT id, interaction_id, classification_id, action, destination, reason_code, reason, decided_at
		 FROM routing_decisions WHERE interaction_id = ? ORDER BY id`,
		interactionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoutingDecision
	for rows.Next() {
		var d RoutingDecision
		if err := rows.Scan(
			&d.ID, &d.InteractionID, &d.ClassificationID, &d.Action,
			&d.Destination, &d.ReasonCode, &d.Reason, &d.DecidedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Override records (append-only) ---

func InsertOverrideRecord(db *sql.DB, o OverrideRecord) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO override_records
		 (interaction_id, classification_id, corrected_actor_type, corrected_ticket_type, corrected_priority, operator_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.InteractionID, o.ClassificationID,
		o.CorrectedActorType, o.CorrectedTicketType, o.CorrectedPriority, o.OperatorID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func GetOverrides(db *sql.DB, interactionID string) ([]OverrideRecord, error) {
	rows, err := db.Query(
		`SELECT id, interaction_id, classification_id, corrected_actor_type, corrected_ticket_type, corrected_priority, operator_id, corrected_at
		 FROM override_records WHERE interaction_id = ? ORDER BY id`,
		interactionID,
	)
	if err != nil {
		return nil, err
	}
	return scanOverrideRows(rows)
}

func GetRecentOverrides(db *sql.DB, since time.Time, limit int) ([]OverrideRecord, error) {
	rows, err := db.Query(
		`SELECT id, interaction_id, classification_id, corrected_actor_type, corrected_ticket_type, corrected_priority, operator_id, corrected_at
		 FROM override_records WHERE corrected_at >= ? ORDER BY corrected_at DESC, id DESC LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanOverrideRows(rows)
}

func scanOverrideRows(rows *sql.Rows) ([]OverrideRecord, error) {
	defer rows.Close()
	var out []OverrideRecord
	for rows.Next() {
		var o OverrideRecord
		if err := rows.Scan(
			&o.ID, &o.InteractionID, &o.ClassificationID,
			&o.CorrectedActorType, &o.CorrectedTicketType, &o.CorrectedPriority,
			&o.OperatorID, &o.CorrectedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Interaction state (the one mutable projection) ---

func SetInteractionState(db *sql.DB, interactionID string, state InteractionState) error {
	_, err := db.Exec(
		`INSERT INTO interaction_state (interaction_id, state, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(interaction_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		interactionID, state,
	)
	return err
}

func GetInteractionState(db *sql.DB, interactionID string) (InteractionState, error) {
	var s InteractionState
	err := db.QueryRow(
		`SELECT state FROM interaction_state WHERE interaction_id = ?`, interactionID,
	).Scan(&s)
	return s, err
}

// GetResolvedWindow returns the ids of the most recently resolved
// interactions, newest first, capped at limit.
func GetResolvedWindow(db *sql.DB, limit int) ([]string, error) {
	rows, err := db.Query(
		`SELECT interaction_id FROM interaction_state
		 WHERE state = ? ORDER BY updated_at DESC, interaction_id DESC LIMIT ?`,
		StateResolved, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Egress outbox ---

type OutboxEntry struct {
	ID            int64
	InteractionID string
	Kind          string // "route", "suppress", or "enqueue_review"
	Destination   string
	Status        string // "pending", "sent", or "failed"
	Attempts      int
	LastError     string
	CreatedAt     time.Time
}

func InsertOutboxEntry(db *sql.DB, e OutboxEntry) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO egress_outbox (interaction_id, kind, destination) VALUES (?, ?, ?)`,
		e.InteractionID, e.Kind, e.Destination,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func MarkOutboxSent(db *sql.DB, id int64) error {
	_, err := db.Exec(
		`UPDATE egress_outbox SET status = 'sent', sent_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	return err
}

func MarkOutboxFailed(db *sql.DB, id int64, attempts int, lastError string) error {
	_, err := db.Exec(
		`UPDATE egress_outbox SET status = 'failed', attempts = attempts + ?, last_error = ? WHERE id = ?`,
		attempts, lastError, id,
	)
	return err
}

func GetFailedOutbox(db *sql.DB, limit int) ([]OutboxEntry, error) {
	rows, err := db.Query(
		`SELECT id, interaction_id, kind, destination, status, attempts, last_error, created_at
		 FROM egress_outbox WHERE status = 'failed' ORDER BY id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(
			&e.ID, &e.InteractionID, &e.Kind, &e.Destination,
			&e.Status, &e.Attempts, &e.LastError, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CountInteractions is used by operational stats.
func CountInteractions(db *sql.DB, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM interactions WHERE received_at >= ?`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting interactions: %w", err)
	}
	return n, nil
}
