package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type ClassificationStats struct {
	TotalInteractions    int
	TotalClassifications int
	AvgTicketConfidence  float64
	BucketBelow50        int
	Bucket50to70         int
	Bucket70to90         int
	Bucket90Plus         int
	TotalOverrides       int
	AutoRouted           int
	UnderReview          int
	RejectedSpam         int
}

func GetClassificationStats(db *sql.DB, since time.Time) (ClassificationStats, error) {
	var s ClassificationStats
	err := db.QueryRow(
		`SELECT COUNT(*), COALESCE(AVG(ticket_confidence), 0),
		        COALESCE(SUM(CASE WHEN ticket_confidence < 0.50 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN ticket_confidence >= 0.50 AND ticket_confidence < 0.70 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN ticket_confidence >= 0.70 AND ticket_confidence < 0.90 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN ticket_confidence >= 0.90 THEN 1 ELSE 0 END), 0)
		 FROM classification_results WHERE classified_at >= ?`,
		since,
	).Scan(&s.TotalClassifications, &s.AvgTicketConfidence,
		&s.BucketBelow50, &s.Bucket50to70, &s.Bucket70to90, &s.Bucket90Plus)
	if err != nil {
		return s, err
	}

	err = db.QueryRow(
		`SELECT COUNT(*) FROM interactions WHERE created_at >= ?`, since,
	).Scan(&s.TotalInteractions)
	if err != nil {
		return s, err
	}

	err = db.QueryRow(
		`SELECT COUNT(*) FROM override_records WHERE corrected_at >= ?`, since,
	).Scan(&s.TotalOverrides)
	if err != nil {
		return s, err
	}

	err = db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0)
		 FROM routing_decisions WHERE decided_at >= ?`,
		ActionAutoRoute, ActionQueueForReview, ActionRejectSpam, since,
	).Scan(&s.AutoRouted, &s.UnderReview, &s.RejectedSpam)
	return s, err
}

type DestinationStat struct {
	Destination string
	Count       int
}

func GetRoutingByDestination(db *sql.DB, since time.Time) ([]DestinationStat, error) {
	rows, err := db.Query(
		`SELECT destination, COUNT(*) as cnt
		 FROM routing_decisions
		 WHERE decided_at >= ? AND action = ? AND destination != ''
		 GROUP BY destination
		 ORDER BY cnt DESC
		 LIMIT 10`,
		since, ActionAutoRoute,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DestinationStat
	for rows.Next() {
		var d DestinationStat
		if err := rows.Scan(&d.Destination, &d.Count); err != nil {
			return nil, err
		}
		stats = append(stats, d)
	}
	return stats, rows.Err()
}

type WeeklyTrend struct {
	WeekStart       string
	Classifications int
	AvgConfidence   float64
	Overrides       int
}

func GetWeeklyClassificationTrend(db *sql.DB, since time.Time) ([]WeeklyTrend, error) {
	rows, err := db.Query(
		`SELECT
		    strftime('%Y-%m-%d', classified_at, 'weekday 0', '-6 days') as week_start,
		    COUNT(*) as classifications,
		    COALESCE(AVG(ticket_confidence), 0) as avg_confidence
		 FROM classification_results
		 WHERE classified_at >= ?
		 GROUP BY week_start
		 ORDER BY week_start DESC`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trends []WeeklyTrend
	for rows.Next() {
		var t WeeklyTrend
		if err := rows.Scan(&t.WeekStart, &t.Classifications, &t.AvgConfidence); err != nil {
			return nil, err
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Load override counts per week.
	ovRows, err := db.Query(
		`SELECT
		    strftime('%Y-%m-%d', corrected_at, 'weekday 0', '-6 days') as week_start,
		    COUNT(*) as overrides
		 FROM override_records
		 WHERE corrected_at >= ?
		 GROUP BY week_start`,
		since,
	)
	if err != nil {
		return trends, nil // non-fatal
	}
	defer ovRows.Close()

	byWeek := make(map[string]int)
	for ovRows.Next() {
		var week string
		var count int
		if err := ovRows.Scan(&week, &count); err == nil {
			byWeek[week] = count
		}
	}
	for i := range trends {
		trends[i].Overrides = byWeek[trends[i].WeekStart]
	}
	return trends, nil
}

// FormatDigest renders the periodic stats summary posted to Slack.
func FormatDigest(stats ClassificationStats, destinations []DestinationStat, trends []WeeklyTrend, recent []OverrideRecord, snapshots []AccuracySnapshot, since time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("*Triage digest since %s*\n\n", since.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("Interactions: %d ingested, %d classified\n",
		stats.TotalInteractions, stats.TotalClassifications))
	b.WriteString(fmt.Sprintf("Routing: %d auto-routed, %d under review, %d rejected as spam\n",
		stats.AutoRouted, stats.UnderReview, stats.RejectedSpam))
	b.WriteString(fmt.Sprintf("Ticket confidence: avg %.2f (<0.50: %d, 0.50-0.70: %d, 0.70-0.90: %d, >=0.90: %d)\n",
		stats.AvgTicketConfidence, stats.BucketBelow50, stats.Bucket50to70, stats.Bucket70to90, stats.Bucket90Plus))
	b.WriteString(fmt.Sprintf("Overrides: %d\n", stats.TotalOverrides))

	if len(destinations) > 0 {
		b.WriteString("\nTop destinations:\n")
		for _, d := range destinations {
			b.WriteString(fmt.Sprintf("  %s: %d\n", d.Destination, d.Count))
		}
	}

	if len(trends) > 0 {
		b.WriteString("\nWeekly trend:\n")
		for _, tr := range trends {
			b.WriteString(fmt.Sprintf("  week of %s: %d classified, avg confidence %.2f, %d overrides\n",
				tr.WeekStart, tr.Classifications, tr.AvgConfidence, tr.Overrides))
		}
	}

	if len(recent) > 0 {
		b.WriteString("\nRecent overrides:\n")
		for _, o := range recent {
			var parts []string
			for _, cat := range categories {
				if label, ok := o.Corrected(cat); ok {
					parts = append(parts, fmt.Sprintf("%s -> %s", cat, label))
				}
			}
			correction := "confirmed as-is"
			if len(parts) > 0 {
				correction = strings.Join(parts, ", ")
			}
			b.WriteString(fmt.Sprintf("  %s by %s: %s\n", o.InteractionID, o.OperatorID, correction))
		}
	}

	hasSamples := false
	for _, snap := range snapshots {
		if snap.Samples > 0 {
			hasSamples = true
			break
		}
	}
	if hasSamples {
		b.WriteString("\nTrailing-window accuracy:\n")
		for _, snap := range snapshots {
			if snap.Samples == 0 {
				b.WriteString(fmt.Sprintf("  %s: no resolved samples\n", snap.Category))
				continue
			}
			b.WriteString(fmt.Sprintf("  %s: %.1f%% over %d resolved (%d implicit, %d explicit confirms)\n",
				snap.Category, snap.Accuracy*100, snap.Samples, snap.Implicit, snap.Explicit))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
