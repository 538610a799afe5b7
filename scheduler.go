package main

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const retrySweepBatch = 50
const digestLookbackDays = 7
const digestTrendWeeks = 4
const digestRecentOverrides = 5

// startCronJob runs fn on a standard 5-field cron schedule (minute hour
// day-of-month month day-of-week). Examples: "*/5 * * * *" (every 5
// minutes), "0 9 * * 1" (Mondays 9am). Empty schedule disables the job.
func startCronJob(name, schedule string, loc *time.Location, fn func()) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Printf("%s disabled (no schedule set)", name)
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid %s schedule '%s': %v — job disabled", name, schedule, err)
		return
	}
	log.Printf("%s scheduled (cron: %s)", name, schedule)

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next %s at %s (in %s)", name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)
			fn()
		}
	}()
}

// StartSchedulers wires the background jobs: Zoho ticket polling, the
// egress retry sweep, and the stats digest.
func StartSchedulers(cfg Config, db *sql.DB, hub *Hub, zoho *zohoClient, retrier *retryingGateway, notifier *slackNotifier, tracker *FeedbackTracker) {
	if zoho != nil {
		startCronJob("zoho-poll", cfg.ZohoPollSchedule, cfg.Location, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := PollZohoTickets(ctx, zoho, hub); err != nil {
				log.Printf("zoho poll error: %v", err)
			}
		})
	} else {
		log.Println("zoho-poll disabled (Zoho not configured)")
	}

	startCronJob("retry-sweep", cfg.RetrySweepSchedule, cfg.Location, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, _, err := retrier.RetrySweep(ctx, retrySweepBatch); err != nil {
			log.Printf("retry sweep error: %v", err)
		}
	})

	startCronJob("digest", cfg.DigestSchedule, cfg.Location, func() {
		since := time.Now().AddDate(0, 0, -digestLookbackDays)
		stats, err := GetClassificationStats(db, since)
		if err != nil {
			log.Printf("digest stats error: %v", err)
			return
		}
		destinations, err := GetRoutingByDestination(db, since)
		if err != nil {
			log.Printf("digest destinations error: %v", err)
		}
		trends, err := GetWeeklyClassificationTrend(db, time.Now().AddDate(0, 0, -7*digestTrendWeeks))
		if err != nil {
			log.Printf("digest trend error: %v", err)
		}
		recent, err := GetRecentOverrides(db, since, digestRecentOverrides)
		if err != nil {
			log.Printf("digest overrides error: %v", err)
		}
		digest := FormatDigest(stats, destinations, trends, recent, tracker.Snapshot(), since)
		if err := notifier.PostDigest(digest); err != nil {
			log.Printf("digest post error: %v", err)
		}
	})
}
