package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := LoadConfig()
	if cfg.ActorThreshold != 0.85 || cfg.TicketThreshold != 0.90 || cfg.PriorityThreshold != 0.70 {
		t.Fatalf("unexpected default thresholds: %f/%f/%f", cfg.ActorThreshold, cfg.TicketThreshold, cfg.PriorityThreshold)
	}
	if cfg.SpamThreshold != 0.95 {
		t.Fatalf("unexpected default spam threshold: %f", cfg.SpamThreshold)
	}
	if cfg.EgressMaxRetries != 3 || cfg.EgressBaseBackoffMs != 200 || cfg.EgressMaxBackoffMs != 5000 {
		t.Fatalf("unexpected egress defaults: %d/%d/%d", cfg.EgressMaxRetries, cfg.EgressBaseBackoffMs, cfg.EgressMaxBackoffMs)
	}
	if cfg.AccuracyWindow != 200 {
		t.Fatalf("unexpected accuracy window: %d", cfg.AccuracyWindow)
	}
	if cfg.ReviewQueue != "guest-services-review" || cfg.DefaultDestination != "general" {
		t.Fatalf("unexpected routing defaults: %s/%s", cfg.ReviewQueue, cfg.DefaultDestination)
	}
	if cfg.LLMProvider != "" {
		t.Fatalf("expected rules-only classification by default, got %q", cfg.LLMProvider)
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	path := writeConfigFile(t, `
ticket_threshold: 0.8
review_queue: custom-review
destinations:
  refund: billing-queue
forced_review:
  - name: franchisee-traffic
    actor_types: [franchisee]
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("TICKET_THRESHOLD", "0.75")

	cfg := LoadConfig()
	if cfg.TicketThreshold != 0.75 {
		t.Fatalf("env must override yaml, got %f", cfg.TicketThreshold)
	}
	if cfg.ReviewQueue != "custom-review" {
		t.Fatalf("yaml value lost: %s", cfg.ReviewQueue)
	}
	if len(cfg.ForcedReview) != 1 || cfg.ForcedReview[0].Name != "franchisee-traffic" {
		t.Fatalf("unexpected forced review rules: %+v", cfg.ForcedReview)
	}
	if cfg.Destination(TicketRefund) != "billing-queue" {
		t.Fatalf("unexpected refund destination: %s", cfg.Destination(TicketRefund))
	}
	if cfg.Destination(TicketOther) != "general" {
		t.Fatalf("unmapped ticket types fall back to the default, got %s", cfg.Destination(TicketOther))
	}
}

func TestConfigThresholdPerCategory(t *testing.T) {
	cfg := Config{ActorThreshold: 0.1, TicketThreshold: 0.2, PriorityThreshold: 0.3}
	if cfg.Threshold(CategoryActor) != 0.1 || cfg.Threshold(CategoryTicket) != 0.2 || cfg.Threshold(CategoryPriority) != 0.3 {
		t.Fatalf("per-category thresholds mixed up")
	}
}

func TestForcedReviewRuleMatches(t *testing.T) {
	in := Interaction{SourceChannel: ChannelEmail, NormalizedText: "please escalate this to corporate"}
	res := ClassificationResult{ActorType: ActorFranchisee, TicketType: TicketRefund}

	rule := ForcedReviewRule{Name: "r", ActorTypes: []string{"franchisee"}}
	if !rule.Matches(in, res) {
		t.Fatalf("actor-only rule should match")
	}

	rule = ForcedReviewRule{Name: "r", ActorTypes: []string{"franchisee"}, Channels: []string{"chat"}}
	if rule.Matches(in, res) {
		t.Fatalf("fields are ANDed; channel mismatch must fail")
	}

	rule = ForcedReviewRule{Name: "r", Contains: []string{"corporate"}}
	if !rule.Matches(in, res) {
		t.Fatalf("substring rule should match")
	}

	// A rule with no predicates matches nothing rather than everything.
	if (ForcedReviewRule{Name: "empty"}).Matches(in, res) {
		t.Fatalf("empty rule must not match")
	}
}
