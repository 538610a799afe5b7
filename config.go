package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ForcedReviewRule sends matching interactions to manual review regardless
// of classifier confidence. Fields are ANDed within a rule; rules are ORed.
type ForcedReviewRule struct {
	Name        string   `yaml:"name"`
	ActorTypes  []string `yaml:"actor_types"`
	TicketTypes []string `yaml:"ticket_types"`
	Channels    []string `yaml:"channels"`
	Contains    []string `yaml:"contains"` // substring match on normalized text
}

// Matches reports whether the rule applies to the given interaction and
// classification.
func (r ForcedReviewRule) Matches(in Interaction, res ClassificationResult) bool {
	if len(r.ActorTypes) > 0 && !containsFold(r.ActorTypes, string(res.ActorType)) {
		return false
	}
	if len(r.TicketTypes) > 0 && !containsFold(r.TicketTypes, string(res.TicketType)) {
		return false
	}
	if len(r.Channels) > 0 && !containsFold(r.Channels, string(in.SourceChannel)) {
		return false
	}
	if len(r.Contains) > 0 {
		text := strings.ToLower(in.NormalizedText)
		matched := false
		for _, phrase := range r.Contains {
			phrase = strings.ToLower(strings.TrimSpace(phrase))
			if phrase != "" && strings.Contains(text, phrase) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	// A rule with no predicates matches nothing rather than everything.
	return len(r.ActorTypes) > 0 || len(r.TicketTypes) > 0 || len(r.Channels) > 0 || len(r.Contains) > 0
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(strings.TrimSpace(s), needle) {
			return true
		}
	}
	return false
}

type Config struct {
	DBPath string `yaml:"db_path"`

	// Classifier
	LLMProvider            string  `yaml:"llm_provider"` // "", "anthropic", or "openai"
	LLMModel               string  `yaml:"llm_model"`
	AnthropicAPIKey        string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey           string  `yaml:"openai_api_key"`
	ClassifyTimeoutSeconds int     `yaml:"classify_timeout_seconds"`
	TieBreakEpsilon        float64 `yaml:"tie_break_epsilon"`
	GlossaryPath           string  `yaml:"glossary_path"`

	// Routing thresholds, independently tunable per category.
	ActorThreshold    float64 `yaml:"actor_threshold"`
	TicketThreshold   float64 `yaml:"ticket_threshold"`
	PriorityThreshold float64 `yaml:"priority_threshold"`
	SpamThreshold     float64 `yaml:"spam_threshold"`

	ForcedReview       []ForcedReviewRule `yaml:"forced_review"`
	Destinations       map[string]string  `yaml:"destinations"` // ticket_type -> destination queue
	DefaultDestination string             `yaml:"default_destination"`
	ReviewQueue        string             `yaml:"review_queue"`

	// Feedback loop
	AccuracyWindow int `yaml:"accuracy_window"` // trailing resolved interactions

	// Egress retry
	EgressMaxRetries    int `yaml:"egress_max_retries"`
	EgressBaseBackoffMs int `yaml:"egress_base_backoff_ms"`
	EgressMaxBackoffMs  int `yaml:"egress_max_backoff_ms"`

	// Integrations
	SlackBotToken   string `yaml:"slack_bot_token"`
	AlertChannelID  string `yaml:"alert_channel_id"`
	ReviewChannelID string `yaml:"review_channel_id"`

	ZohoClientID     string `yaml:"zoho_client_id"`
	ZohoClientSecret string `yaml:"zoho_client_secret"`
	ZohoRefreshToken string `yaml:"zoho_refresh_token"`
	ZohoOrgID        string `yaml:"zoho_org_id"`

	ClickUpToken  string `yaml:"clickup_token"`
	ClickUpListID string `yaml:"clickup_list_id"`

	// Schedules are 5-field cron expressions; empty disables the job.
	ZohoPollSchedule   string `yaml:"zoho_poll_schedule"`
	RetrySweepSchedule string `yaml:"retry_sweep_schedule"`
	DigestSchedule     string `yaml:"digest_schedule"`

	Timezone string `yaml:"timezone"`
	Location *time.Location
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.ClassifyTimeoutSeconds, "CLASSIFY_TIMEOUT_SECONDS")
	envOverrideFloat(&cfg.TieBreakEpsilon, "TIE_BREAK_EPSILON")
	envOverride(&cfg.GlossaryPath, "GLOSSARY_PATH")
	envOverrideFloat(&cfg.ActorThreshold, "ACTOR_THRESHOLD")
	envOverrideFloat(&cfg.TicketThreshold, "TICKET_THRESHOLD")
	envOverrideFloat(&cfg.PriorityThreshold, "PRIORITY_THRESHOLD")
	envOverrideFloat(&cfg.SpamThreshold, "SPAM_THRESHOLD")
	envOverride(&cfg.DefaultDestination, "DEFAULT_DESTINATION")
	envOverride(&cfg.ReviewQueue, "REVIEW_QUEUE")
	envOverrideInt(&cfg.AccuracyWindow, "ACCURACY_WINDOW")
	envOverrideInt(&cfg.EgressMaxRetries, "EGRESS_MAX_RETRIES")
	envOverrideInt(&cfg.EgressBaseBackoffMs, "EGRESS_BASE_BACKOFF_MS")
	envOverrideInt(&cfg.EgressMaxBackoffMs, "EGRESS_MAX_BACKOFF_MS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.AlertChannelID, "ALERT_CHANNEL_ID")
	envOverride(&cfg.ReviewChannelID, "REVIEW_CHANNEL_ID")
	envOverride(&cfg.ZohoClientID, "ZOHO_CLIENT_ID")
	envOverride(&cfg.ZohoClientSecret, "ZOHO_CLIENT_SECRET")
	envOverride(&cfg.ZohoRefreshToken, "ZOHO_REFRESH_TOKEN")
	envOverride(&cfg.ZohoOrgID, "ZOHO_ORG_ID")
	envOverride(&cfg.ClickUpToken, "CLICKUP_TOKEN")
	envOverride(&cfg.ClickUpListID, "CLICKUP_LIST_ID")
	envOverride(&cfg.ZohoPollSchedule, "ZOHO_POLL_SCHEDULE")
	envOverride(&cfg.RetrySweepSchedule, "RETRY_SWEEP_SCHEDULE")
	envOverride(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "./triagehub.db"
	}
	if cfg.ClassifyTimeoutSeconds == 0 {
		cfg.ClassifyTimeoutSeconds = 20
	}
	if cfg.TieBreakEpsilon == 0 {
		cfg.TieBreakEpsilon = 0.05
	}
	if cfg.ActorThreshold == 0 {
		cfg.ActorThreshold = 0.85
	}
	if cfg.TicketThreshold == 0 {
		cfg.TicketThreshold = 0.90
	}
	if cfg.PriorityThreshold == 0 {
		cfg.PriorityThreshold = 0.70
	}
	if cfg.SpamThreshold == 0 {
		cfg.SpamThreshold = 0.95
	}
	if cfg.DefaultDestination == "" {
		cfg.DefaultDestination = "general"
	}
	if cfg.ReviewQueue == "" {
		cfg.ReviewQueue = "guest-services-review"
	}
	if cfg.AccuracyWindow == 0 {
		cfg.AccuracyWindow = 200
	}
	if cfg.EgressMaxRetries == 0 {
		cfg.EgressMaxRetries = 3
	}
	if cfg.EgressBaseBackoffMs == 0 {
		cfg.EgressBaseBackoffMs = 200
	}
	if cfg.EgressMaxBackoffMs == 0 {
		cfg.EgressMaxBackoffMs = 5000
	}
	if cfg.EgressMaxBackoffMs < cfg.EgressBaseBackoffMs {
		cfg.EgressMaxBackoffMs = cfg.EgressBaseBackoffMs
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	// Validate
	switch cfg.LLMProvider {
	case "":
		// Rule-based classification only.
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be '', 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	for _, pair := range []struct {
		name string
		val  float64
	}{
		{"actor_threshold", cfg.ActorThreshold},
		{"ticket_threshold", cfg.TicketThreshold},
		{"priority_threshold", cfg.PriorityThreshold},
		{"spam_threshold", cfg.SpamThreshold},
		{"tie_break_epsilon", cfg.TieBreakEpsilon},
	} {
		if pair.val < 0 || pair.val > 1 {
			log.Fatalf("invalid %s '%f': must be between 0 and 1", pair.name, pair.val)
		}
	}
	if cfg.AccuracyWindow < 1 {
		log.Fatalf("invalid accuracy_window '%d': must be >= 1", cfg.AccuracyWindow)
	}
	if cfg.EgressMaxRetries < 0 {
		log.Fatalf("invalid egress_max_retries '%d': must be >= 0", cfg.EgressMaxRetries)
	}
	for i, rule := range cfg.ForcedReview {
		if strings.TrimSpace(rule.Name) == "" {
			log.Fatalf("forced_review rule %d has no name", i)
		}
		for _, a := range rule.ActorTypes {
			if !ActorType(strings.ToLower(strings.TrimSpace(a))).Valid() {
				log.Fatalf("forced_review rule '%s': unknown actor_type '%s'", rule.Name, a)
			}
		}
		for _, tt := range rule.TicketTypes {
			if !TicketType(strings.ToLower(strings.TrimSpace(tt))).Valid() {
				log.Fatalf("forced_review rule '%s': unknown ticket_type '%s'", rule.Name, tt)
			}
		}
	}
	for ticketType := range cfg.Destinations {
		if !TicketType(ticketType).Valid() {
			log.Fatalf("destinations: unknown ticket_type '%s'", ticketType)
		}
	}
	if cfg.GlossaryPath != "" {
		if _, err := LoadGlossary(cfg.GlossaryPath); err != nil {
			log.Fatalf("invalid glossary_path '%s': %v", cfg.GlossaryPath, err)
		}
	}
	if (cfg.AlertChannelID != "" || cfg.ReviewChannelID != "") && cfg.SlackBotToken == "" {
		log.Fatalf("slack_bot_token is required when alert_channel_id or review_channel_id is set")
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	return cfg
}

// Threshold returns the configured confidence threshold for a category.
func (c Config) Threshold(cat Category) float64 {
	switch cat {
	case CategoryActor:
		return c.ActorThreshold
	case CategoryTicket:
		return c.TicketThreshold
	case CategoryPriority:
		return c.PriorityThreshold
	}
	return 1.0
}

// Destination maps a ticket type to its routing destination.
func (c Config) Destination(t TicketType) string {
	if dest, ok := c.Destinations[string(t)]; ok && dest != "" {
		return dest
	}
	return c.DefaultDestination
}

func (c Config) ZohoConfigured() bool {
	return c.ZohoClientID != "" && c.ZohoClientSecret != "" && c.ZohoRefreshToken != ""
}

func (c Config) ClickUpConfigured() bool {
	return c.ClickUpToken != "" && c.ClickUpListID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
