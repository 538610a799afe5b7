package main

import (
	"strings"
	"testing"
)

func TestParseLabelResponse(t *testing.T) {
	parsed, err := parseLabelResponse(`{"label":"refund","confidence":0.91,"runner_up":"cancellation","runner_up_confidence":0.88}`)
	if err != nil {
		t.Fatalf("parseLabelResponse failed: %v", err)
	}
	if parsed.Label != "refund" || parsed.Confidence != 0.91 {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
	if parsed.RunnerUp != "cancellation" || parsed.RunnerUpConfidence != 0.88 {
		t.Fatalf("unexpected runner-up: %+v", parsed)
	}
}

func TestParseLabelResponseStripsCodeFences(t *testing.T) {
	parsed, err := parseLabelResponse("```json\n{\"label\":\"spam\",\"confidence\":0.99}\n```")
	if err != nil {
		t.Fatalf("parseLabelResponse failed: %v", err)
	}
	if parsed.Label != "spam" {
		t.Fatalf("unexpected label: %s", parsed.Label)
	}
}

func TestParseLabelResponseTruncatedError(t *testing.T) {
	_, err := parseLabelResponse(`{"label":"refu`)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if !strings.Contains(err.Error(), "parsing LLM label response") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCategoryLabelsComplete(t *testing.T) {
	if got := len(categoryLabels(CategoryActor)); got != len(actorTypes) {
		t.Fatalf("actor label list incomplete: %d", got)
	}
	if got := len(categoryLabels(CategoryTicket)); got != len(ticketTypes) {
		t.Fatalf("ticket label list incomplete: %d", got)
	}
	if got := len(categoryLabels(CategoryPriority)); got != 4 {
		t.Fatalf("priority label list incomplete: %d", got)
	}
}

type staticCorrections struct {
	corrections []LabelCorrection
}

func (s staticCorrections) RecentCorrections(cat Category, limit int) []LabelCorrection {
	return s.corrections
}

func TestBuildPromptsIncludeCorrectionsAndTruncation(t *testing.T) {
	client := &llmClient{
		provider: "anthropic",
		model:    defaultAnthropicModel,
		corrections: staticCorrections{corrections: []LabelCorrection{
			{Text: "cancel my spray tan package", Original: "cancellation", Corrected: "spray_tan"},
		}},
	}
	sub := &llmCategoryClassifier{client: client, category: CategoryTicket}

	in := Interaction{
		ID:             "i1",
		SourceChannel:  ChannelEmail,
		ActorHint:      "existing_member",
		NormalizedText: strings.Repeat("x", maxClassifyChars+500),
	}
	system, user := sub.buildPrompts(in)

	if !strings.Contains(system, "ticket type") || !strings.Contains(system, "- refund") {
		t.Fatalf("system prompt missing label list:\n%s", system)
	}
	if !strings.Contains(user, "corrected to spray_tan") {
		t.Fatalf("user prompt missing corrections:\n%s", user)
	}
	if !strings.Contains(user, "Known actor hint: existing_member") {
		t.Fatalf("user prompt missing actor hint")
	}
	if !strings.Contains(user, "(truncated)") {
		t.Fatalf("oversized text must be truncated")
	}
}

func TestLLMUsageAccumulatesAcrossCalls(t *testing.T) {
	c := &llmClient{provider: "anthropic", model: defaultAnthropicModel}
	c.recordUsage(LLMUsage{InputTokens: 100, OutputTokens: 20, CacheReadInputTokens: 50})
	total := c.recordUsage(LLMUsage{InputTokens: 40, OutputTokens: 10})

	if total.InputTokens != 140 || total.OutputTokens != 30 {
		t.Fatalf("unexpected totals: %+v", total)
	}
	if total.CacheReadInputTokens != 50 {
		t.Fatalf("cache reads must accumulate, got %d", total.CacheReadInputTokens)
	}
	if total.TotalTokens() != 170 {
		t.Fatalf("expected 170 total tokens, got %d", total.TotalTokens())
	}
}

func TestLLMClientVersion(t *testing.T) {
	cfg := Config{LLMProvider: "openai", OpenAIAPIKey: "k"}
	c := newLLMClient(cfg, nil)
	if c.version() != "openai/"+defaultOpenAIModel {
		t.Fatalf("unexpected version: %s", c.version())
	}
	cfg = Config{LLMProvider: "anthropic", AnthropicAPIKey: "k", LLMModel: "custom-model"}
	c = newLLMClient(cfg, nil)
	if c.version() != "anthropic/custom-model" {
		t.Fatalf("unexpected version: %s", c.version())
	}
}
