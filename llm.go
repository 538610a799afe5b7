package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"
const maxClassifyChars = 6000
const maxPromptCorrections = 15

// LabelCorrection is a past human correction surfaced to the model so it
// avoids repeating known mistakes.
type LabelCorrection struct {
	Text      string
	Original  string
	Corrected string
}

// CorrectionSource supplies recent corrections per category.
type CorrectionSource interface {
	RecentCorrections(cat Category, limit int) []LabelCorrection
}

type LLMUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

type llmClient struct {
	provider     string
	model        string
	anthropicKey string
	openaiKey    string
	corrections  CorrectionSource

	usageMu sync.Mutex
	usage   LLMUsage
}

func newLLMClient(cfg Config, corrections CorrectionSource) *llmClient {
	model := cfg.LLMModel
	if model == "" {
		if cfg.LLMProvider == "openai" {
			model = defaultOpenAIModel
		} else {
			model = defaultAnthropicModel
		}
	}
	return &llmClient{
		provider:     cfg.LLMProvider,
		model:        model,
		anthropicKey: cfg.AnthropicAPIKey,
		openaiKey:    cfg.OpenAIAPIKey,
		corrections:  corrections,
	}
}

func (c *llmClient) version() string {
	return c.provider + "/" + c.model
}

// recordUsage folds one call's token usage into the client's running
// totals and returns the accumulated figure for logging.
func (c *llmClient) recordUsage(u LLMUsage) LLMUsage {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.usage.Add(u)
	return c.usage
}

// forCategory exposes the shared client as an independent strategy for
// one category; each call classifies that category only, so the three
// strategies stay swappable.
func (c *llmClient) forCategory(cat Category) SubClassifier {
	return &llmCategoryClassifier{client: c, category: cat}
}

type llmCategoryClassifier struct {
	client   *llmClient
	category Category
}

func (l *llmCategoryClassifier) Name() string {
	return "llm/" + string(l.category)
}

type llmLabelResponse struct {
	Label              string  `json:"label"`
	Confidence         float64 `json:"confidence"`
	RunnerUp           string  `json:"runner_up"`
	RunnerUpConfidence float64 `json:"runner_up_confidence"`
}

func (l *llmCategoryClassifier) Classify(ctx context.Context, in Interaction) ([]Label, error) {
	systemPrompt, userPrompt := l.buildPrompts(in)

	var responseText string
	var usage LLMUsage
	var err error
	switch l.client.provider {
	case "openai":
		responseText, usage, err = callOpenAI(ctx, l.client.openaiKey, l.client.model, systemPrompt, userPrompt)
	default:
		responseText, usage, err = callAnthropic(ctx, l.client.anthropicKey, l.client.model, systemPrompt, userPrompt)
	}
	if err != nil {
		return nil, err
	}
	total := l.client.recordUsage(usage)
	log.Printf("llm classify category=%s interaction=%s tokens_in=%d tokens_out=%d total_tokens=%d",
		l.category, in.ID, usage.InputTokens, usage.OutputTokens, total.TotalTokens())

	parsed, err := parseLabelResponse(responseText)
	if err != nil {
		return nil, err
	}

	var labels []Label
	if value := strings.TrimSpace(strings.ToLower(parsed.Label)); value != "" {
		labels = append(labels, Label{Value: value, Confidence: clamp01(parsed.Confidence)})
	}
	if value := strings.TrimSpace(strings.ToLower(parsed.RunnerUp)); value != "" {
		labels = append(labels, Label{Value: value, Confidence: clamp01(parsed.RunnerUpConfidence)})
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no label in LLM response")
	}
	sort.SliceStable(labels, func(i, j int) bool { return labels[i].Confidence > labels[j].Confidence })
	return labels, nil
}

func (l *llmCategoryClassifier) buildPrompts(in Interaction) (string, string) {
	var labelLines strings.Builder
	for _, value := range categoryLabels(l.category) {
		labelLines.WriteString("- " + value + "\n")
	}

	correctionsBlock := ""
	if l.client.corrections != nil {
		corrections := l.client.corrections.RecentCorrections(l.category, maxPromptCorrections)
		if len(corrections) > 0 {
			var cb strings.Builder
			cb.WriteString("\nPast corrections (learn from these — avoid repeating these mistakes):\n")
			for _, c := range corrections {
				text := strings.TrimSpace(c.Text)
				if len(text) > 120 {
					text = text[:120] + "..."
				}
				cb.WriteString(fmt.Sprintf("- \"%s\" was classified as %s, corrected to %s\n", text, c.Original, c.Corrected))
			}
			correctionsBlock = cb.String()
		}
	}

	systemPrompt := fmt.Sprintf(`You classify guest-services interactions for a tanning salon franchise.
Assign exactly one %s label from:
%s
Also report a confidence between 0 and 1 (0 means no signal), and optionally
the runner-up label with its confidence when the choice is close.

Respond with JSON only (no markdown):
{"label": "...", "confidence": 0.91, "runner_up": "", "runner_up_confidence": 0}`,
		prettyCategory(l.category), labelLines.String())

	text := in.NormalizedText
	if len(text) > maxClassifyChars {
		text = text[:maxClassifyChars] + "\n...(truncated)"
	}
	userPrompt := fmt.Sprintf("Channel: %s\n", in.SourceChannel)
	if in.ActorHint != "" {
		userPrompt += fmt.Sprintf("Known actor hint: %s\n", in.ActorHint)
	}
	userPrompt += correctionsBlock + "\nClassify this interaction:\n\n" + text
	return systemPrompt, userPrompt
}

func categoryLabels(cat Category) []string {
	switch cat {
	case CategoryActor:
		out := make([]string, len(actorTypes))
		for i, a := range actorTypes {
			out[i] = string(a)
		}
		return out
	case CategoryTicket:
		out := make([]string, len(ticketTypes))
		for i, t := range ticketTypes {
			out[i] = string(t)
		}
		return out
	case CategoryPriority:
		return []string{string(PriorityLow), string(PriorityNormal), string(PriorityHigh), string(PriorityUrgent)}
	}
	return nil
}

func parseLabelResponse(responseText string) (llmLabelResponse, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var parsed llmLabelResponse
	if err := json.Unmarshal([]byte(responseText), &parsed); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return parsed, fmt.Errorf("parsing LLM label response: %w (response: %s)", err, truncated)
	}
	return parsed, nil
}

// --- Anthropic ---

func callAnthropic(ctx context.Context, apiKey, model, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func callOpenAI(ctx context.Context, apiKey, model, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", LLMUsage{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}

	if openAIResp.Error != nil {
		log.Printf("llm openai api error: %s", openAIResp.Error.Message)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return "", LLMUsage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := LLMUsage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}
	return openAIResp.Choices[0].Message.Content, usage, nil
}
