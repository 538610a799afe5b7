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
)

const clickupTitleLimit = 80

// clickupClient creates ClickUp tasks for auto-routed interactions. One
// list per deployment; the destination queue travels as a tag so list
// automations can fan tasks out.
type clickupClient struct {
	token   string
	listID  string
	baseURL string
	http    *http.Client
}

func newClickUpClient(cfg Config) *clickupClient {
	return &clickupClient{
		token:   cfg.ClickUpToken,
		listID:  cfg.ClickUpListID,
		baseURL: "https://api.clickup.com",
		http:    externalHTTPClient,
	}
}

type clickupTaskRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Priority    int      `json:"priority,omitempty"`
}

// clickupPriority maps our priority labels onto ClickUp's 1 (urgent) to
// 4 (low) scale.
func clickupPriority(p string) int {
	switch Priority(p) {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 3
	case PriorityLow:
		return 4
	}
	return 0
}

func (c *clickupClient) CreateTask(ctx context.Context, in Interaction, destination string, metadata map[string]string) error {
	title := strings.TrimSpace(in.NormalizedText)
	if title == "" {
		title = "Interaction " + in.ID
	}
	if len(title) > clickupTitleLimit {
		title = title[:clickupTitleLimit] + "..."
	}

	var desc strings.Builder
	desc.WriteString(fmt.Sprintf("Interaction: %s\nChannel: %s\nReceived: %s\n",
		in.ID, in.SourceChannel, in.ReceivedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	if in.ActorHint != "" {
		desc.WriteString("Actor hint: " + in.ActorHint + "\n")
	}
	if len(metadata) > 0 {
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		desc.WriteString("\n")
		for _, k := range keys {
			desc.WriteString(fmt.Sprintf("%s: %s\n", k, metadata[k]))
		}
	}
	desc.WriteString("\n---\n" + in.NormalizedText)

	task := clickupTaskRequest{
		Name:        title,
		Description: desc.String(),
		Tags:        []string{destination},
		Priority:    clickupPriority(metadata["priority"]),
	}
	if tt := metadata["ticket_type"]; tt != "" && tt != destination {
		task.Tags = append(task.Tags, tt)
	}

	bodyBytes, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/api/v2/list/%s/task", c.baseURL, c.listID), bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ClickUp API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ClickUp create task: status %d: %s", resp.StatusCode, truncateForLog(string(respBody)))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err == nil && created.ID != "" {
		log.Printf("clickup task created task=%s interaction=%s destination=%s", created.ID, in.ID, destination)
	}
	return nil
}
