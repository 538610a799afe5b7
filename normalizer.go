package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedChannel means the source channel is not a recognized value.
	ErrUnsupportedChannel = errors.New("unsupported source channel")
	// ErrEmptyContent means normalization produced no text. The interaction
	// is still persisted, flagged, so true empties are distinguishable from
	// extraction failures and nothing is silently dropped.
	ErrEmptyContent = errors.New("empty content after normalization")
)

// NormalizeInteraction converts a source payload into the canonical
// interaction form. Derivation of NormalizedText is deterministic: the
// same payload always yields byte-identical text. On ErrEmptyContent the
// returned interaction is still valid (flagged) and must be persisted.
func NormalizeInteraction(channel SourceChannel, rawPayload string, receivedAt time.Time, actorHint string) (Interaction, error) {
	if !channel.Valid() {
		return Interaction{}, fmt.Errorf("%w: %q", ErrUnsupportedChannel, channel)
	}

	var text string
	switch channel {
	case ChannelCall:
		text = flattenTranscript(rawPayload)
	case ChannelEmail:
		text = extractEmailBody(rawPayload)
	case ChannelChat:
		text = flattenChat(rawPayload)
	case ChannelTicket:
		text = flattenTicketThread(rawPayload)
	}

	in := Interaction{
		ID:             uuid.NewString(),
		SourceChannel:  channel,
		RawPayload:     rawPayload,
		NormalizedText: text,
		ActorHint:      strings.TrimSpace(actorHint),
		ReceivedAt:     receivedAt,
	}

	if text == "" {
		in.EmptyContent = true
		return in, ErrEmptyContent
	}
	return in, nil
}

type transcriptTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// flattenTranscript renders a call transcript as "speaker: text" lines.
// Accepts either a JSON array of turns or plain text.
func flattenTranscript(raw string) string {
	var turns []transcriptTurn
	if err := json.Unmarshal([]byte(raw), &turns); err == nil {
		var lines []string
		for _, turn := range turns {
			text := collapseSpaces(turn.Text)
			if text == "" {
				continue
			}
			speaker := collapseSpaces(turn.Speaker)
			if speaker == "" {
				speaker = "unknown"
			}
			lines = append(lines, speaker+": "+text)
		}
		return strings.Join(lines, "\n")
	}
	return collapseLines(raw)
}

// extractEmailBody strips header lines, quoted replies, and the signature
// block from an email body.
func extractEmailBody(raw string) string {
	lines := strings.Split(raw, "\n")

	// Skip an initial header block: "Name: value" lines up to the first
	// blank line. Bodies without headers pass through untouched.
	start := 0
	if headerBlockEnd := findHeaderBlockEnd(lines); headerBlockEnd > 0 {
		start = headerBlockEnd
	}

	var kept []string
	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "--" {
			break // signature delimiter
		}
		if strings.HasPrefix(trimmed, ">") {
			continue // quoted reply
		}
		if strings.HasPrefix(strings.ToLower(trimmed), "on ") && strings.HasSuffix(trimmed, "wrote:") {
			continue // reply attribution line
		}
		if trimmed == "" {
			continue
		}
		kept = append(kept, collapseSpaces(trimmed))
	}
	return strings.Join(kept, "\n")
}

var emailHeaderPrefixes = []string{"from:", "to:", "cc:", "subject:", "date:", "reply-to:", "sent:"}

func findHeaderBlockEnd(lines []string) int {
	sawHeader := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		if trimmed == "" {
			if sawHeader {
				return i + 1
			}
			return 0
		}
		isHeader := false
		for _, prefix := range emailHeaderPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				isHeader = true
				break
			}
		}
		if !isHeader {
			return 0
		}
		sawHeader = true
	}
	return 0
}

type chatMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// flattenChat renders a chat log as "sender: message" lines. Accepts a
// JSON array of messages or plain text.
func flattenChat(raw string) string {
	var msgs []chatMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err == nil {
		var lines []string
		for _, m := range msgs {
			text := collapseSpaces(m.Message)
			if text == "" {
				continue
			}
			sender := collapseSpaces(m.Sender)
			if sender == "" {
				sender = "visitor"
			}
			lines = append(lines, sender+": "+text)
		}
		return strings.Join(lines, "\n")
	}
	return collapseLines(raw)
}

type ticketPayload struct {
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Thread      []string `json:"thread"`
}

// flattenTicketThread concatenates a ticket's subject, description, and
// thread entries into one text. Subject and description are joined the
// way downstream classification expects them.
func flattenTicketThread(raw string) string {
	var t ticketPayload
	if err := json.Unmarshal([]byte(raw), &t); err == nil && (t.Subject != "" || t.Description != "" || len(t.Thread) > 0) {
		var parts []string
		head := collapseSpaces(strings.TrimSpace(t.Subject + " " + t.Description))
		if head != "" {
			parts = append(parts, head)
		}
		for _, entry := range t.Thread {
			entry = collapseSpaces(entry)
			if entry != "" {
				parts = append(parts, entry)
			}
		}
		return strings.Join(parts, "\n")
	}
	return collapseLines(raw)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func collapseLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = collapseSpaces(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
