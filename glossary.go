package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Glossary is an operator-maintained list of phrases that pin a ticket
// type regardless of what the classifier would have said. Pinned labels
// carry confidence 0.99 and flow through the normal classification
// history like any other result.
type Glossary struct {
	Terms []GlossaryTerm `yaml:"terms"`
}

type GlossaryTerm struct {
	Phrase     string `yaml:"phrase"`
	TicketType string `yaml:"ticket_type"`
}

func LoadGlossary(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse glossary yaml: %w", err)
	}
	for _, term := range g.Terms {
		if !TicketType(strings.TrimSpace(term.TicketType)).Valid() {
			return nil, fmt.Errorf("glossary phrase %q: unknown ticket_type %q", term.Phrase, term.TicketType)
		}
	}
	return &g, nil
}

// TicketTypeFor returns the pinned ticket type for text containing a
// glossary phrase. A nil glossary matches nothing.
func (g *Glossary) TicketTypeFor(text string) (TicketType, bool) {
	if g == nil {
		return "", false
	}
	lowered := strings.ToLower(text)
	for _, term := range g.Terms {
		phrase := strings.ToLower(strings.TrimSpace(term.Phrase))
		if phrase != "" && strings.Contains(lowered, phrase) {
			return TicketType(strings.TrimSpace(term.TicketType)), true
		}
	}
	return "", false
}

// AppendGlossaryTerm adds a phrase pin, skipping duplicates.
func AppendGlossaryTerm(path, phrase string, ticketType TicketType) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" || !ticketType.Valid() {
		return nil
	}

	var glossary Glossary
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &glossary); err != nil {
			return fmt.Errorf("parse existing glossary: %w", err)
		}
	}

	normalized := strings.ToLower(phrase)
	for _, t := range glossary.Terms {
		if strings.ToLower(strings.TrimSpace(t.Phrase)) == normalized {
			return nil // already exists
		}
	}

	glossary.Terms = append(glossary.Terms, GlossaryTerm{
		Phrase:     phrase,
		TicketType: string(ticketType),
	})
	out, err := yaml.Marshal(&glossary)
	if err != nil {
		return fmt.Errorf("marshal glossary: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}
