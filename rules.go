package main

import (
	"context"
	"sort"
	"strings"
)

const ruleModelVersion = "rules-v1"

// keywordRule maps trigger phrases to a label with a base confidence.
// Additional distinct phrase hits raise confidence slightly.
type keywordRule struct {
	label      string
	phrases    []string
	confidence float64
}

func (r keywordRule) score(text string) (float64, bool) {
	hits := 0
	for _, phrase := range r.phrases {
		if strings.Contains(text, phrase) {
			hits++
		}
	}
	if hits == 0 {
		return 0, false
	}
	conf := r.confidence + 0.03*float64(hits-1)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf, true
}

func evalRules(rules []keywordRule, text string, fallback string) []Label {
	text = strings.ToLower(text)
	var candidates []Label
	for _, rule := range rules {
		if conf, ok := rule.score(text); ok {
			candidates = append(candidates, Label{Value: rule.label, Confidence: conf})
		}
	}
	if len(candidates) == 0 {
		// Confidence 0 means "no signal", not "confident negative".
		return []Label{{Value: fallback, Confidence: 0}}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

var ticketRules = []keywordRule{
	{string(TicketCancellation), []string{"cancel", "cancellation", "unsubscribe", "end my account", "close my account", "end my membership"}, 0.85},
	{string(TicketRefund), []string{"refund", "money back", "reimburse", "charge back"}, 0.85},
	{string(TicketAccountPayment), []string{"billing", "charge", "invoice", "overcharged", "double charge", "update card", "new card", "payment method", "credit card", "past due"}, 0.80},
	{string(TicketPromotional), []string{"promotion", "promo code", "coupon", "discount", "special offer", "free month", "gift card"}, 0.75},
	{string(TicketTechnicalSupport), []string{"not working", "error", "problem", "broken", "password", "reset", "forgot", "login issue", "can't log in", "cannot log in", "app issue"}, 0.75},
	{string(TicketSprayTan), []string{"spray tan", "sunless", "airbrush", "bronzer", "tan faded", "tanning bed"}, 0.85},
	{string(TicketReview), []string{"review", "google review", "yelp", "feedback", "survey", "rate your"}, 0.70},
	{string(TicketSpam), []string{"seo services", "web design services", "guest post", "link building", "extended warranty", "press release", "business loan", "crypto investment", "final notice"}, 0.90},
}

var actorRules = []keywordRule{
	{string(ActorFranchisee), []string{"franchise", "franchisee", "my location", "my studio", "royalty", "territory"}, 0.85},
	{string(ActorApplicant), []string{"application", "applying", "resume", "job opening", "position", "interview", "hiring"}, 0.80},
	{string(ActorFormerEmployee), []string{"former employee", "used to work", "last paycheck", "final paycheck", "w-2", "w2 form"}, 0.85},
	{string(ActorCurrentEmployee), []string{"my shift", "schedule swap", "time off", "payroll", "employee portal", "clock in"}, 0.75},
	{string(ActorReturningClient), []string{"rejoin", "re-join", "returning", "come back", "reactivate", "was a member"}, 0.75},
	{string(ActorExistingMember), []string{"my membership", "my account", "my plan", "member since", "monthly membership", "my subscription"}, 0.70},
	{string(ActorNewClient), []string{"sign up", "signup", "join", "new member", "first visit", "interested in a membership", "pricing"}, 0.70},
	{string(ActorExternalSpam), []string{"seo services", "web design services", "guest post", "link building", "press release", "business proposal"}, 0.90},
}

var priorityRules = []keywordRule{
	// Escalation language always outranks topical urgency.
	{string(PriorityUrgent), []string{"angry", "furious", "legal", "lawsuit", "attorney", "escalate", "manager", "unresolved", "fraud", "unauthorized charge", "complaint"}, 0.90},
	{string(PriorityHigh), []string{"urgent", "asap", "immediately", "right away", "today", "locked out", "cannot access"}, 0.80},
	{string(PriorityLow), []string{"newsletter", "just curious", "whenever", "no rush", "general question"}, 0.70},
}

// ruleTicketClassifier maps keyword triggers to ticket types, ported from
// the support-ticket intent mapping the hub was seeded with.
type ruleTicketClassifier struct {
	glossary *Glossary
}

func (c *ruleTicketClassifier) Name() string { return "rules/ticket" }

func (c *ruleTicketClassifier) Classify(ctx context.Context, in Interaction) ([]Label, error) {
	if pinned, ok := c.glossary.TicketTypeFor(in.NormalizedText); ok {
		return []Label{{Value: string(pinned), Confidence: 0.99}}, nil
	}
	return evalRules(ticketRules, in.NormalizedText, string(TicketOther)), nil
}

type ruleActorClassifier struct{}

func (c *ruleActorClassifier) Name() string { return "rules/actor" }

func (c *ruleActorClassifier) Classify(ctx context.Context, in Interaction) ([]Label, error) {
	// A pre-known actor hint is a strong prior.
	if hint := ActorType(strings.ToLower(in.ActorHint)); hint.Valid() {
		return []Label{{Value: string(hint), Confidence: 0.90}}, nil
	}
	return evalRules(actorRules, in.NormalizedText, string(ActorUnknown)), nil
}

type rulePriorityClassifier struct{}

func (c *rulePriorityClassifier) Name() string { return "rules/priority" }

func (c *rulePriorityClassifier) Classify(ctx context.Context, in Interaction) ([]Label, error) {
	candidates := evalRules(priorityRules, in.NormalizedText, string(PriorityNormal))
	if candidates[0].Confidence == 0 {
		// No urgency signal either way: normal with moderate confidence,
		// so an otherwise confident classification can still auto-route.
		candidates[0].Confidence = 0.75
	}
	return candidates, nil
}
