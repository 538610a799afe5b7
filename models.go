package main

import "time"

// SourceChannel identifies where an interaction came from.
type SourceChannel string

const (
	ChannelCall   SourceChannel = "call"
	ChannelEmail  SourceChannel = "email"
	ChannelChat   SourceChannel = "chat"
	ChannelTicket SourceChannel = "ticket"
)

func (c SourceChannel) Valid() bool {
	switch c {
	case ChannelCall, ChannelEmail, ChannelChat, ChannelTicket:
		return true
	}
	return false
}

// ActorType is who the interaction is with.
type ActorType string

const (
	ActorNewClient       ActorType = "new_client"
	ActorExistingMember  ActorType = "existing_member"
	ActorReturningClient ActorType = "returning_client"
	ActorCurrentEmployee ActorType = "current_employee"
	ActorApplicant       ActorType = "applicant"
	ActorFormerEmployee  ActorType = "former_employee"
	ActorFranchisee      ActorType = "franchisee"
	ActorExternalSpam    ActorType = "external_spam"
	ActorUnknown         ActorType = "unknown"
)

var actorTypes = []ActorType{
	ActorNewClient, ActorExistingMember, ActorReturningClient,
	ActorCurrentEmployee, ActorApplicant, ActorFormerEmployee,
	ActorFranchisee, ActorExternalSpam, ActorUnknown,
}

func (a ActorType) Valid() bool {
	for _, t := range actorTypes {
		if a == t {
			return true
		}
	}
	return false
}

// TicketType is the categorical reason/topic of an interaction.
type TicketType string

const (
	TicketCancellation     TicketType = "cancellation"
	TicketRefund           TicketType = "refund"
	TicketAccountPayment   TicketType = "account_payment"
	TicketPromotional      TicketType = "promotional"
	TicketTechnicalSupport TicketType = "technical_support"
	TicketSprayTan         TicketType = "spray_tan"
	TicketReview           TicketType = "review"
	TicketSpam             TicketType = "spam"
	TicketOther            TicketType = "other"
)

var ticketTypes = []TicketType{
	TicketCancellation, TicketRefund, TicketAccountPayment,
	TicketPromotional, TicketTechnicalSupport, TicketSprayTan,
	TicketReview, TicketSpam, TicketOther,
}

func (t TicketType) Valid() bool {
	for _, tt := range ticketTypes {
		if t == tt {
			return true
		}
	}
	return false
}

// Priority is an ordered urgency level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	}
	return -1
}

func (p Priority) Valid() bool { return p.Rank() >= 0 }

// Category names one of the three classification dimensions.
type Category string

const (
	CategoryActor    Category = "actor_type"
	CategoryTicket   Category = "ticket_type"
	CategoryPriority Category = "priority"
)

var categories = []Category{CategoryActor, CategoryTicket, CategoryPriority}

// InteractionState tracks where an interaction is in its lifecycle.
type InteractionState string

const (
	StatePending      InteractionState = "pending"
	StateClassified   InteractionState = "classified"
	StateAutoRouted   InteractionState = "auto_routed"
	StateUnderReview  InteractionState = "under_review"
	StateRejectedSpam InteractionState = "rejected_spam"
	StateResolved     InteractionState = "resolved"
)

// Terminal states can only be left by a manual override, which reopens
// the interaction to under_review.
func (s InteractionState) Terminal() bool {
	switch s {
	case StateAutoRouted, StateUnderReview, StateRejectedSpam, StateResolved:
		return true
	}
	return false
}

// Interaction is the canonical unit of work. Immutable once normalized;
// annotations (classifications, decisions, overrides) attach via separate
// append-only records.
type Interaction struct {
	ID             string
	DedupKey       string // externally-supplied idempotency key
	SourceChannel  SourceChannel
	RawPayload     string
	NormalizedText string
	ActorHint      string // pre-known actor classification, used as a classifier prior
	EmptyContent   bool   // normalization produced no text; flagged, never dropped
	SourceClosed   bool   // upstream ticket deleted/closed; decisions are discarded
	ReceivedAt     time.Time
	CreatedAt      time.Time
}

// ClassificationResult is one classifier pass over an interaction.
// Results form an append-only sequence per interaction; re-classification
// appends, never overwrites.
type ClassificationResult struct {
	ID                 int64
	InteractionID      string
	Seq                int
	ActorType          ActorType
	TicketType         TicketType
	Priority           Priority
	ActorConfidence    float64
	TicketConfidence   float64
	PriorityConfidence float64
	ModelVersion       string
	ClassifiedAt       time.Time
}

// Confidence returns the score for one category.
func (r ClassificationResult) Confidence(cat Category) float64 {
	switch cat {
	case CategoryActor:
		return r.ActorConfidence
	case CategoryTicket:
		return r.TicketConfidence
	case CategoryPriority:
		return r.PriorityConfidence
	}
	return 0
}

// Label returns the assigned label for one category.
func (r ClassificationResult) Label(cat Category) string {
	switch cat {
	case CategoryActor:
		return string(r.ActorType)
	case CategoryTicket:
		return string(r.TicketType)
	case CategoryPriority:
		return string(r.Priority)
	}
	return ""
}

// RoutingAction is what the router decided to do with an interaction.
type RoutingAction string

const (
	ActionAutoRoute      RoutingAction = "auto_route"
	ActionQueueForReview RoutingAction = "queue_for_review"
	ActionRejectSpam     RoutingAction = "reject_as_spam"
	// ActionDiscarded records a decision that was computed after the
	// source-side ticket closed; logged for audit, never acted on.
	ActionDiscarded RoutingAction = "discarded"
)

// Reason codes for routing decisions.
const (
	ReasonThresholdMet          = "threshold_met"
	ReasonBelowThreshold        = "below_threshold"
	ReasonRuleMatched           = "rule_matched"
	ReasonSpamThreshold         = "spam_threshold"
	ReasonClassifierUnavailable = "classifier_unavailable"
	ReasonSourceClosed          = "source_closed"
	ReasonOverride              = "override"
)

// RoutingDecision is the router's verdict for one classification.
type RoutingDecision struct {
	ID               int64
	InteractionID    string
	ClassificationID int64
	Action           RoutingAction
	Destination      string // non-empty only for auto_route
	ReasonCode       string
	Reason           string
	DecidedAt        time.Time
}

// OverrideRecord is a human correction against a classification. Any
// subset of the three labels may be corrected; empty means untouched.
// Overrides never delete the original result.
type OverrideRecord struct {
	ID                  int64
	InteractionID       string
	ClassificationID    int64
	CorrectedActorType  ActorType
	CorrectedTicketType TicketType
	CorrectedPriority   Priority
	OperatorID          string
	CorrectedAt         time.Time
}

// Corrected reports whether the override touched the given category and,
// if so, the corrected label.
func (o OverrideRecord) Corrected(cat Category) (string, bool) {
	switch cat {
	case CategoryActor:
		return string(o.CorrectedActorType), o.CorrectedActorType != ""
	case CategoryTicket:
		return string(o.CorrectedTicketType), o.CorrectedTicketType != ""
	case CategoryPriority:
		return string(o.CorrectedPriority), o.CorrectedPriority != ""
	}
	return "", false
}

// Empty reports whether the override corrects nothing.
func (o OverrideRecord) Empty() bool {
	return o.CorrectedActorType == "" && o.CorrectedTicketType == "" && o.CorrectedPriority == ""
}
