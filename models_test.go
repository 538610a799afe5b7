package main

import "testing"

func TestInteractionStateTerminal(t *testing.T) {
	terminal := []InteractionState{StateAutoRouted, StateUnderReview, StateRejectedSpam, StateResolved}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []InteractionState{StatePending, StateClassified} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	order := []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if Priority("whatever").Valid() {
		t.Fatalf("unknown priority must be invalid")
	}
}

func TestClassificationResultAccessors(t *testing.T) {
	r := ClassificationResult{
		ActorType: ActorFranchisee, TicketType: TicketSprayTan, Priority: PriorityHigh,
		ActorConfidence: 0.1, TicketConfidence: 0.2, PriorityConfidence: 0.3,
	}
	if r.Label(CategoryActor) != "franchisee" || r.Confidence(CategoryActor) != 0.1 {
		t.Fatalf("actor accessor broken")
	}
	if r.Label(CategoryTicket) != "spray_tan" || r.Confidence(CategoryTicket) != 0.2 {
		t.Fatalf("ticket accessor broken")
	}
	if r.Label(CategoryPriority) != "high" || r.Confidence(CategoryPriority) != 0.3 {
		t.Fatalf("priority accessor broken")
	}
}

func TestOverrideRecordCorrected(t *testing.T) {
	o := OverrideRecord{CorrectedTicketType: TicketSpam}
	if o.Empty() {
		t.Fatalf("override with a correction is not empty")
	}
	if _, ok := o.Corrected(CategoryActor); ok {
		t.Fatalf("actor was not corrected")
	}
	label, ok := o.Corrected(CategoryTicket)
	if !ok || label != "spam" {
		t.Fatalf("unexpected correction: %s/%v", label, ok)
	}
	if !(OverrideRecord{}).Empty() {
		t.Fatalf("zero override must be empty")
	}
}
