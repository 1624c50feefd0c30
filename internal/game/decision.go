package game

import "fmt"

// DecisionKind enumerates the moderator's possible rulings on a pending
// approval.
type DecisionKind string

const (
	// DecisionAccept applies the proposal as-is.
	DecisionAccept DecisionKind = "accept"
	// DecisionAcceptWithModification applies edited content and a partition
	// of the proposed tool calls into accepted and rejected subsets.
	DecisionAcceptWithModification DecisionKind = "accept_with_modification"
	// DecisionReject discards the proposal with feedback for regeneration.
	DecisionReject DecisionKind = "reject"
	// DecisionTakeOver replaces the proposal with moderator-authored content.
	DecisionTakeOver DecisionKind = "take_over"
)

func (k *DecisionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "accept":
		*k = DecisionAccept
	case "accept_with_modification":
		*k = DecisionAcceptWithModification
	case "reject":
		*k = DecisionReject
	case "take_over":
		*k = DecisionTakeOver
	default:
		return fmt.Errorf("unknown decision kind: %s", text)
	}
	return nil
}

// Decision is a moderator ruling on one pending approval. It applies exactly
// once; consuming it removes the approval from the pending store.
type Decision struct {
	Kind DecisionKind `json:"kind"`

	// Modified content for AcceptWithModification.
	ModifiedContent string `json:"modified_content,omitempty"`
	// Tool-call ids partitioned by the moderator. Each subset is handled
	// independently by the effect executor.
	ApprovedTools []string `json:"approved_tools,omitempty"`
	RejectedTools []string `json:"rejected_tools,omitempty"`

	// Feedback for Reject.
	Feedback string `json:"feedback,omitempty"`

	// Replacement content for TakeOver.
	Replacement string `json:"replacement,omitempty"`
}

// Accepts reports whether the decision applies content to the world.
func (d Decision) Accepts() bool {
	return d.Kind == DecisionAccept || d.Kind == DecisionAcceptWithModification || d.Kind == DecisionTakeOver
}
