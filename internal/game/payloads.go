package game

import "time"

// Queue payloads are the fixed set of asynchronous work the engine processes.
// Each payload carries its owning world id so queues can be filtered per
// world without understanding the payload itself.

// PlayerAction is an action submitted by a player awaiting processing.
// RegionID is set on movement actions: entering a region consults its
// staged NPC presence and requests a staging when none exists yet.
type PlayerAction struct {
	WorldID    string    `json:"world_id"`
	PlayerID   string    `json:"player_id"`
	PCID       string    `json:"pc_id,omitempty"`
	PCName     string    `json:"pc_name,omitempty"`
	ActionType string    `json:"action_type"`
	RegionID   string    `json:"region_id,omitempty"`
	Target     string    `json:"target,omitempty"`
	Dialogue   string    `json:"dialogue,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// Challenge attempt fields. A set ChallengeID makes the engine roll
	// the check; Difficulty 0 uses the default.
	ChallengeID   string `json:"challenge_id,omitempty"`
	ChallengeName string `json:"challenge_name,omitempty"`
	Modifier      int    `json:"modifier,omitempty"`
	Difficulty    int    `json:"difficulty,omitempty"`
}

func (a PlayerAction) World() string { return a.WorldID }

// ModelRequestKind distinguishes what a language-model request is for.
type ModelRequestKind string

const (
	ModelRequestNPCResponse       ModelRequestKind = "npc_response"
	ModelRequestSuggestion        ModelRequestKind = "suggestion"
	ModelRequestStagingSuggestion ModelRequestKind = "staging_suggestion"
	ModelRequestOutcomeBranches   ModelRequestKind = "outcome_branches"
)

// ModelRequest is a queued request to the language-model port.
type ModelRequest struct {
	Kind       ModelRequestKind `json:"kind"`
	WorldID    string           `json:"world_id"`
	PCID       string           `json:"pc_id,omitempty"`
	Prompt     string           `json:"prompt,omitempty"`
	Guidance   string           `json:"guidance,omitempty"`
	// CallbackID routes the response back to the pending item that asked
	// for it (staging request id, outcome resolution id, ...).
	CallbackID string `json:"callback_id"`
}

func (r ModelRequest) World() string { return r.WorldID }

// AssetRequest is a queued request to generate a visual asset for an entity.
type AssetRequest struct {
	WorldID    string `json:"world_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	WorkflowID string `json:"workflow_id"`
	Prompt     string `json:"prompt"`
	Count      int    `json:"count"`
}

func (r AssetRequest) World() string { return r.WorldID }

// DMActionKind is the closed set of moderator-priority actions.
type DMActionKind string

const (
	DMActionApprovalDecision DMActionKind = "approval_decision"
	DMActionRequestBranches  DMActionKind = "request_branches"
	DMActionSelectBranch     DMActionKind = "select_branch"
	DMActionDirectNPCControl DMActionKind = "direct_npc_control"
	DMActionTriggerEvent     DMActionKind = "trigger_event"
	DMActionTransitionScene  DMActionKind = "transition_scene"
)

// DMAction is a moderator action dispatched through the dedicated DM queue
// so it is never stuck behind player-action backlog.
type DMAction struct {
	WorldID   string       `json:"world_id"`
	DMID      string       `json:"dm_id"`
	Kind      DMActionKind `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`

	// ApprovalDecision fields
	RequestID string    `json:"request_id,omitempty"`
	Decision  *Decision `json:"decision,omitempty"`

	// RequestBranches / SelectBranch fields
	Guidance    string `json:"guidance,omitempty"`
	BranchIndex int    `json:"branch_index,omitempty"`

	// DirectNPCControl fields
	NPCID    string `json:"npc_id,omitempty"`
	Dialogue string `json:"dialogue,omitempty"`

	// TriggerEvent / TransitionScene targets
	EventID string `json:"event_id,omitempty"`
	SceneID string `json:"scene_id,omitempty"`
}

func (a DMAction) World() string { return a.WorldID }
