package game

// NPCProposal is one proposed non-player character for a region staging.
type NPCProposal struct {
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`
	SpriteAsset string `json:"sprite_asset,omitempty"`
	PortraitAsset string `json:"portrait_asset,omitempty"`
	IsPresent   bool   `json:"is_present"`
	IsHidden    bool   `json:"is_hidden_from_players"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// WaitingPC is a player character queued behind a pending staging, with the
// addressing needed to release it once the staging resolves.
type WaitingPC struct {
	PCID     string `json:"pc_id"`
	Name     string `json:"name"`
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
}

// ProposedTool is a side-effecting tool call proposed by generated content,
// subject to moderator approval before execution.
type ProposedTool struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Arguments   map[string]string `json:"arguments,omitempty"`
}
