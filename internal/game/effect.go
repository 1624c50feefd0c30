package game

// EffectKind is the closed set of world-state mutations an approved outcome
// can carry.
type EffectKind string

const (
	EffectSetFlag            EffectKind = "set_flag"
	EffectEnableChallenge    EffectKind = "enable_challenge"
	EffectDisableChallenge   EffectKind = "disable_challenge"
	EffectEnableEvent        EffectKind = "enable_event"
	EffectDisableEvent       EffectKind = "disable_event"
	EffectRevealInformation  EffectKind = "reveal_information"
	EffectGiveItem           EffectKind = "give_item"
	EffectTakeItem           EffectKind = "take_item"
	EffectModifyRelationship EffectKind = "modify_relationship"
	EffectModifyStat         EffectKind = "modify_stat"
	EffectTriggerScene       EffectKind = "trigger_scene"
	EffectStartCombat        EffectKind = "start_combat"
	EffectAddReward          EffectKind = "add_reward"
	// EffectCustom is logged for moderator narration, never auto-applied.
	EffectCustom EffectKind = "custom"
)

// Effect is a single atomic world-state mutation from an approved outcome.
// Only the fields relevant to its kind are populated.
type Effect struct {
	Kind EffectKind `json:"kind"`

	// SetFlag
	FlagName  string `json:"flag_name,omitempty"`
	FlagValue bool   `json:"flag_value,omitempty"`

	// Enable/Disable challenge or event, TriggerScene
	TargetID   string `json:"target_id,omitempty"`
	TargetName string `json:"target_name,omitempty"`

	// RevealInformation
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`

	// Give/Take item
	ItemName string `json:"item_name,omitempty"`
	Quantity int    `json:"quantity,omitempty"`

	// ModifyRelationship
	FromCharacter   string `json:"from_character,omitempty"`
	ToCharacter     string `json:"to_character,omitempty"`
	SentimentChange int    `json:"sentiment_change,omitempty"`
	Reason          string `json:"reason,omitempty"`

	// ModifyStat, AddReward
	CharacterID string `json:"character_id,omitempty"`
	StatName    string `json:"stat_name,omitempty"`
	Amount      int    `json:"amount,omitempty"`

	// StartCombat
	Participants []string `json:"participants,omitempty"`

	// Custom / descriptive text for logging
	Description string `json:"description,omitempty"`
}
