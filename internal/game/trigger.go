package game

// StateSnapshot is a read-only view of the world state relevant to trigger
// evaluation. Built by the caller from repository state; the evaluator never
// touches live shared state.
type StateSnapshot struct {
	WorldID             string
	ActiveFlags         map[string]bool
	CharacterStats      map[string]map[string]int
	CompletedChallenges []string
	CompletedEvents     []string
	DisabledChallenges  []string
	DisabledEvents      []string
	CurrentLocation     string
	CurrentScene        string
}

// HasCompletedChallenge reports whether the snapshot records the challenge
// as completed.
func (s *StateSnapshot) HasCompletedChallenge(id string) bool {
	for _, c := range s.CompletedChallenges {
		if c == id {
			return true
		}
	}
	return false
}

// HasCompletedEvent reports whether the snapshot records the narrative event
// as completed.
func (s *StateSnapshot) HasCompletedEvent(id string) bool {
	for _, e := range s.CompletedEvents {
		if e == id {
			return true
		}
	}
	return false
}

// IsEventDisabled reports whether the narrative event is switched off and
// must not fire.
func (s *StateSnapshot) IsEventDisabled(id string) bool {
	for _, e := range s.DisabledEvents {
		if e == id {
			return true
		}
	}
	return false
}

// IsChallengeDisabled reports whether the challenge is switched off.
func (s *StateSnapshot) IsChallengeDisabled(id string) bool {
	for _, c := range s.DisabledChallenges {
		if c == id {
			return true
		}
	}
	return false
}

// ConditionKind enumerates trigger condition types.
type ConditionKind string

const (
	ConditionFlagSet            ConditionKind = "flag_set"
	ConditionChallengeCompleted ConditionKind = "challenge_completed"
	ConditionEventCompleted     ConditionKind = "event_completed"
	ConditionAtLocation         ConditionKind = "at_location"
	ConditionSceneActive        ConditionKind = "scene_active"
	ConditionStatAtLeast        ConditionKind = "stat_at_least"
)

// TriggerCondition is one predicate over a StateSnapshot.
type TriggerCondition struct {
	Kind ConditionKind `json:"kind"`

	FlagName  string `json:"flag_name,omitempty"`
	FlagValue bool   `json:"flag_value,omitempty"`

	TargetID string `json:"target_id,omitempty"`

	CharacterID string `json:"character_id,omitempty"`
	StatName    string `json:"stat_name,omitempty"`
	Threshold   int    `json:"threshold,omitempty"`
}

// Trigger is a candidate narrative-event trigger: the event fires when all
// of its conditions are satisfied by the snapshot.
type Trigger struct {
	EventID    string             `json:"event_id"`
	EventName  string             `json:"event_name"`
	Conditions []TriggerCondition `json:"conditions"`
	// Effects to apply if the event is approved.
	Effects []Effect `json:"effects,omitempty"`
}
