package game

import (
	"fmt"

	"github.com/pixil98/go-errors"
)

// Region is authored region content. DefaultCast is the rule-based answer
// to "who is here" used while a model suggestion is in flight and when a
// staging approval expires undecided.
type Region struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	DefaultCast []NPCProposal `json:"default_cast,omitempty"`
}

func (r *Region) Validate() error {
	el := errors.NewErrorList()

	if r.Name == "" {
		el.Add(fmt.Errorf("name must be set"))
	}

	for i, npc := range r.DefaultCast {
		if npc.CharacterID == "" {
			el.Add(fmt.Errorf("default_cast[%d]: character_id must be set", i))
		}
	}

	return el.Err()
}

// TriggerSet is the authored trigger content for one world.
type TriggerSet struct {
	WorldID  string    `json:"world_id"`
	Triggers []Trigger `json:"triggers"`
}

func (s *TriggerSet) Validate() error {
	el := errors.NewErrorList()

	if s.WorldID == "" {
		el.Add(fmt.Errorf("world_id must be set"))
	}

	for i, tr := range s.Triggers {
		if tr.EventID == "" {
			el.Add(fmt.Errorf("triggers[%d]: event_id must be set", i))
		}
		for j, c := range tr.Conditions {
			if err := c.validate(); err != nil {
				el.Add(fmt.Errorf("triggers[%d].conditions[%d]: %w", i, j, err))
			}
		}
	}

	return el.Err()
}

func (c *TriggerCondition) validate() error {
	switch c.Kind {
	case ConditionFlagSet:
		if c.FlagName == "" {
			return fmt.Errorf("flag_name must be set")
		}
	case ConditionChallengeCompleted, ConditionEventCompleted, ConditionAtLocation, ConditionSceneActive:
		if c.TargetID == "" {
			return fmt.Errorf("target_id must be set")
		}
	case ConditionStatAtLeast:
		if c.CharacterID == "" || c.StatName == "" {
			return fmt.Errorf("character_id and stat_name must be set")
		}
	default:
		return fmt.Errorf("unknown condition kind: %s", c.Kind)
	}
	return nil
}
