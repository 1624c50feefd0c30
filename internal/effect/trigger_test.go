package effect

import (
	"context"
	"testing"

	"github.com/pixil98/go-testutil"

	"github.com/worldsmith/engine/internal/game"
)

func snapshot() *game.StateSnapshot {
	return &game.StateSnapshot{
		WorldID: "w1",
		ActiveFlags: map[string]bool{
			"gate_open": true,
		},
		CharacterStats: map[string]map[string]int{
			"pc-1": {"renown": 5},
		},
		CompletedChallenges: []string{"ch-climb"},
		CompletedEvents:     []string{"ev-intro"},
		CurrentLocation:     "loc-market",
		CurrentScene:        "scene-1",
	}
}

func TestEvaluator_Conditions(t *testing.T) {
	tests := map[string]struct {
		cond game.TriggerCondition
		want bool
	}{
		"flag set true": {
			cond: game.TriggerCondition{Kind: game.ConditionFlagSet, FlagName: "gate_open", FlagValue: true},
			want: true,
		},
		"flag expected false": {
			cond: game.TriggerCondition{Kind: game.ConditionFlagSet, FlagName: "gate_open", FlagValue: false},
			want: false,
		},
		"unset flag matches false": {
			cond: game.TriggerCondition{Kind: game.ConditionFlagSet, FlagName: "never_set", FlagValue: false},
			want: true,
		},
		"challenge completed": {
			cond: game.TriggerCondition{Kind: game.ConditionChallengeCompleted, TargetID: "ch-climb"},
			want: true,
		},
		"challenge not completed": {
			cond: game.TriggerCondition{Kind: game.ConditionChallengeCompleted, TargetID: "ch-swim"},
			want: false,
		},
		"event completed": {
			cond: game.TriggerCondition{Kind: game.ConditionEventCompleted, TargetID: "ev-intro"},
			want: true,
		},
		"at location": {
			cond: game.TriggerCondition{Kind: game.ConditionAtLocation, TargetID: "loc-market"},
			want: true,
		},
		"wrong location": {
			cond: game.TriggerCondition{Kind: game.ConditionAtLocation, TargetID: "loc-docks"},
			want: false,
		},
		"scene active": {
			cond: game.TriggerCondition{Kind: game.ConditionSceneActive, TargetID: "scene-1"},
			want: true,
		},
		"stat at least met": {
			cond: game.TriggerCondition{Kind: game.ConditionStatAtLeast, CharacterID: "pc-1", StatName: "renown", Threshold: 5},
			want: true,
		},
		"stat at least unmet": {
			cond: game.TriggerCondition{Kind: game.ConditionStatAtLeast, CharacterID: "pc-1", StatName: "renown", Threshold: 6},
			want: false,
		},
		"stat for unknown character": {
			cond: game.TriggerCondition{Kind: game.ConditionStatAtLeast, CharacterID: "pc-9", StatName: "renown", Threshold: 1},
			want: false,
		},
		"unknown condition kind": {
			cond: game.TriggerCondition{Kind: game.ConditionKind("moon_phase")},
			want: false,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := conditionHolds(snapshot(), tt.cond)
			testutil.AssertEqual(t, "holds", got, tt.want)
		})
	}
}

func TestEvaluator_AllConditionsMustHold(t *testing.T) {
	ctx := context.Background()
	ev := Evaluator{}

	both := game.Trigger{
		EventID: "ev-ambush",
		Conditions: []game.TriggerCondition{
			{Kind: game.ConditionFlagSet, FlagName: "gate_open", FlagValue: true},
			{Kind: game.ConditionAtLocation, TargetID: "loc-market"},
		},
	}
	partial := game.Trigger{
		EventID: "ev-flood",
		Conditions: []game.TriggerCondition{
			{Kind: game.ConditionFlagSet, FlagName: "gate_open", FlagValue: true},
			{Kind: game.ConditionAtLocation, TargetID: "loc-docks"},
		},
	}

	matched := ev.Evaluate(ctx, snapshot(), []game.Trigger{both, partial})
	testutil.AssertEqual(t, "matched count", len(matched), 1)
	testutil.AssertEqual(t, "matched event", matched[0].Trigger.EventID, "ev-ambush")
	testutil.AssertEqual(t, "matched source", matched[0].Source, SourceEngine)
}

func TestEvaluator_DisabledEventNeverFires(t *testing.T) {
	ctx := context.Background()
	ev := Evaluator{}

	tr := game.Trigger{
		EventID: "ev-ambush",
		Conditions: []game.TriggerCondition{
			{Kind: game.ConditionAtLocation, TargetID: "loc-market"},
		},
	}

	snap := snapshot()
	snap.DisabledEvents = []string{"ev-ambush"}
	matched := ev.Evaluate(ctx, snap, []game.Trigger{tr})
	testutil.AssertEqual(t, "matched count", len(matched), 0)

	// Re-enabling clears the block
	snap.DisabledEvents = nil
	matched = ev.Evaluate(ctx, snap, []game.Trigger{tr})
	testutil.AssertEqual(t, "matched count", len(matched), 1)
}

func TestEvaluator_SuggestedTriggersTaggedModel(t *testing.T) {
	ctx := context.Background()
	ev := Evaluator{}

	tr := game.Trigger{
		EventID: "ev-ambush",
		Conditions: []game.TriggerCondition{
			{Kind: game.ConditionAtLocation, TargetID: "loc-market"},
		},
	}

	matched := ev.EvaluateSuggested(ctx, snapshot(), []game.Trigger{tr})
	testutil.AssertEqual(t, "matched count", len(matched), 1)
	testutil.AssertEqual(t, "matched source", matched[0].Source, SourceModel)
}

func TestEvaluator_CompletedEventNeverRefires(t *testing.T) {
	ctx := context.Background()
	ev := Evaluator{}

	tr := game.Trigger{
		EventID: "ev-intro",
		Conditions: []game.TriggerCondition{
			{Kind: game.ConditionAtLocation, TargetID: "loc-market"},
		},
	}

	matched := ev.Evaluate(ctx, snapshot(), []game.Trigger{tr})
	testutil.AssertEqual(t, "matched count", len(matched), 0)
}

func TestEvaluator_UnconditionedTriggerDoesNotFire(t *testing.T) {
	ctx := context.Background()
	ev := Evaluator{}

	tr := game.Trigger{EventID: "ev-manual"}

	matched := ev.Evaluate(ctx, snapshot(), []game.Trigger{tr})
	testutil.AssertEqual(t, "matched count", len(matched), 0)
}
