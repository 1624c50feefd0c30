package genai

import (
	"strings"
	"testing"
)

func TestRenderStagingPrompt(t *testing.T) {
	out, err := RenderStagingPrompt(StagingPromptData{
		WorldName:  "Ashvale",
		RegionName: "The Sunken Market",
		SceneNotes: "night, heavy rain",
		Characters: []CharacterSummary{
			{ID: "npc-fence", Name: "Mira the Fence", Description: "deals in stolen relics"},
			{ID: "npc-guard", Name: "Watch Captain Holt"},
		},
		PartyPCs: []string{"Kestrel", "Dorn"},
		Guidance: "make it tense",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"Ashvale",
		"The Sunken Market",
		"night, heavy rain",
		"Mira the Fence (npc-fence)",
		"Kestrel, Dorn",
		"make it tense",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStagingPrompt_NoGuidance(t *testing.T) {
	out, err := RenderStagingPrompt(StagingPromptData{
		WorldName:  "Ashvale",
		RegionName: "The Docks",
		PartyPCs:   []string{"Kestrel"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "revision") {
		t.Errorf("guidance section rendered without guidance:\n%s", out)
	}
}

func TestRenderOutcomePrompt(t *testing.T) {
	out, err := RenderOutcomePrompt(OutcomePromptData{
		WorldName:     "Ashvale",
		ChallengeName: "Scale the wall",
		PCName:        "Kestrel",
		Roll:          14,
		Modifier:      3,
		Total:         17,
		Outcome:       "success",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"Scale the wall", "Kestrel", "rolled 14", "modifier of 3", "total of 17", "success"} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q:\n%s", want, out)
		}
	}
}

func TestRenderOutcomePrompt_ZeroModifierOmitted(t *testing.T) {
	out, err := RenderOutcomePrompt(OutcomePromptData{
		WorldName:     "Ashvale",
		ChallengeName: "Pick the lock",
		PCName:        "Dorn",
		Roll:          9,
		Total:         9,
		Outcome:       "failure",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "modifier") {
		t.Errorf("modifier clause rendered for zero modifier:\n%s", out)
	}
}

func TestExpandTemplate_BadTemplate(t *testing.T) {
	_, err := ExpandTemplate("{{ .Broken", nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
}
