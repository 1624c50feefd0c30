package genai

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// templateFuncs provides utility functions for prompt templates.
var templateFuncs = sprig.TxtFuncMap()

// ExpandTemplate expands a template string using the provided data.
// The data can be any struct - templates access fields via {{ .FieldName }}.
func ExpandTemplate(tmplStr string, data any) (string, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}

// CharacterSummary is the character context fed into prompts.
type CharacterSummary struct {
	ID          string
	Name        string
	Description string
}

// StagingPromptData feeds the scene staging prompt.
type StagingPromptData struct {
	WorldName   string
	RegionName  string
	SceneNotes  string
	Characters  []CharacterSummary
	PartyPCs    []string
	Guidance    string
	Regenerated bool
}

const stagingPromptTemplate = `You are assisting the dungeon master of "{{ .WorldName }}".
The party is entering {{ .RegionName }}.
{{- if .SceneNotes }}
Scene notes: {{ .SceneNotes }}
{{- end }}

Characters available in this region:
{{- range .Characters }}
- {{ .Name }} ({{ .ID }}){{ if .Description }}: {{ .Description | trunc 200 }}{{ end }}
{{- end }}

Party members present: {{ join ", " .PartyPCs }}.

Suggest which characters should be present in the scene, and whether any
should start hidden from the players. For each, give a one-line reason.
{{- if .Guidance }}

The dungeon master asked for this revision: {{ .Guidance }}
{{- end }}`

// RenderStagingPrompt builds the scene staging suggestion prompt.
func RenderStagingPrompt(data StagingPromptData) (string, error) {
	return ExpandTemplate(stagingPromptTemplate, data)
}

// OutcomePromptData feeds the challenge outcome narration prompt.
type OutcomePromptData struct {
	WorldName     string
	ChallengeName string
	PCName        string
	Roll          int
	Modifier      int
	Total         int
	Outcome       string
	Guidance      string
}

const outcomePromptTemplate = `You are narrating for the world "{{ .WorldName }}".
{{ .PCName }} attempted "{{ .ChallengeName }}" and rolled {{ .Roll }}
{{- if ne .Modifier 0 }} with a modifier of {{ .Modifier }}{{ end }}, for a total of {{ .Total }}.
The result is a {{ .Outcome }}.

Write three alternative narrations of this result, each a short paragraph
with a distinct tone. Number them 1 to 3.
{{- if .Guidance }}

The dungeon master asked for this direction: {{ .Guidance }}
{{- end }}`

// RenderOutcomePrompt builds the outcome branch generation prompt.
func RenderOutcomePrompt(data OutcomePromptData) (string, error) {
	return ExpandTemplate(outcomePromptTemplate, data)
}
