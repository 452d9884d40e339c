package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Placeholders substituted into the planning prompt, each exactly
// once.
const (
	placeholderTask       = "{{TASK}}"
	placeholderNotes      = "{{NOTES}}"
	placeholderReferences = "{{REFERENCE_VIDEOS}}"
	placeholderAPIKey     = "{{API_KEY}}"
)

const planPromptTemplate = `You are a senior product planner for small web applications.

Expand the task below into a build plan. Respond with a single JSON object
matching this schema (no surrounding prose):

{{SCHEMA}}

Rules:
- "course_overview.modules" lists independent modules in build order.
- "openhands_build_prompt" must be natural language only. Never include
  code, shell commands, or markup in it.
- Keep the module list small and concrete; each module names the files
  and user-visible behavior it covers.
- "thinking" may hold your reasoning; it is optional.

TASK:
{{TASK}}

SUPPLEMENTARY NOTES:
{{NOTES}}

REFERENCE VIDEOS:
{{REFERENCE_VIDEOS}}

API KEY PLACEHOLDER (substitute where the brief needs one, never a real key):
{{API_KEY}}
`

// buildPrompt renders the planning prompt, substituting each named
// placeholder exactly once.
func buildPrompt(task, notes string, referenceVideos []string) (string, error) {
	schema, err := planSchemaJSON()
	if err != nil {
		return "", err
	}

	prompt := planPromptTemplate
	prompt = strings.Replace(prompt, "{{SCHEMA}}", schema, 1)

	for placeholder, value := range map[string]string{
		placeholderTask:       task,
		placeholderNotes:      orNone(notes),
		placeholderReferences: orNone(strings.Join(referenceVideos, "\n")),
		placeholderAPIKey:     "{API_KEY}",
	} {
		if strings.Count(prompt, placeholder) != 1 {
			return "", fmt.Errorf("prompt template must contain %s exactly once", placeholder)
		}
		prompt = strings.Replace(prompt, placeholder, value, 1)
	}
	return prompt, nil
}

// planSchemaJSON derives the response schema from the wire type so
// prompt and parser cannot drift apart.
func planSchemaJSON() (string, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&planWire{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reflect plan schema: %w", err)
	}
	return string(data), nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
