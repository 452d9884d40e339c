package evaluator

import "github.com/tmc/langchaingo/llms"

// finishToolName ends the exploration loop.
const finishToolName = "finish_exploration"

func toolDef(name, description string, properties map[string]interface{}, required []string) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

// explorationTools is the tool surface presented to the exploration
// model each turn.
func explorationTools() []llms.Tool {
	return []llms.Tool{
		toolDef("browser_click", "Click the element matching a CSS selector.",
			map[string]interface{}{
				"selector": map[string]interface{}{"type": "string", "description": "CSS selector of the element to click"},
			}, []string{"selector"}),
		toolDef("browser_type", "Type text into the element matching a CSS selector.",
			map[string]interface{}{
				"selector": map[string]interface{}{"type": "string", "description": "CSS selector of the input element"},
				"text":     map[string]interface{}{"type": "string", "description": "Text to type"},
			}, []string{"selector", "text"}),
		toolDef("browser_scroll", "Scroll the page up or down.",
			map[string]interface{}{
				"direction": map[string]interface{}{"type": "string", "enum": []string{"up", "down"}},
				"amount":    map[string]interface{}{"type": "integer", "description": "Scroll distance in pixels", "default": 600},
			}, []string{"direction"}),
		toolDef("browser_hover", "Hover over the element matching a CSS selector.",
			map[string]interface{}{
				"selector": map[string]interface{}{"type": "string", "description": "CSS selector of the element to hover"},
			}, []string{"selector"}),
		toolDef("browser_press_key", "Press a keyboard key (e.g. Enter, Tab, Escape).",
			map[string]interface{}{
				"key": map[string]interface{}{"type": "string", "description": "Key to press"},
			}, []string{"key"}),
		toolDef("browser_evaluate", "Evaluate a JavaScript expression in the page and return its result.",
			map[string]interface{}{
				"expression": map[string]interface{}{"type": "string", "description": "JavaScript expression"},
			}, []string{"expression"}),
		toolDef("browser_wait_for", "Wait until a condition holds (selector appears or text is visible).",
			map[string]interface{}{
				"condition":  map[string]interface{}{"type": "string", "description": "CSS selector or text fragment to wait for"},
				"timeout_ms": map[string]interface{}{"type": "integer", "default": 5000},
			}, []string{"condition"}),
		toolDef("browser_get_url", "Return the current page URL.",
			map[string]interface{}{}, nil),
		toolDef("browser_dom_snapshot", "Return an accessibility-oriented snapshot of the page structure.",
			map[string]interface{}{}, nil),
		toolDef(finishToolName, "End exploration once enough evidence has been gathered to score the page.",
			map[string]interface{}{
				"reason": map[string]interface{}{"type": "string", "description": "Why exploration is complete"},
			}, []string{"reason"}),
	}
}
