package planner

// TodoType discriminates the three kinds of work items in a plan.
type TodoType string

const (
	TodoSetup      TodoType = "setup"
	TodoModule     TodoType = "module"
	TodoValidation TodoType = "validation"
)

// Todo is a single actionable unit in the planner's ordered list.
// Todos execute in priority order, one at a time.
type Todo struct {
	ID           string            `json:"id"`
	Type         TodoType          `json:"type"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	ModuleIndex  *int              `json:"module_index,omitempty"`
	ModuleID     string            `json:"module_id,omitempty"`
	Requirements map[string]string `json:"requirements,omitempty"`
	Priority     int               `json:"priority"`
}

// ModuleSpec is one module in the plan overview.
type ModuleSpec struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Features    []string `json:"features,omitempty"`
}

// Overview is the high-level shape of what will be built.
type Overview struct {
	Title   string       `json:"title"`
	Outline []string     `json:"outline,omitempty"`
	Modules []ModuleSpec `json:"modules"`
}

// UISpec is the abstract UI scaffold produced by the planner.
type UISpec struct {
	Layout     string            `json:"layout,omitempty"`
	Theme      map[string]string `json:"theme,omitempty"`
	Components []string          `json:"components,omitempty"`
}

// Plan is the planner's structured output for one run. BuildPrompt is
// pure prose: the natural-language brief the code-generation agent
// consumes as its sole task description.
type Plan struct {
	Overview    Overview `json:"overview"`
	UISpec      UISpec   `json:"ui_spec"`
	BuildPrompt string   `json:"build_prompt"`
	Thinking    string   `json:"thinking,omitempty"`
	TodoList    []Todo   `json:"todo_list"`

	// Degraded marks a plan recovered from an unparseable model
	// response: BuildPrompt holds the raw text and TodoList is empty.
	Degraded bool `json:"degraded,omitempty"`
}

// planWire mirrors the JSON shape the planning model is instructed to
// emit.
type planWire struct {
	CourseOverview Overview `json:"course_overview"`
	GlobalUISpec   UISpec   `json:"global_ui_spec"`
	BuildPrompt    string   `json:"openhands_build_prompt"`
	Thinking       string   `json:"thinking,omitempty"`
}
