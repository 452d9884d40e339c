package evaluator

// Severity grades an issue found during evaluation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is one problem the evaluator found, tied to a rubric category.
type Issue struct {
	Category      string   `json:"category"`
	Severity      Severity `json:"severity"`
	Description   string   `json:"description"`
	ReproSteps    []string `json:"repro_steps,omitempty"`
	ScreenshotRef string   `json:"screenshot_ref,omitempty"`
}

// Verdict is the evaluator's final structured output for one
// iteration. Score is the sum of the category scores; Passed is true
// iff Score >= PassThreshold.
type Verdict struct {
	Score          int            `json:"score"`
	Passed         bool           `json:"passed"`
	CategoryScores map[string]int `json:"category_scores"`
	Issues         []Issue        `json:"issues,omitempty"`
	FixSuggestions []string       `json:"fix_suggestions,omitempty"`
	Feedback       string         `json:"feedback"`
	RubricID       string         `json:"rubric_id"`
}

// PassThreshold is the minimum passing score.
const PassThreshold = 70

// RubricCategory is one weighted scoring category.
type RubricCategory struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Rubric is a weighted set of scoring categories. Weights sum to 100.
type Rubric struct {
	ID         string           `json:"id"`
	Categories []RubricCategory `json:"categories"`
}

// DefaultRubric is the standard web-quality rubric. Functionality and
// visual design carry the most weight; robustness is small but a
// non-empty console error pool zeroes it.
func DefaultRubric() Rubric {
	return Rubric{
		ID: "web-quality-v1",
		Categories: []RubricCategory{
			{Name: "functionality", Weight: 25},
			{Name: "visual_design", Weight: 25},
			{Name: "ux", Weight: 15},
			{Name: "accessibility", Weight: 15},
			{Name: "responsiveness", Weight: 15},
			{Name: "robustness", Weight: 5},
		},
	}
}

// TotalWeight sums the category weights.
func (r Rubric) TotalWeight() int {
	total := 0
	for _, c := range r.Categories {
		total += c.Weight
	}
	return total
}

// WeightOf returns the weight for a category name, or 0.
func (r Rubric) WeightOf(name string) int {
	for _, c := range r.Categories {
		if c.Name == name {
			return c.Weight
		}
	}
	return 0
}

// InteractiveTarget is a stable selector for one interactive element,
// with a short human-readable label to aid the model.
type InteractiveTarget struct {
	Selector string `json:"selector"`
	Role     string `json:"role,omitempty"`
	Label    string `json:"label,omitempty"`
}

// DialogCalls summarizes runtime dialog invocations intercepted since
// the prior turn.
type DialogCalls struct {
	Count int      `json:"count"`
	Args  []string `json:"args,omitempty"`
}

// Observation is the browser state captured at the start of a turn.
type Observation struct {
	DesktopScreenshotPath string              `json:"desktop_screenshot_path,omitempty"`
	MobileScreenshotPath  string              `json:"mobile_screenshot_path,omitempty"`
	VisibleText           string              `json:"visible_text"`
	InteractiveTargets    []InteractiveTarget `json:"interactive_targets"`
	ConsoleErrors         []string            `json:"console_errors,omitempty"`
	DOMSignature          string              `json:"dom_signature"`
	DialogCalls           DialogCalls         `json:"dialog_calls"`
	URL                   string              `json:"url"`
}

// Verification is the delta computed between the pre-call and
// post-call observations of a turn.
type Verification struct {
	DOMChanged       bool     `json:"dom_changed"`
	TextChanged      bool     `json:"text_changed"`
	NewConsoleErrors []string `json:"new_console_errors,omitempty"`
	DialogsInvoked   int      `json:"dialogs_invoked"`
	URLChanged       bool     `json:"url_changed"`
}

// Step is one entry of the exploration log.
type Step struct {
	Turn            int                    `json:"turn"`
	Tool            string                 `json:"tool"`
	Args            map[string]interface{} `json:"args,omitempty"`
	BeforeSignature string                 `json:"before_signature"`
	AfterSignature  string                 `json:"after_signature"`
	Verification    Verification           `json:"verification"`
	ScreenshotPath  string                 `json:"screenshot_path,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Summary         string                 `json:"summary,omitempty"`
}
