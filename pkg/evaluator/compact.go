package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	maxVisibleTextChars = 500
	maxTargetsPresented = 20
	maxConsoleErrors    = 10

	// explorationLogTokenBudget bounds the exploration log passed to
	// the scoring call. Older steps collapse to one-line summaries
	// when the full log would exceed it.
	explorationLogTokenBudget = 6000
)

// compactObservation renders an observation as a bounded text block
// suitable for a model prompt.
func compactObservation(obs *Observation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "URL: %s\n", obs.URL)
	fmt.Fprintf(&b, "DOM signature: %s\n", obs.DOMSignature)

	text := obs.VisibleText
	if len(text) > maxVisibleTextChars {
		text = text[:maxVisibleTextChars] + "…"
	}
	fmt.Fprintf(&b, "Visible text: %s\n", text)

	targets := obs.InteractiveTargets
	if len(targets) > maxTargetsPresented {
		targets = targets[:maxTargetsPresented]
	}
	b.WriteString("Interactive targets:\n")
	if len(targets) == 0 {
		b.WriteString("  (none found)\n")
	}
	for _, t := range targets {
		fmt.Fprintf(&b, "  - %s (%s) %q\n", t.Selector, t.Role, t.Label)
	}

	errs := obs.ConsoleErrors
	if len(errs) > maxConsoleErrors {
		errs = errs[:maxConsoleErrors]
	}
	if len(errs) > 0 {
		b.WriteString("Console errors:\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}

	if obs.DialogCalls.Count > 0 {
		fmt.Fprintf(&b, "Dialogs intercepted since last turn: %d (%s)\n",
			obs.DialogCalls.Count, strings.Join(obs.DialogCalls.Args, "; "))
	}
	return b.String()
}

// compactLog renders the exploration log within the token budget.
// Recent steps keep their full verification detail; older steps
// collapse to one-line summaries once the budget is exceeded.
func compactLog(steps []Step) string {
	full := renderSteps(steps, 0)
	if countTokens(full) <= explorationLogTokenBudget {
		return full
	}
	// Collapse from the oldest end until the log fits or everything
	// but the last three steps is summarized.
	for cut := 1; cut <= len(steps); cut++ {
		keepFrom := len(steps) - 3
		if cut > keepFrom {
			cut = keepFrom
		}
		rendered := renderSteps(steps, cut)
		if countTokens(rendered) <= explorationLogTokenBudget || cut == keepFrom {
			return rendered
		}
	}
	return full
}

// renderSteps renders steps; the first summarizedUpTo entries as
// one-liners and the rest in full.
func renderSteps(steps []Step, summarizedUpTo int) string {
	var b strings.Builder
	for i, s := range steps {
		if i < summarizedUpTo {
			outcome := "no visible change"
			if s.Error != "" {
				outcome = "error: " + s.Error
			} else if s.Verification.DOMChanged || s.Verification.TextChanged {
				outcome = "page changed"
			} else if s.Verification.DialogsInvoked > 0 {
				outcome = fmt.Sprintf("%d dialog(s)", s.Verification.DialogsInvoked)
			}
			fmt.Fprintf(&b, "Turn %d: %s -> %s\n", s.Turn, s.Tool, outcome)
			continue
		}
		fmt.Fprintf(&b, "Turn %d: %s", s.Turn, s.Tool)
		if len(s.Args) > 0 {
			if raw, err := json.Marshal(s.Args); err == nil {
				fmt.Fprintf(&b, " %s", raw)
			}
		}
		b.WriteString("\n")
		if s.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", s.Error)
			continue
		}
		v := s.Verification
		fmt.Fprintf(&b, "  dom_changed=%v text_changed=%v url_changed=%v dialogs=%d\n",
			v.DOMChanged, v.TextChanged, v.URLChanged, v.DialogsInvoked)
		if len(v.NewConsoleErrors) > 0 {
			fmt.Fprintf(&b, "  new console errors: %s\n", strings.Join(v.NewConsoleErrors, "; "))
		}
		if s.Summary != "" {
			fmt.Fprintf(&b, "  note: %s\n", s.Summary)
		}
	}
	return b.String()
}

// countTokens counts tokens with the cl100k_base encoding, falling
// back to a bytes/4 estimate when the encoding is unavailable.
func countTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
