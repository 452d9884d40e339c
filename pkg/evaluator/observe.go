package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// observePayload mirrors the JSON returned by observeScript.
type observePayload struct {
	URL     string `json:"url"`
	Text    string `json:"text"`
	Targets []struct {
		Selector string `json:"selector"`
		Role     string `json:"role"`
		Label    string `json:"label"`
	} `json:"targets"`
	Structure string `json:"structure"`
	Dialogs   []struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"dialogs"`
}

// installDialogGuard injects the dialog interception shim. Must run
// after every navigation, before the first interaction.
func (e *Evaluator) installDialogGuard(ctx context.Context) error {
	_, err := e.browser.Evaluate(ctx, dialogInterceptScript)
	if err != nil {
		return fmt.Errorf("install dialog guard: %w", err)
	}
	return nil
}

// observe captures the current page state. screenshotPath may be empty
// to skip the screenshot for this observation.
func (e *Evaluator) observe(ctx context.Context, screenshotPath string) (*Observation, error) {
	res, err := e.browser.Evaluate(ctx, observeScript)
	if err != nil {
		return nil, fmt.Errorf("observe page: %w", err)
	}

	var payload observePayload
	if err := json.Unmarshal([]byte(res.Text()), &payload); err != nil {
		return nil, fmt.Errorf("parse observation: %w", err)
	}

	obs := &Observation{
		URL:          payload.URL,
		VisibleText:  payload.Text,
		DOMSignature: signatureOf(payload.Structure),
	}
	for _, t := range payload.Targets {
		obs.InteractiveTargets = append(obs.InteractiveTargets, InteractiveTarget{
			Selector: t.Selector,
			Role:     t.Role,
			Label:    t.Label,
		})
	}
	for _, d := range payload.Dialogs {
		obs.DialogCalls.Count++
		obs.DialogCalls.Args = append(obs.DialogCalls.Args, fmt.Sprintf("%s: %s", d.Kind, d.Message))
	}

	obs.ConsoleErrors = e.consoleErrors(ctx)

	if screenshotPath != "" {
		if _, err := e.browser.Screenshot(ctx, screenshotPath, true); err != nil {
			e.logger.Warnf("⚠️ Screenshot failed, continuing without: %v", err)
		} else {
			obs.DesktopScreenshotPath = screenshotPath
		}
	}
	return obs, nil
}

// consoleErrors reads the console message pool and keeps error-level
// entries. The pool is cumulative for the page; callers diff against
// the previous observation to find new errors.
func (e *Evaluator) consoleErrors(ctx context.Context) []string {
	res, err := e.browser.ConsoleMessages(ctx)
	if err != nil {
		e.logger.Warnf("⚠️ Console message read failed: %v", err)
		return nil
	}
	return parseConsoleErrors(res.Text())
}

// parseConsoleErrors extracts error-level messages from the console
// tool output. The output is either a JSON array of {type, text}
// objects or plain lines prefixed with a bracketed level.
func parseConsoleErrors(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var structured []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &structured); err == nil {
		var errs []string
		for _, m := range structured {
			if strings.EqualFold(m.Type, "error") {
				errs = append(errs, m.Text)
			}
		}
		return errs
	}

	var errs []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "[error]") || strings.HasPrefix(lower, "error:") {
			errs = append(errs, line)
		}
	}
	return errs
}

// signatureOf hashes the structure string into a short stable DOM
// signature.
func signatureOf(structure string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(structure))
	return fmt.Sprintf("%016x", h.Sum64())
}

// verify computes the delta between the pre-call and post-call
// observations of a turn.
func verify(before, after *Observation) Verification {
	v := Verification{
		DOMChanged:     before.DOMSignature != after.DOMSignature,
		TextChanged:    before.VisibleText != after.VisibleText,
		DialogsInvoked: after.DialogCalls.Count,
		URLChanged:     before.URL != after.URL,
	}
	seen := make(map[string]bool, len(before.ConsoleErrors))
	for _, e := range before.ConsoleErrors {
		seen[e] = true
	}
	for _, e := range after.ConsoleErrors {
		if !seen[e] {
			v.NewConsoleErrors = append(v.NewConsoleErrors, e)
		}
	}
	return v
}
