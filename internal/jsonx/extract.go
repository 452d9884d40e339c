// Package jsonx extracts JSON documents from LLM output. Model output
// arrives fenced, prefixed with prose, or plain; the extraction order
// is: strip code fences, try a direct parse, then scan for balanced
// brace candidates and accept the first that parses.
package jsonx

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON indicates no parseable JSON object was found in the text.
var ErrNoJSON = errors.New("no parseable JSON object in text")

// ExtractObject parses the first JSON object found in raw into v.
func ExtractObject(raw string, v interface{}) error {
	candidate := StripFences(raw)

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	for _, c := range balancedBraceCandidates(candidate) {
		if err := json.Unmarshal([]byte(c), v); err == nil {
			return nil
		}
	}
	return ErrNoJSON
}

// StripFences removes a surrounding markdown code fence, including an
// optional language identifier, and trims whitespace.
func StripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.Contains(cleaned, "```") {
		return cleaned
	}

	start := strings.Index(cleaned, "```")
	contentStart := start + 3
	if nl := strings.Index(cleaned[contentStart:], "\n"); nl != -1 {
		// Skip the language identifier line (```json).
		firstLine := cleaned[contentStart : contentStart+nl]
		if !strings.ContainsAny(firstLine, "{}") {
			contentStart += nl + 1
		}
	}
	end := strings.LastIndex(cleaned, "```")
	if end > contentStart {
		cleaned = cleaned[contentStart:end]
	}
	return strings.TrimSpace(cleaned)
}

// balancedBraceCandidates returns substrings of text that start at a
// '{' and end at its matching '}', longest-first per opening position.
// String literals and escapes are respected so braces inside strings
// do not unbalance the scan.
func balancedBraceCandidates(text string) []string {
	var candidates []string
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if end, ok := matchBrace(text, i); ok {
			candidates = append(candidates, text[i:end+1])
			// Jump past this object; nested objects parse as part of it.
			i = end
		}
	}
	return candidates
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
