package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MockBackend is a deterministic generator used in tests and dry runs.
// Generation writes a small working page derived from the instruction
// text; patching applies keyword-driven edits to the files named in
// the instructions.
type MockBackend struct{}

// NewMockBackend creates the mock generation backend.
func NewMockBackend() *MockBackend { return &MockBackend{} }

func (m *MockBackend) Name() string { return "mock" }

// Run generates or patches depending on the instruction shape: patch
// instructions open with a TASK: line followed by a score report,
// generation instructions do not mention a previous score.
func (m *MockBackend) Run(ctx context.Context, instructions, workspace string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if strings.Contains(instructions, "scored") && strings.Contains(instructions, "/100") {
		return m.applyPatch(instructions, workspace)
	}
	return m.generate(instructions, workspace)
}

func (m *MockBackend) generate(instructions, workspace string) (string, string, error) {
	title := firstLine(instructions)
	if len(title) > 80 {
		title = title[:80]
	}

	files := map[string]string{
		"index.html": fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>%s</title>
  <link rel="stylesheet" href="styles.css">
</head>
<body>
  <header class="hero">
    <h1 id="headline">%s</h1>
    <p id="subtitle">Generated page scaffold.</p>
    <button id="cta-button" type="button">Get Started</button>
  </header>
  <main id="content"></main>
  <script src="script.js"></script>
</body>
</html>
`, htmlEscape(title), htmlEscape(title)),
		"styles.css": `:root {
  --primary: #2563eb;
  --text: #1f2937;
  --bg: #ffffff;
}

body {
  margin: 0;
  font-family: system-ui, sans-serif;
  color: var(--text);
  background: var(--bg);
}

.hero {
  padding: 4rem 2rem;
  text-align: center;
}

#cta-button {
  padding: 0.75rem 2rem;
  border: none;
  border-radius: 0.5rem;
  background: var(--primary);
  color: #fff;
  font-size: 1rem;
  cursor: pointer;
}

@media (max-width: 600px) {
  .hero {
    padding: 2rem 1rem;
  }
}
`,
		"script.js": `document.addEventListener("DOMContentLoaded", () => {
  const button = document.getElementById("cta-button");
  const content = document.getElementById("content");
  if (button && content) {
    button.addEventListener("click", () => {
      const note = document.createElement("p");
      note.textContent = "Thanks for your interest!";
      content.appendChild(note);
    });
  }
});
`,
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(workspace, name), []byte(content), 0644); err != nil {
			return "", "", err
		}
	}
	return fmt.Sprintf("generated %d files", len(files)), "", nil
}

// applyPatch edits the files referenced in the instruction block.
// Edits are idempotent: a marker comment guards each appended block.
func (m *MockBackend) applyPatch(instructions, workspace string) (string, string, error) {
	lower := strings.ToLower(instructions)
	matched := 0
	modified := 0

	type edit struct {
		file    string
		keyword string
		marker  string
		content string
	}
	edits := []edit{
		{"styles.css", "contrast", "/* patch: contrast */", "\n/* patch: contrast */\n:root { --primary: #1d4ed8; --text: #111827; }\n"},
		{"styles.css", "color", "/* patch: palette */", "\n/* patch: palette */\nbody { background: #f9fafb; }\n"},
		{"styles.css", "spacing", "/* patch: spacing */", "\n/* patch: spacing */\n.hero { padding: 3rem 1.5rem; } main { padding: 1rem; }\n"},
		{"styles.css", "responsive", "/* patch: responsive */", "\n/* patch: responsive */\n@media (max-width: 480px) { #headline { font-size: 1.5rem; } }\n"},
		{"script.js", "event handler", "// patch: handlers", "\n// patch: handlers\ndocument.querySelectorAll(\"button\").forEach((b) => {\n  if (!b.onclick) { b.addEventListener(\"click\", () => b.classList.toggle(\"active\")); }\n});\n"},
		{"script.js", "error", "// patch: guards", "\n// patch: guards\nwindow.addEventListener(\"error\", (e) => console.warn(\"recovered:\", e.message));\n"},
	}

	for _, e := range edits {
		if !strings.Contains(lower, e.keyword) {
			continue
		}
		matched++
		path := filepath.Join(workspace, e.file)
		data, err := os.ReadFile(path)
		if err != nil {
			data = nil
		}
		if strings.Contains(string(data), e.marker) {
			continue
		}
		if err := os.WriteFile(path, append(data, []byte(e.content)...), 0644); err != nil {
			return "", "", err
		}
		modified++
	}

	// Nothing keyword-matched: still touch the stylesheet so the
	// iteration produces a visible change.
	if matched == 0 {
		path := filepath.Join(workspace, "styles.css")
		data, _ := os.ReadFile(path)
		marker := "/* patch: general review */"
		if !strings.Contains(string(data), marker) {
			content := "\n" + marker + "\nbody { line-height: 1.6; }\n"
			if err := os.WriteFile(path, append(data, []byte(content)...), 0644); err != nil {
				return "", "", err
			}
			modified++
		}
	}
	return fmt.Sprintf("patched %d files", modified), "", nil
}

func firstLine(s string) string {
	line := s
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		line = s[:i]
	}
	line = strings.TrimPrefix(line, "TASK:")
	return strings.TrimSpace(line)
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
