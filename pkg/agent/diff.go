package agent

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContextLines = 3

var dmp = diffmatchpatch.New()

// UnifiedDiff renders a unified diff between two versions of a file.
// An empty old content marks a created file, an empty new content a
// deleted one. Returns "" when the contents are identical.
func UnifiedDiff(path, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}

	oldHeader := "a/" + path
	newHeader := "b/" + path
	if oldContent == "" {
		oldHeader = "/dev/null"
	}
	if newContent == "" {
		newHeader = "/dev/null"
	}

	// Line-level reduction avoids newline boundary artifacts in the
	// character diff.
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	hunks := groupHunks(diffsToLineOps(diffs), diffContextLines)
	if len(hunks) == 0 {
		return ""
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- %s\n+++ %s\n", oldHeader, newHeader)
	for _, h := range hunks {
		fmt.Fprintf(&out, "@@ -%d,%d +%d,%d @@\n", h.oldStart, h.oldCount, h.newStart, h.newCount)
		for _, line := range h.lines {
			out.WriteString(line.marker)
			out.WriteString(line.text)
			out.WriteString("\n")
		}
	}
	return out.String()
}

// DiffSnapshots produces a unified diff per changed file between two
// workspace snapshots.
func DiffSnapshots(before, after Snapshot) map[string]string {
	diffs := map[string]string{}
	for _, path := range ChangedFiles(before, after) {
		if d := UnifiedDiff(path, before[path], after[path]); d != "" {
			diffs[path] = d
		}
	}
	return diffs
}

type lineOp struct {
	marker  string // " ", "+", "-"
	text    string
	oldLine int
	newLine int
}

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	lines              []lineOp
}

func diffsToLineOps(diffs []diffmatchpatch.Diff) []lineOp {
	var ops []lineOp
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldLine++
				newLine++
				ops = append(ops, lineOp{" ", line, oldLine, newLine})
			case diffmatchpatch.DiffDelete:
				oldLine++
				ops = append(ops, lineOp{"-", line, oldLine, 0})
			case diffmatchpatch.DiffInsert:
				newLine++
				ops = append(ops, lineOp{"+", line, 0, newLine})
			}
		}
	}
	return ops
}

func groupHunks(ops []lineOp, context int) []hunk {
	var hunks []hunk
	var cur *hunk
	lastChange := -1

	flush := func(end int) {
		if cur == nil {
			return
		}
		// Trim trailing context beyond the window.
		trim := end - lastChange - context
		if trim > 0 && trim < len(cur.lines) {
			cur.lines = cur.lines[:len(cur.lines)-trim]
		}
		for _, l := range cur.lines {
			if l.marker != "+" {
				cur.oldCount++
			}
			if l.marker != "-" {
				cur.newCount++
			}
		}
		hunks = append(hunks, *cur)
		cur = nil
	}

	for i, op := range ops {
		if op.marker != " " {
			if cur == nil {
				start := i - context
				if start < 0 {
					start = 0
				}
				cur = &hunk{}
				for j := start; j < i; j++ {
					cur.lines = append(cur.lines, ops[j])
				}
				first := ops[start]
				cur.oldStart = firstPositive(first.oldLine, op.oldLine, 1)
				cur.newStart = firstPositive(first.newLine, op.newLine, 1)
			}
			lastChange = i
		}
		if cur != nil {
			cur.lines = append(cur.lines, op)
			if op.marker == " " && i-lastChange >= context {
				flush(i)
			}
		}
	}
	flush(len(ops) - 1)
	return hunks
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
