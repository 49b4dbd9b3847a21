package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CanonicalText flattens the revision into a deterministic set of lines suitable for diffing.
func (r Revision) CanonicalText() []string {
	lines := []string{
		fmt.Sprintf("Table: %s", r.Table),
		fmt.Sprintf("ID: %d", r.ID),
		fmt.Sprintf("Revision: %d", r.Revision),
		"Columns:",
	}

	if len(r.Columns) == 0 {
		return append(lines, "  (empty)")
	}

	keys := make([]string, 0, len(r.Columns))
	for key := range r.Columns {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", key, renderColumn(r.Columns[key])))
	}
	return lines
}

// DiffRevisions produces a unified diff between two revisions using the provided labels.
// A nil revision diffs as empty content.
func DiffRevisions(baseLabel string, base *Revision, targetLabel string, target *Revision) string {
	return buildUnifiedDiff(baseLabel, targetLabel, canonicalString(base), canonicalString(target))
}

func canonicalString(revision *Revision) string {
	if revision == nil {
		return ""
	}
	return strings.Join(revision.CanonicalText(), "\n") + "\n"
}

func renderColumn(value any) string {
	if value == nil {
		return "null"
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(baseLabel, targetLabel, baseContent, targetContent string) string {
	baseLines := splitLines(baseContent)
	targetLines := splitLines(targetContent)

	ops := diffLines(baseLines, targetLines)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	builder.WriteString(fmt.Sprintf("@@ -1,%d +1,%d @@\n", len(baseLines), len(targetLines)))
	for _, operation := range ops {
		builder.WriteString(operation.prefix)
		builder.WriteString(operation.line)
		builder.WriteString("\n")
	}

	return builder.String()
}

func splitLines(input string) []string {
	if input == "" {
		return nil
	}
	lines := strings.Split(input, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// diffLines walks a longest-common-subsequence table to emit keep/remove/add operations.
func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			switch {
			case base[i] == target[j]:
				dp[i][j] = dp[i+1][j+1] + 1
			case dp[i+1][j] >= dp[i][j+1]:
				dp[i][j] = dp[i+1][j]
			default:
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		if base[i] == target[j] {
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
			continue
		}
		if dp[i+1][j] >= dp[i][j+1] {
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		} else {
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
	}

	return ops
}
