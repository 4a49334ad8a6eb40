package compactor

import (
	"fmt"
	"strings"
)

// TrimLines keeps the first and last keep lines of text, replacing the
// middle with an "N lines omitted" marker, when text has more than
// TrimThreshold lines. Shorter text is returned unchanged.
func TrimLines(text string, keep int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= TrimThreshold {
		return text
	}
	omitted := len(lines) - 2*keep
	if omitted <= 0 {
		return text
	}
	head := lines[:keep]
	tail := lines[len(lines)-keep:]
	marker := fmt.Sprintf("… %d lines omitted …", omitted)
	return strings.Join(head, "\n") + "\n" + marker + "\n" + strings.Join(tail, "\n")
}

// TrimValue recursively applies TrimLines to oversized string leaves
// within a structured value, and truncates oversized arrays the same
// way (head/tail KeepHeadTailLines elements, "N items omitted"
// marker), so a large tool-result payload is trimmed at every depth
// rather than only at its outermost text rendering.
func TrimValue(v any) any {
	switch t := v.(type) {
	case string:
		return TrimLines(t, KeepHeadTailLines)
	case []any:
		return trimSlice(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = TrimValue(val)
		}
		return out
	default:
		return v
	}
}

func trimSlice(items []any) []any {
	trimmed := make([]any, len(items))
	for i, item := range items {
		trimmed[i] = TrimValue(item)
	}
	if len(trimmed) <= TrimThreshold {
		return trimmed
	}
	omitted := len(trimmed) - 2*KeepHeadTailLines
	if omitted <= 0 {
		return trimmed
	}
	result := make([]any, 0, 2*KeepHeadTailLines+1)
	result = append(result, trimmed[:KeepHeadTailLines]...)
	result = append(result, fmt.Sprintf("… %d items omitted …", omitted))
	result = append(result, trimmed[len(trimmed)-KeepHeadTailLines:]...)
	return result
}
