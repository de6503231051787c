package worker

import (
	"path/filepath"
	"strings"
)

// selfInstrumentationMarkers identifies classpath entries the agent adds
// to its own process for instrumentation that must never be propagated
// to a worker's JVM.
var selfInstrumentationMarkers = []string{
	"grinder-agent-instrumentation",
	"byte-buddy-agent",
}

// FilterClassPath projects the agent's own classpath into the one a
// worker process should receive: entries matching foremost or patch are
// moved to the front (foremost first, then patch, each in their
// original relative order), self-instrumentation entries are dropped
// entirely, and everything else keeps its original order behind them.
//
// foremost and patch are substrings, not exact entries: any classpath
// element containing one is considered a match.
func FilterClassPath(classpath []string, foremost, patch string) []string {
	var head, patched, rest []string

	for _, entry := range classpath {
		if isSelfInstrumentation(entry) {
			continue
		}
		switch {
		case foremost != "" && strings.Contains(entry, foremost):
			head = append(head, entry)
		case patch != "" && strings.Contains(entry, patch):
			patched = append(patched, entry)
		default:
			rest = append(rest, entry)
		}
	}

	out := make([]string, 0, len(head)+len(patched)+len(rest))
	out = append(out, head...)
	out = append(out, patched...)
	out = append(out, rest...)
	return out
}

func isSelfInstrumentation(entry string) bool {
	for _, marker := range selfInstrumentationMarkers {
		if strings.Contains(entry, marker) {
			return true
		}
	}
	return false
}

// JoinClassPath renders a filtered classpath back into a single
// OS-separated string.
func JoinClassPath(entries []string) string {
	return strings.Join(entries, string(filepath.ListSeparator))
}

// SplitClassPath parses an OS-separated classpath string, dropping
// empty entries produced by stray separators.
func SplitClassPath(classpath string) []string {
	if classpath == "" {
		return nil
	}
	var out []string
	for _, e := range strings.Split(classpath, string(filepath.ListSeparator)) {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
