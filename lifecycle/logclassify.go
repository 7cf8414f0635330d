package lifecycle

import (
	"strings"

	"github.com/scalytics/core-orchestrator/event"
)

// Stream identifies which subprocess pipe a log line came from.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

// ProgressMatch is the result of matching a log line against the progress
// substring table (spec §4.6).
type ProgressMatch struct {
	Pct  int
	Step string
}

var progressMatchers = []struct {
	Substring string
	Pct       int
	Step      string
}{
	{"Automatically detected platform", 15, "platform_detection"},
	{"Loading safetensors checkpoint shards", 25, "loading_weights"},
	{"Loading weights took", 40, "weights_loaded"},
	{"init engine", 60, "engine_init"},
	{"profile, create kv cache, warmup model", 60, "engine_init"},
	{"Maximum concurrency", 75, "engine_ready"},
	{"Starting vLLM API server", 80, "server_start"},
	{"Available routes are:", 90, "routes_ready"},
}

var perfMarkers = []string{
	"Maximum concurrency",
	"# cpu blocks",
	"# GPU blocks",
	"GPU memory utilization",
	"blocks:",
}

// Classify implements the log-line classifier of spec §4.6: an explicit
// substring table drives both the severity level and an optional Progress
// match. It is a pure function of the line text and source stream, tested
// with string fixtures (see logclassify_test.go).
func Classify(line string, stream Stream) (event.DebugLevel, *ProgressMatch) {
	var match *ProgressMatch
	for _, pm := range progressMatchers {
		if strings.Contains(line, pm.Substring) {
			match = &ProgressMatch{Pct: pm.Pct, Step: pm.Step}
			break
		}
	}

	level := classifyLevel(line, stream)
	return level, match
}

func classifyLevel(line string, stream Stream) event.DebugLevel {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "ERROR") || strings.Contains(upper, "FAILED") || strings.Contains(upper, "FATAL"):
		return event.DebugErr
	case strings.Contains(upper, "WARNING") || strings.Contains(upper, "WARN"):
		return event.DebugWarn
	case containsAny(line, perfMarkers):
		return event.DebugPerf
	}

	if stream == StreamStderr {
		if isLoaderProgressLine(line) {
			return event.DebugInfo
		}
		return event.DebugWarn
	}
	return event.DebugInfo
}

// isLoaderProgressLine reports whether line matches one of the loader
// progress markers — these arrive on stderr from the inference engine but
// are routine progress, not warnings.
func isLoaderProgressLine(line string) bool {
	for _, pm := range progressMatchers {
		if strings.Contains(line, pm.Substring) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(haystack, s) {
			return true
		}
	}
	return false
}
