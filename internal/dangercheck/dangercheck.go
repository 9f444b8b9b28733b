// Package dangercheck scans a submitted snippet's source text for
// constructs that reach outside the sandbox's own process model —
// spawning a shell, loading native code, or dynamically importing an
// unlisted module. Adapted from haasonsaas-nexus's shell-metacharacter
// scanner (internal/tools/security.AnalyzeCommand), which scans a shell
// command string for chaining/redirect/subshell tokens; here the input
// is a TypeScript or Python snippet, not a shell command, so the pattern
// catalog is substrings of process-spawning/dynamic-import APIs instead
// of shell metacharacters.
package dangercheck

import "strings"

// Finding is one dangerous construct located in a snippet.
type Finding struct {
	Pattern  string `json:"pattern"`
	Position int    `json:"position"`
	Risk     string `json:"risk"`
}

// Analysis is the result of scanning one snippet.
type Analysis struct {
	IsSafe   bool      `json:"isSafe"`
	Findings []Finding `json:"findings,omitempty"`
}

// riskDescriptions explains each risk category a matched pattern belongs to.
var riskDescriptions = map[string]string{
	"process_spawn":  "spawns a child process, escaping the sandbox's own process limits",
	"dynamic_eval":   "evaluates a string as code at runtime, bypassing static review",
	"dynamic_import": "imports a module whose name isn't known until runtime",
	"native_bridge":  "loads native/foreign code outside the interpreter's own sandboxing",
}

// patterns maps a source substring to the risk category it indicates.
// TypeScript/JavaScript and Python patterns are both checked regardless
// of the snippet's declared language: a Python snippet containing
// "child_process" is inert but a language mismatch is not this package's
// job to catch, and checking both catalogs costs nothing.
var patterns = map[string]string{
	"child_process":              "process_spawn",
	"require(\"child_process\")": "process_spawn",
	"os.system(":                 "process_spawn",
	"os.popen(":                  "process_spawn",
	"subprocess.":                "process_spawn",
	"eval(":                      "dynamic_eval",
	"Function(":                  "dynamic_eval",
	"exec(":                      "dynamic_eval",
	"__import__(":                "dynamic_import",
	"importlib.":                 "dynamic_import",
	"ctypes.":                    "native_bridge",
	"process.binding(":           "native_bridge",
}

// orderedPatterns lists patterns longest-first so a more specific match
// (e.g. "os.system(") is reported instead of a prefix overlapping it.
var orderedPatterns = sortedByLengthDesc(patterns)

// Analyze scans source for every pattern in the catalog and reports each
// occurrence found, along with whether the snippet is considered safe
// (no occurrences at all).
func Analyze(source string) *Analysis {
	analysis := &Analysis{IsSafe: true}
	if source == "" {
		return analysis
	}

	for _, pattern := range orderedPatterns {
		risk := patterns[pattern]
		searchFrom := 0
		for {
			idx := strings.Index(source[searchFrom:], pattern)
			if idx == -1 {
				break
			}
			pos := searchFrom + idx
			analysis.Findings = append(analysis.Findings, Finding{
				Pattern:  pattern,
				Position: pos,
				Risk:     risk,
			})
			searchFrom = pos + len(pattern)
		}
	}

	if len(analysis.Findings) > 0 {
		analysis.IsSafe = false
	}
	return analysis
}

// RiskDescription returns the human-readable explanation for risk, or ""
// if risk is not a known category.
func RiskDescription(risk string) string {
	return riskDescriptions[risk]
}

func sortedByLengthDesc(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j-1]) < len(out[j]); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
