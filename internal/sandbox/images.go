package sandbox

import "github.com/ChamsBouzaiene/dodo/internal/model"

// defaultImage returns the Docker image used to run one execution's
// snippet, selected by the submitted language rather than by inspecting a
// checked-out repository's project files (the teacher's
// workspace.DetectProjectType): a sandboxed snippet has no repository to
// inspect, only a language the caller declared up front.
func defaultImage(lang model.Language, override string) string {
	if override != "" {
		return override
	}
	switch lang {
	case model.LanguageTypeScript:
		return "node:22-slim"
	case model.LanguagePython:
		return "python:3.12-slim"
	default:
		return "node:22-slim"
	}
}

// interpreterCommand returns the in-container invocation that runs
// scratchPath for the given language.
func interpreterCommand(lang model.Language, scratchPath string) (string, []string) {
	switch lang {
	case model.LanguagePython:
		return "python3", []string{scratchPath}
	default:
		// The TypeScript image bundles a global ts-node so snippets run
		// directly without a separate compile step.
		return "ts-node", []string{"--transpile-only", scratchPath}
	}
}
