// Package identity detects which agent runs the current process.
//
// Agent runtimes mark their sessions with environment variables. Detect maps them
// to the holder names used in lock descriptors:
//
//	CODEX_SESSION                        -> codex
//	CLAUDE_CODE_SESSION                  -> claude_code
//	ANTIGRAVITY_SESSION, GEMINI_SESSION  -> antigravity
//	AGENT_SOURCE                         -> its value
//	(none of the above)                  -> unknown
//
// The first non-empty variable in this order wins. Detect has the signature of
// lockmgr.HolderFunc and is meant to be passed to lockmgr.Options.
package identity

import "os"

const (
	Codex       = "codex"
	ClaudeCode  = "claude_code"
	Antigravity = "antigravity"
	Unknown     = "unknown"
)

// Detect returns the identity of the calling agent from the process environment.
func Detect() string {
	return DetectFrom(os.Getenv)
}

// DetectFrom returns the identity of the calling agent using getenv to read variables.
func DetectFrom(getenv func(string) string) string {
	switch {
	case getenv("CODEX_SESSION") != "":
		return Codex
	case getenv("CLAUDE_CODE_SESSION") != "":
		return ClaudeCode
	case getenv("ANTIGRAVITY_SESSION") != "", getenv("GEMINI_SESSION") != "":
		return Antigravity
	}
	if source := getenv("AGENT_SOURCE"); source != "" {
		return source
	}
	return Unknown
}
