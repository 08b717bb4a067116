package tools

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMissingInput is returned when a command's input file does not exist,
// either before launch or as reported on its stderr.
var ErrMissingInput = errors.New("missing input")

// Stderr patterns the tools print for unreadable inputs and unreachable
// servers.
var (
	reMissingInput = regexp.MustCompile(
		`(?i)Could not open image|Image Exception.*(not|cannot) (be )?(open|read|found)|` +
			`No such file or directory|does not exist`)

	reServerUnreachable = regexp.MustCompile(
		`(?i)Connection refused|Failed to establish a new connection|` +
			`Max retries exceeded|Name or service not known|503 Service Unavailable`)
)

// MatchMissingInput reports whether stderr says an input could not be opened.
func MatchMissingInput(stderr string) bool {
	return reMissingInput.MatchString(stderr)
}

// MatchServerUnreachable reports whether stderr says the AIAA server could
// not be reached.
func MatchServerUnreachable(stderr string) bool {
	return reServerUnreachable.MatchString(stderr)
}

// ToolError is a failed invocation.
type ToolError struct {
	Tool   string
	Stderr string // last lines of stderr
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMissingInput) match failures whose stderr names
// a missing input.
func (e *ToolError) Is(target error) bool {
	return target == ErrMissingInput && MatchMissingInput(e.Stderr)
}

// Hint returns a short remediation note for known failure modes.
func (e *ToolError) Hint() string {
	switch {
	case MatchMissingInput(e.Stderr):
		return "an input volume is missing or unreadable"
	case MatchServerUnreachable(e.Stderr):
		return "the AIAA server is not reachable; check aiaa.server"
	}
	return ""
}

const tailLines = 5

// tail keeps the last tailLines non-empty lines of s.
func tail(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	var kept []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	if len(kept) > tailLines {
		kept = kept[len(kept)-tailLines:]
	}
	return strings.Join(kept, "\n")
}
