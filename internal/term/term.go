// Package term provides color state and terminal detection.
//
// Colors are package-level sprint functions because multiple packages
// (logging, display) need them for output formatting. [Configure] sets the
// color mode once during startup; when colors are disabled the functions
// return their arguments unchanged.
package term

import (
	"os"

	"github.com/backmassage/neuroprep/internal/config"
	"github.com/fatih/color"
)

// Sprint functions per log level. Plain text when colors are disabled.
var (
	Red     = color.New(color.FgHiRed, color.Bold).SprintFunc()
	Green   = color.New(color.FgHiGreen, color.Bold).SprintFunc()
	Yellow  = color.New(color.FgHiYellow, color.Bold).SprintFunc()
	Blue    = color.New(color.FgHiBlue, color.Bold).SprintFunc()
	Cyan    = color.New(color.FgHiCyan, color.Bold).SprintFunc()
	Magenta = color.New(color.FgHiMagenta, color.Bold).SprintFunc()
)

// autoNoColor is fatih/color's own detection (TTY, NO_COLOR, TERM=dumb),
// captured before Configure overwrites the global.
var autoNoColor = color.NoColor

// Configure resolves the color mode. Call once during startup (from
// [logging.NewLogger]).
func Configure(mode config.ColorMode) {
	color.NoColor = !resolve(mode)
}

// Enabled reports whether colors are currently active.
func Enabled() bool { return !color.NoColor }

func resolve(mode config.ColorMode) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	default: // ColorAuto
		return !autoNoColor
	}
}

// IsTerminal reports whether f is attached to a TTY (character device).
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
