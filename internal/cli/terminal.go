// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - What the attached terminal can do.
//
// A terminal on stdout gets colors, Markdown rendering and live redraws.
// Piped output gets the raw text, so `hexai ... | less` stays readable.

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// DefaultTerminalWidth is used when stdout is not a terminal.
const DefaultTerminalWidth = 80

// minWrapWidth keeps glamour from wrapping into a sliver.
const minWrapWidth = 40

// ErrNoTerminal is returned by prompts that need a keyboard.
var ErrNoTerminal = errors.New("stdin is not a terminal")

// capabilities is detected on first use.
type capabilities struct {
	stdoutTTY bool
	profile   termenv.Profile
}

var (
	caps     capabilities
	capsOnce sync.Once
)

func detect() capabilities {
	capsOnce.Do(func() {
		out := termenv.NewOutput(os.Stdout)
		caps.stdoutTTY = term.IsTerminal(int(os.Stdout.Fd()))

		// EnvColorProfile honours NO_COLOR and CLICOLOR_FORCE. FORCE_COLOR is
		// the other common spelling.
		caps.profile = out.EnvColorProfile()
		if os.Getenv("FORCE_COLOR") != "" && os.Getenv("NO_COLOR") == "" && caps.profile == termenv.Ascii {
			caps.profile = termenv.ANSI256
		}
	})
	return caps
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return detect().stdoutTTY
}

// ColorsEnabled reports whether styled output is in use.
func ColorsEnabled() bool {
	return detect().profile != termenv.Ascii
}

// GetColorProfile returns the profile used by lipgloss and the live view.
func GetColorProfile() termenv.Profile {
	return detect().profile
}

// ForceColorsEnabled overrides detection. Tests only.
func ForceColorsEnabled(enabled bool) {
	detect()
	caps.profile = termenv.Ascii
	if enabled {
		caps.profile = termenv.ANSI256
	}
}

// GetTerminalWidth returns the stdout width in columns.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	switch {
	case err != nil || width <= 0:
		return DefaultTerminalWidth
	case width < minWrapWidth:
		return minWrapWidth
	}
	return width
}

// ReadSecret prompts on stderr and reads one line without echo.
func ReadSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot read a secret: %w", ErrNoTerminal)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
