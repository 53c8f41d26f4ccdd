// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error display and exit codes for hexai commands.
//
// Commands always return errors; Execute displays them once and maps them
// to an exit code.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cjct-dev/HexAI/internal/api"
	"github.com/cjct-dev/HexAI/internal/config"
	"github.com/cjct-dev/HexAI/internal/export"
	"github.com/cjct-dev/HexAI/internal/probe"
	"github.com/cjct-dev/HexAI/internal/session"
	"github.com/cjct-dev/HexAI/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError wraps a failed command with the action being performed.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError is an invalid argument.
type UsageError struct {
	Arg     string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Arg, e.Reason)
	if e.Example != "" {
		msg += "\nExample: " + e.Example
	}
	return msg
}

// ErrMissingArgument reports a required argument that was not given.
func ErrMissingArgument(arg, example string) error {
	return &UsageError{Arg: arg, Reason: "required argument missing", Example: example}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON when jsonMode is set.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	hint := errorHint(err)
	if jsonMode {
		out := map[string]any{
			"success":   false,
			"error":     err.Error(),
			"exit_code": GetExitCode(err),
		}
		if hint != "" {
			out["hint"] = hint
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if hint != "" {
		fmt.Fprintln(w, DimStyle.Render("Hint: "+hint))
	}
}

// errorHint suggests a next step for connection failures.
func errorHint(err error) string {
	switch {
	case api.IsReset(err), api.IsClosed(err):
		return "the server dropped the connection; check that it is still running"
	case api.IsAborted(err):
		return "the connection was interrupted on this machine; try again"
	case api.IsTimeout(err):
		return "the server did not answer in time; a large model may still be loading"
	}
	if code, ok := api.IsHTTPStatus(err); ok && (code == http.StatusUnauthorized || code == http.StatusForbidden) {
		return "set an API key with --api-key or 'hexai config set server.api_key ...'"
	}
	return ""
}

// GetExitCode maps an error to an exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}

	var verrs config.ValidateErrors
	var verr config.ValidationError
	if errors.As(err, &verrs) || errors.As(err, &verr) ||
		errors.Is(err, probe.ErrBlankURL) || errors.Is(err, probe.ErrUnsupportedScheme) {
		return ExitConfigError
	}

	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, export.ErrNoMessages) {
		return ExitNotFoundError
	}

	if code, ok := api.IsHTTPStatus(err); ok {
		switch code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ExitAuthError
		case http.StatusNotFound:
			return ExitNotFoundError
		}
		return ExitNetworkError
	}
	if api.IsTimeout(err) {
		return ExitTimeoutError
	}

	var clientErr *api.ClientError
	if errors.As(err, &clientErr) || errors.Is(err, session.ErrNotConnected) {
		return ExitNetworkError
	}

	return ExitGeneralError
}
