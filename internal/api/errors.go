// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeHTTPStatus
	ErrTypeReset
	ErrTypeAborted
	ErrTypeClosed
	ErrTypeTimeout
	ErrTypeConnection
	ErrTypeNetwork
	ErrTypeInvalidResponse
)

// String returns a stable label, used as a metrics dimension.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeHTTPStatus:
		return "http_status"
	case ErrTypeReset:
		return "reset"
	case ErrTypeAborted:
		return "aborted"
	case ErrTypeClosed:
		return "closed"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeNetwork:
		return "network"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// ClientError represents an error from the API client.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// UserMessage is the text shown to the user. The named transport categories
// hide the low-level cause; the generic ones keep it.
func (e *ClientError) UserMessage() string {
	switch e.Type {
	case ErrTypeReset, ErrTypeAborted, ErrTypeClosed, ErrTypeTimeout:
		return e.Message
	default:
		return e.Error()
	}
}

// Sentinel errors for easy checking.
var (
	ErrNotConfigured = errors.New("api client has no base URL")

	// errReadTimeout is the cancel cause used by the stream idle watchdog.
	errReadTimeout = errors.New("stream read timeout")

	// errDrainTimeout ends the read after a finish_reason once DrainTimeout
	// has passed.
	errDrainTimeout = errors.New("stream drain timeout")
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classify maps a transport failure onto one of the user-facing categories:
// abort (typically the process being backgrounded or the socket torn down
// locally), reset by peer, unexpected close, timeout, or generic.
// It returns nil for nil and for context cancellation, which is not an error.
func Classify(err error) *ClientError {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "abort"):
		return &ClientError{Type: ErrTypeAborted, Message: "Connection interrupted (app may have been backgrounded)", Cause: err}
	case strings.Contains(msg, "reset"):
		return &ClientError{Type: ErrTypeReset, Message: "Connection reset by server", Cause: err}
	case isTimeout(err) || strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return &ClientError{Type: ErrTypeTimeout, Message: "Connection timed out", Cause: err}
	case errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(msg, "closed") || strings.Contains(msg, "eof"):
		return &ClientError{Type: ErrTypeClosed, Message: "Connection closed unexpectedly", Cause: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ClientError{Type: ErrTypeConnection, Message: "Connection error", Cause: err}
	}
	return &ClientError{Type: ErrTypeNetwork, Message: "Network error", Cause: err}
}

// isTimeout checks the typed timeout signals before falling back to text.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, errReadTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// httpStatusError builds the single error reported for a non-2xx response.
func httpStatusError(code int, body []byte) *ClientError {
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = "Unknown error"
	}
	return &ClientError{
		Type:       ErrTypeHTTPStatus,
		StatusCode: code,
		Message:    fmt.Sprintf("HTTP %d: %s", code, text),
	}
}

// =============================================================================
// PREDICATES
// =============================================================================

func hasType(err error, t ErrorType) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == t
	}
	return false
}

// IsTimeout reports whether err is a classified timeout.
func IsTimeout(err error) bool {
	return hasType(err, ErrTypeTimeout)
}

// IsReset reports whether the peer reset the connection.
func IsReset(err error) bool { return hasType(err, ErrTypeReset) }

// IsAborted reports whether the connection was aborted locally.
func IsAborted(err error) bool { return hasType(err, ErrTypeAborted) }

// IsClosed reports whether the connection closed mid-response.
func IsClosed(err error) bool { return hasType(err, ErrTypeClosed) }

// IsHTTPStatus reports whether err is a non-2xx response and returns its code.
func IsHTTPStatus(err error) (int, bool) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ErrTypeHTTPStatus {
		return clientErr.StatusCode, true
	}
	return 0, false
}
