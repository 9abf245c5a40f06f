// Package errors defines the error taxonomy shared across the fetch client.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorCode string

const (
	ErrCodeConfiguration  ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeProcessStart   ErrorCode = "PROCESS_START_ERROR"
	ErrCodeProtocol       ErrorCode = "PROTOCOL_VIOLATION"
	ErrCodeToolCall       ErrorCode = "TOOL_CALL_ERROR"
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeServerNotFound ErrorCode = "SERVER_NOT_FOUND"
)

var (
	// ErrNoServerConfig is returned when no resolution strategy produced a
	// usable server configuration. Fatal; requires operator action.
	ErrNoServerConfig = errors.New("no usable server configuration found")

	// ErrServerNotFound is returned when account resolution matched no
	// initialized server process.
	ErrServerNotFound = errors.New("no server found for account")

	// ErrAmbiguousServer is returned when an account name matches more than
	// one configured server at the same rank.
	ErrAmbiguousServer = errors.New("account name matches multiple servers")

	// ErrServerNotReady is returned when a call is issued against a process
	// that is not in the ready state.
	ErrServerNotReady = errors.New("server process not ready")
)

// ProcessStartError reports a child process that failed to launch or
// complete its handshake. Isolated to one server; siblings are unaffected.
type ProcessStartError struct {
	Server string
	Stage  string // "start" or "handshake"
	Err    error
}

func (e *ProcessStartError) Error() string {
	return fmt.Sprintf("server %s failed during %s: %v", e.Server, e.Stage, e.Err)
}

func (e *ProcessStartError) Unwrap() error { return e.Err }

// ProtocolViolation reports a broken wire exchange: a response id that does
// not match the outstanding request, a malformed line, or a pipe closed
// mid-call. The process is unusable afterwards.
type ProtocolViolation struct {
	Server string
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation on server %s: %s", e.Server, e.Reason)
}

// ToolCallError reports an error object returned by the server for a tool
// call. The message comes from the server and never includes credentials.
type ToolCallError struct {
	Server  string
	Tool    string
	Message string
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("tool %s failed on server %s: %s", e.Tool, e.Server, e.Message)
}

// ValidationError reports a fetch that succeeded structurally but returned
// semantically empty data. Always fatal to the fetch; no partial result is
// returned alongside it.
type ValidationError struct {
	Account    string
	StartDate  string
	EndDate    string
	Violations []string
	Warnings   []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "data validation failed for %s", e.Account)
	if e.StartDate != "" && e.EndDate != "" {
		fmt.Fprintf(&b, " (%s to %s)", e.StartDate, e.EndDate)
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(e.Violations, "; "))
	if len(e.Warnings) > 0 {
		fmt.Fprintf(&b, " (warnings: %s)", strings.Join(e.Warnings, "; "))
	}
	return b.String()
}
