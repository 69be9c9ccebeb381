package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by client and manager operations. Callers
// discriminate with errors.Is; the distinction between ErrToolCallTimeout
// and a *ToolCallError matters for retry decisions — a timeout says
// nothing about the tool, a ToolCallError is the tool itself reporting
// failure.
var (
	// ErrServiceNotFound is returned when an operation names a service
	// id that is not registered with the manager.
	ErrServiceNotFound = errors.New("mcp: service not found")

	// ErrServiceNotRunning is returned when a tool call targets a
	// service whose client is not in the Running state.
	ErrServiceNotRunning = errors.New("mcp: service is not running")

	// ErrToolNotFound is returned when no running service provides the
	// requested tool. No request is sent in this case.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrToolCallTimeout is returned when a tool call exceeds its
	// deadline. The client's status is left unchanged — the connection
	// is assumed still usable.
	ErrToolCallTimeout = errors.New("mcp: tool call timed out")

	// ErrUnsupportedTransport is returned at client construction for an
	// unrecognized connection type.
	ErrUnsupportedTransport = errors.New("mcp: unsupported connection type")
)

// ToolCallError is returned when a tools/call response carries a
// JSON-RPC error object: the request round-tripped, but the tool
// execution failed. The protocol error payload is preserved.
type ToolCallError struct {
	Tool    string
	Code    int
	Message string
	Data    any
}

// Error implements the error interface.
func (e *ToolCallError) Error() string {
	return fmt.Sprintf("mcp: tool %q failed: %s (code %d)", e.Tool, e.Message, e.Code)
}
