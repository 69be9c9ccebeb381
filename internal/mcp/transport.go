package mcp

import (
	"context"
	"fmt"
	"log/slog"
)

// Transport is the interface for MCP server communication.
// Implementations handle the details of sending JSON-RPC requests and
// receiving responses over a specific binding (stdio, websocket, http).
//
// Transports do not multiplex: there is no id→pending map, so only one
// request may be outstanding per connection. Every implementation
// serializes Send internally; concurrent callers block.
type Transport interface {
	// Send sends a JSON-RPC request and returns the matching response.
	// The transport handles framing, encoding, and correlation.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	// For stdio transports this terminates the subprocess.
	Close() error
}

// TransportFactory constructs a transport for a service descriptor.
// The manager uses NewTransport by default; tests substitute fakes.
type TransportFactory func(d *ServiceDescriptor, logger *slog.Logger) (Transport, error)

// NewTransport selects and constructs the transport binding for the
// descriptor's connection type. The choice is made once, at client
// construction.
func NewTransport(d *ServiceDescriptor, logger *slog.Logger) (Transport, error) {
	switch d.ConnectionType {
	case ConnStdio, ConnSubprocess:
		return NewStdioTransport(StdioConfig{
			Command: d.Command,
			Args:    d.Args,
			Env:     envList(d.Env),
			Logger:  logger,
		}), nil
	case ConnWebSocket:
		return NewWSTransport(WSConfig{
			Endpoint: d.Endpoint,
			Logger:   logger,
		}), nil
	case ConnHTTP:
		return NewHTTPTransport(HTTPConfig{
			URL:    d.Endpoint,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("service %s: %w: %q", d.ID, ErrUnsupportedTransport, d.ConnectionType)
	}
}

// envList converts a descriptor env map to the "KEY=VALUE" form used by
// os/exec.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
