package mcp

import (
	"fmt"
	"time"
)

// ConnectionType selects the transport binding for a service.
type ConnectionType string

// Supported connection types. Stdio and Subprocess share the same
// transport implementation; both names are accepted in config files.
const (
	ConnStdio      ConnectionType = "stdio"
	ConnSubprocess ConnectionType = "subprocess"
	ConnWebSocket  ConnectionType = "websocket"
	ConnHTTP       ConnectionType = "http"
)

// Status is the lifecycle state of a service's protocol client.
//
// Transitions: Stopped → Starting → Running → Stopping → Stopped, with
// Starting/Running → Error on any failure. No transition skips an
// intermediate state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceDescriptor is the immutable configuration record for one
// external MCP tool provider. Descriptors are replaced, never mutated:
// to change a service's configuration, unregister it and register a new
// descriptor under the same id.
//
// The JSON field names match the persisted registry format.
type ServiceDescriptor struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	ConnectionType ConnectionType `json:"connection_type"`

	// Endpoint is the URL for websocket and http connections.
	Endpoint string `json:"endpoint"`

	// Command, Args, and Env configure stdio/subprocess connections.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`

	AutoStart        bool `json:"auto_start"`
	RestartOnFailure bool `json:"restart_on_failure"`

	// MaxRetries bounds automatic restarts over the service's lifetime.
	MaxRetries int `json:"max_retries"`

	// TimeoutSeconds is the default per-request timeout.
	TimeoutSeconds int `json:"timeout"`

	Metadata map[string]any `json:"metadata"`
}

// Validate checks that the descriptor is complete enough to construct
// a client for it.
func (d *ServiceDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("service descriptor has empty id")
	}

	switch d.ConnectionType {
	case ConnStdio, ConnSubprocess:
		if d.Command == "" {
			return fmt.Errorf("service %s: command is required for %s connections", d.ID, d.ConnectionType)
		}
	case ConnWebSocket, ConnHTTP:
		if d.Endpoint == "" {
			return fmt.Errorf("service %s: endpoint is required for %s connections", d.ID, d.ConnectionType)
		}
	default:
		return fmt.Errorf("service %s: %w: %q", d.ID, ErrUnsupportedTransport, d.ConnectionType)
	}

	return nil
}

// Timeout returns the descriptor's default request timeout, falling
// back to 30 seconds when unset.
func (d *ServiceDescriptor) Timeout() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// ToolDescriptor is one tool advertised by a service via tools/list.
// ServiceID is a back-reference to the owning service, not an
// ownership link; the catalog holds descriptors after their service
// stops only until the stop is processed.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	ServiceID   string         `json:"service_id"`
	Enabled     bool           `json:"enabled"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
