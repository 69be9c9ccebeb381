package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhao-xuan/project-zohar-sub000/internal/buildinfo"
)

// protocolVersion is the MCP protocol version we advertise during
// initialization.
const protocolVersion = "2024-11-05"

// clientName is the identity sent in the initialize clientInfo.
const clientName = "zohar"

// wireTool is an MCP tool as returned by tools/list.
type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []wireTool `json:"tools"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// ServiceInfo is a point-in-time snapshot of one service's client,
// suitable for JSON serialization in status surfaces. For a Running
// client it additionally carries the server's negotiated protocol
// version, capabilities, and identity, obtained by re-sending
// initialize (a liveness-adjacent call, not a cache read).
type ServiceInfo struct {
	ServiceID       string         `json:"service_id"`
	Name            string         `json:"name"`
	Status          Status         `json:"status"`
	Error           string         `json:"error,omitempty"`
	ProtocolVersion string         `json:"protocol_version,omitempty"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerName      string         `json:"server_name,omitempty"`
	ServerVersion   string         `json:"server_version,omitempty"`
	ToolCount       int            `json:"tools_count"`
}

// Client owns exactly one ServiceDescriptor and one transport, and
// implements the MCP protocol operations against it: the initialize
// handshake, tool discovery, and tool invocation.
//
// Lifecycle failures (Connect) are absorbed into the Error status and
// LastError so one misbehaving service never takes down its peers;
// invocation failures (CallTool) surface to the caller as typed errors.
type Client struct {
	descriptor *ServiceDescriptor
	transport  Transport
	logger     *slog.Logger

	// lifecycleMu serializes Connect/Disconnect against each other.
	// Protocol calls are serialized by the transport itself.
	lifecycleMu sync.Mutex

	mu         sync.RWMutex
	status     Status
	lastErr    string
	tools      map[string]ToolDescriptor
	retryCount int
}

// NewClient creates a protocol client for the given service. The
// transport determines how messages are delivered.
func NewClient(d *ServiceDescriptor, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		descriptor: d,
		transport:  transport,
		logger:     logger.With("service", d.ID),
		status:     StatusStopped,
		tools:      make(map[string]ToolDescriptor),
	}
}

// Descriptor returns the immutable service configuration.
func (c *Client) Descriptor() *ServiceDescriptor {
	return c.descriptor
}

// Status returns the current lifecycle state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastError returns the most recent lifecycle failure, or "" if the
// last transition succeeded.
func (c *Client) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// RetryCount returns the cumulative number of automatic restarts the
// health loop has attempted for this client. It is never reset on a
// successful restart — it is a lifetime total, bounded by the
// descriptor's max_retries.
func (c *Client) RetryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryCount
}

// bumpRetry increments the cumulative retry count and returns the new
// value. Called only by the manager's health loop.
func (c *Client) bumpRetry() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount++
	return c.retryCount
}

// Connect opens the transport and performs the MCP handshake: an
// initialize request, the initialized notification, then an immediate
// tools/list to populate the tool cache. On success the status is
// Running and LastError is cleared.
//
// Any failure — connection refused, timeout, malformed response, or a
// JSON-RPC error — is recorded as status Error with LastError set, and
// returned. Connect never panics; callers that ignore the error can
// read the outcome from Status.
func (c *Client) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.setStatus(StatusStarting)

	reqCtx, cancel := context.WithTimeout(ctx, c.descriptor.Timeout())
	defer cancel()

	init, err := c.initialize(reqCtx)
	if err != nil {
		return c.fail(fmt.Errorf("initialize: %w", err))
	}

	if err := c.transport.Notify(reqCtx, NewNotification("notifications/initialized", nil)); err != nil {
		return c.fail(fmt.Errorf("send initialized notification: %w", err))
	}

	if _, err := c.refreshTools(reqCtx); err != nil {
		return c.fail(fmt.Errorf("tools/list: %w", err))
	}

	c.mu.Lock()
	c.status = StatusRunning
	c.lastErr = ""
	toolCount := len(c.tools)
	c.mu.Unlock()

	c.logger.Info("connected to MCP service",
		"server_name", init.ServerInfo.Name,
		"server_version", init.ServerInfo.Version,
		"protocol_version", init.ProtocolVersion,
		"tools", toolCount,
	)
	return nil
}

// Disconnect closes the transport. The status passes through Stopping
// to Stopped. Safe to call on a client that is already stopped.
func (c *Client) Disconnect() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.setStatus(StatusStopping)
	err := c.transport.Close()
	c.setStatus(StatusStopped)

	if err != nil {
		c.logger.Warn("error closing transport", "error", err)
	}
	return err
}

// CallTool invokes a tool by name with opaque JSON arguments.
//
// Preconditions are checked before any transport traffic: the client
// must be Running (ErrServiceNotRunning) and the name must be in the
// tool cache (ErrToolNotFound — no request is sent). The timeout
// argument bounds the call; zero falls back to the descriptor default.
//
// A JSON-RPC error in the response becomes a *ToolCallError carrying
// the protocol payload; a deadline becomes ErrToolCallTimeout. Neither
// changes the client's status — the connection is assumed still usable.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	c.mu.RLock()
	status := c.status
	_, known := c.tools[name]
	c.mu.RUnlock()

	if status != StatusRunning {
		return nil, fmt.Errorf("service %s: %w (status %s)", c.descriptor.ID, ErrServiceNotRunning, status)
	}
	if !known {
		return nil, fmt.Errorf("service %s has no tool %q: %w", c.descriptor.ID, name, ErrToolNotFound)
	}

	if timeout <= 0 {
		timeout = c.descriptor.Timeout()
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := NewRequest("tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})

	resp, err := c.transport.Send(reqCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool %q on service %s: %w", name, c.descriptor.ID, ErrToolCallTimeout)
		}
		return nil, fmt.Errorf("tool %q on service %s: %w", name, c.descriptor.ID, err)
	}

	if resp.Error != nil {
		return nil, &ToolCallError{
			Tool:    name,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}

	return resp.Result, nil
}

// ListTools sends tools/list and atomically replaces the tool cache
// with the result. The manager's health loop uses this as its liveness
// probe: it round-trips through the transport and revalidates the
// cache in one call.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if c.Status() != StatusRunning {
		return nil, fmt.Errorf("service %s: %w", c.descriptor.ID, ErrServiceNotRunning)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.descriptor.Timeout())
	defer cancel()

	return c.refreshTools(reqCtx)
}

// Tools returns the cached tool descriptors without touching the wire.
func (c *Client) Tools() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(c.tools))
	for _, td := range c.tools {
		out = append(out, td)
	}
	return out
}

// Info reports a status snapshot. For a Running client it re-sends
// initialize so the reported capabilities and server identity are
// live, not cached; a failure during that probe is folded into the
// snapshot's Error field rather than returned.
func (c *Client) Info(ctx context.Context) ServiceInfo {
	info := ServiceInfo{
		ServiceID: c.descriptor.ID,
		Name:      c.descriptor.Name,
	}

	c.mu.RLock()
	info.Status = c.status
	info.Error = c.lastErr
	info.ToolCount = len(c.tools)
	c.mu.RUnlock()

	if info.Status != StatusRunning {
		return info
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.descriptor.Timeout())
	defer cancel()

	init, err := c.initialize(reqCtx)
	if err != nil {
		info.Error = err.Error()
		return info
	}

	info.ProtocolVersion = init.ProtocolVersion
	info.Capabilities = init.Capabilities
	info.ServerName = init.ServerInfo.Name
	info.ServerVersion = init.ServerInfo.Version
	return info
}

// Close shuts down the client and its transport.
func (c *Client) Close() error {
	return c.Disconnect()
}

// initialize sends the initialize request and parses the result.
func (c *Client) initialize(ctx context.Context) (*initializeResult, error) {
	req := NewRequest("initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": buildinfo.Version,
		},
	})

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal initialize result: %w", err)
	}
	return &result, nil
}

// refreshTools performs the tools/list wire call and replaces the
// cache wholesale. No status precondition — Connect calls it while
// still Starting.
func (c *Client) refreshTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := c.transport.Send(ctx, NewRequest("tools/list", nil))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	tools := make([]ToolDescriptor, 0, len(result.Tools))
	cache := make(map[string]ToolDescriptor, len(result.Tools))
	for _, wt := range result.Tools {
		td := ToolDescriptor{
			Name:        wt.Name,
			Description: wt.Description,
			Parameters:  wt.InputSchema,
			ServiceID:   c.descriptor.ID,
			Enabled:     true,
		}
		tools = append(tools, td)
		cache[td.Name] = td
	}

	c.mu.Lock()
	c.tools = cache
	c.mu.Unlock()

	return tools, nil
}

// markUnhealthy records a health probe failure: status Error with the
// probe error as LastError. Called only by the manager's health loop.
func (c *Client) markUnhealthy(err error) {
	c.mu.Lock()
	c.status = StatusError
	c.lastErr = err.Error()
	c.mu.Unlock()
}

// setStatus updates the lifecycle state.
func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// fail records a lifecycle failure and returns err unchanged.
func (c *Client) fail(err error) error {
	c.mu.Lock()
	c.status = StatusError
	c.lastErr = err.Error()
	c.mu.Unlock()

	c.logger.Error("failed to connect to MCP service", "error", err)
	return err
}
