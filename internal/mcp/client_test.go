package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockTransport is a test double for the Transport interface. Responses
// are canned per method; methods listed in blocking never respond and
// wait for the caller's context to expire instead.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]*Response // method -> canned response
	listErrs  []error              // queued tools/list outcomes, popped per call
	blocking  map[string]bool      // methods that hang until ctx is done
	sent      []Request
	notifs    []Notification
	closed    bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(map[string]*Response),
		blocking:  make(map[string]bool),
	}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(data),
	}
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

func (m *mockTransport) blockOn(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocking[method] = true
}

// queueListOutcomes sets the results of the next tools/list calls, in
// order. A nil entry means success with the canned response; once the
// queue drains, tools/list succeeds again.
func (m *mockTransport) queueListOutcomes(outcomes ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErrs = append(m.listErrs, outcomes...)
}

func (m *mockTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.sent = append(m.sent, *req)
	blocking := m.blocking[req.Method]

	if req.Method == "tools/list" && len(m.listErrs) > 0 {
		next := m.listErrs[0]
		m.listErrs = m.listErrs[1:]
		if next != nil {
			m.mu.Unlock()
			return nil, next
		}
	}

	resp, ok := m.responses[req.Method]
	m.mu.Unlock()

	if blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}

	// Copy response and set matching ID.
	out := *resp
	out.ID = req.ID
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) methodCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.sent {
		if req.Method == method {
			n++
		}
	}
	return n
}

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockTransport) wasClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// healthyMock returns a mock transport that completes the full
// handshake and advertises the given tools.
func healthyMock(toolNames ...string) *mockTransport {
	mt := newMockTransport()
	mt.addResponse("initialize", initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      serverInfo{Name: "test-server", Version: "1.0.0"},
		Capabilities:    map[string]any{"tools": map[string]any{}},
	})

	tools := make([]wireTool, 0, len(toolNames))
	for _, name := range toolNames {
		tools = append(tools, wireTool{
			Name:        name,
			Description: "test tool " + name,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	mt.addResponse("tools/list", toolsListResult{Tools: tools})
	mt.addResponse("tools/call", map[string]any{"content": []any{}})
	return mt
}

func testDescriptor(id string) *ServiceDescriptor {
	return &ServiceDescriptor{
		ID:             id,
		Name:           "Test " + id,
		ConnectionType: ConnSubprocess,
		Command:        "true",
		MaxRetries:     3,
		TimeoutSeconds: 5,
	}
}

func TestClient_Connect(t *testing.T) {
	mt := healthyMock("search", "fetch")
	client := NewClient(testDescriptor("svc"), mt, nil)

	if got := client.Status(); got != StatusStopped {
		t.Fatalf("initial status = %q, want %q", got, StatusStopped)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got := client.Status(); got != StatusRunning {
		t.Errorf("status = %q, want %q", got, StatusRunning)
	}
	if got := client.LastError(); got != "" {
		t.Errorf("LastError = %q, want empty", got)
	}

	// Handshake order: initialize, initialized notification, tools/list.
	if n := mt.methodCount("initialize"); n != 1 {
		t.Errorf("initialize sent %d times, want 1", n)
	}
	if len(mt.notifs) != 1 || mt.notifs[0].Method != "notifications/initialized" {
		t.Errorf("notifications = %+v, want one notifications/initialized", mt.notifs)
	}
	if n := mt.methodCount("tools/list"); n != 1 {
		t.Errorf("tools/list sent %d times, want 1", n)
	}

	if got := len(client.Tools()); got != 2 {
		t.Errorf("cached %d tools, want 2", got)
	}
}

func TestClient_ConnectSendsIdentity(t *testing.T) {
	mt := healthyMock()
	client := NewClient(testDescriptor("svc"), mt, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var init *Request
	mt.mu.Lock()
	for i := range mt.sent {
		if mt.sent[i].Method == "initialize" {
			init = &mt.sent[i]
			break
		}
	}
	mt.mu.Unlock()
	if init == nil {
		t.Fatal("no initialize request sent")
	}

	params, ok := init.Params.(map[string]any)
	if !ok {
		t.Fatalf("initialize params are %T, want map", init.Params)
	}
	if got := params["protocolVersion"]; got != "2024-11-05" {
		t.Errorf("protocolVersion = %v, want 2024-11-05", got)
	}
	clientInfo, ok := params["clientInfo"].(map[string]any)
	if !ok {
		t.Fatalf("clientInfo is %T, want map", params["clientInfo"])
	}
	if got := clientInfo["name"]; got != "zohar" {
		t.Errorf("clientInfo.name = %v, want zohar", got)
	}
}

func TestClient_ConnectInitializeError(t *testing.T) {
	mt := newMockTransport()
	mt.addError("initialize", -32603, "boom")

	client := NewClient(testDescriptor("svc"), mt, nil)
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if got := client.Status(); got != StatusError {
		t.Errorf("status = %q, want %q", got, StatusError)
	}
	if got := client.LastError(); got == "" {
		t.Error("LastError is empty after failed connect")
	}
}

func TestClient_ConnectToolsListError(t *testing.T) {
	mt := healthyMock()
	mt.addError("tools/list", -32603, "no tools for you")

	client := NewClient(testDescriptor("svc"), mt, nil)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := client.Status(); got != StatusError {
		t.Errorf("status = %q, want %q", got, StatusError)
	}
}

func TestClient_CallTool(t *testing.T) {
	mt := healthyMock("search")
	mt.addResponse("tools/call", map[string]any{
		"content": []any{map[string]any{"type": "text", "text": "hit"}},
	})

	client := NewClient(testDescriptor("svc"), mt, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	result, err := client.CallTool(context.Background(), "search", map[string]any{"query": "go"}, 0)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if _, ok := decoded["content"]; !ok {
		t.Errorf("result = %s, want content field", result)
	}
}

func TestClient_CallToolNotRunning(t *testing.T) {
	mt := healthyMock("search")
	client := NewClient(testDescriptor("svc"), mt, nil)

	_, err := client.CallTool(context.Background(), "search", nil, 0)
	if !errors.Is(err, ErrServiceNotRunning) {
		t.Fatalf("CallTool = %v, want ErrServiceNotRunning", err)
	}
	if mt.sentCount() != 0 {
		t.Errorf("sent %d requests, want 0 (precondition must fail before the wire)", mt.sentCount())
	}
}

func TestClient_CallToolUnknownTool(t *testing.T) {
	mt := healthyMock("search")
	client := NewClient(testDescriptor("svc"), mt, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	before := mt.sentCount()

	_, err := client.CallTool(context.Background(), "no-such-tool", nil, 0)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("CallTool = %v, want ErrToolNotFound", err)
	}
	if mt.sentCount() != before {
		t.Errorf("unknown tool reached the wire: %d requests sent", mt.sentCount()-before)
	}
}

func TestClient_CallToolTimeout(t *testing.T) {
	mt := healthyMock("slow")
	mt.blockOn("tools/call")

	client := NewClient(testDescriptor("svc"), mt, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := client.CallTool(context.Background(), "slow", nil, 50*time.Millisecond)
	if !errors.Is(err, ErrToolCallTimeout) {
		t.Fatalf("CallTool = %v, want ErrToolCallTimeout", err)
	}

	// A timed-out call must not disturb the service lifecycle.
	if got := client.Status(); got != StatusRunning {
		t.Errorf("status after timeout = %q, want %q", got, StatusRunning)
	}
}

func TestClient_CallToolRPCError(t *testing.T) {
	mt := healthyMock("search")
	mt.addError("tools/call", -32602, "invalid params")

	client := NewClient(testDescriptor("svc"), mt, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := client.CallTool(context.Background(), "search", nil, 0)
	var tcErr *ToolCallError
	if !errors.As(err, &tcErr) {
		t.Fatalf("CallTool = %v (%T), want *ToolCallError", err, err)
	}
	if tcErr.Tool != "search" || tcErr.Code != -32602 || tcErr.Message != "invalid params" {
		t.Errorf("ToolCallError = %+v", tcErr)
	}

	// Protocol-level failures leave the connection usable.
	if got := client.Status(); got != StatusRunning {
		t.Errorf("status = %q, want %q", got, StatusRunning)
	}
}

func TestClient_ListToolsReplacesCache(t *testing.T) {
	mt := healthyMock("alpha", "beta")
	client := NewClient(testDescriptor("svc"), mt, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The server drops beta and gains gamma.
	mt.addResponse("tools/list", toolsListResult{Tools: []wireTool{
		{Name: "alpha"},
		{Name: "gamma"},
	}})

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}

	names := make(map[string]bool)
	for _, td := range client.Tools() {
		names[td.Name] = true
	}
	if !names["gamma"] || names["beta"] {
		t.Errorf("cache = %v, want alpha+gamma (beta gone)", names)
	}

	// The stale name must be rejected without touching the wire.
	if _, err := client.CallTool(context.Background(), "beta", nil, 0); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("stale tool call = %v, want ErrToolNotFound", err)
	}
}

func TestClient_ListToolsNotRunning(t *testing.T) {
	client := NewClient(testDescriptor("svc"), healthyMock(), nil)
	if _, err := client.ListTools(context.Background()); !errors.Is(err, ErrServiceNotRunning) {
		t.Errorf("ListTools = %v, want ErrServiceNotRunning", err)
	}
}

func TestClient_Disconnect(t *testing.T) {
	mt := healthyMock("search")
	client := NewClient(testDescriptor("svc"), mt, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !mt.wasClosed() {
		t.Error("transport was not closed")
	}
	if got := client.Status(); got != StatusStopped {
		t.Errorf("status = %q, want %q", got, StatusStopped)
	}

	// Stopping a stopped client is a no-op.
	if err := client.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
}

func TestClient_Info(t *testing.T) {
	mt := healthyMock("search")
	client := NewClient(testDescriptor("svc"), mt, nil)

	info := client.Info(context.Background())
	if info.Status != StatusStopped {
		t.Errorf("stopped info.Status = %q", info.Status)
	}
	if info.ProtocolVersion != "" {
		t.Errorf("stopped info carries protocol version %q", info.ProtocolVersion)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	info = client.Info(context.Background())
	if info.Status != StatusRunning {
		t.Errorf("info.Status = %q, want %q", info.Status, StatusRunning)
	}
	if info.ProtocolVersion != "2024-11-05" {
		t.Errorf("info.ProtocolVersion = %q", info.ProtocolVersion)
	}
	if info.ServerName != "test-server" || info.ServerVersion != "1.0.0" {
		t.Errorf("server identity = %q/%q", info.ServerName, info.ServerVersion)
	}
	if info.ToolCount != 1 {
		t.Errorf("info.ToolCount = %d, want 1", info.ToolCount)
	}
}

// The lifecycle must pass through Starting before Running; cancelling
// mid-handshake lands in Error, never back in Stopped.
func TestClient_ConnectPassesThroughStarting(t *testing.T) {
	mt := healthyMock("search")
	mt.blockOn("initialize")

	client := NewClient(testDescriptor("svc"), mt, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		return client.Status() == StatusStarting
	}, "client to enter Starting")

	cancel()
	if err := <-errCh; err == nil {
		t.Fatal("Connect succeeded despite cancelled context")
	}
	if got := client.Status(); got != StatusError {
		t.Errorf("status = %q, want %q", got, StatusError)
	}
}

// hookTransport lets a test observe client state at Close time.
type hookTransport struct {
	*mockTransport
	onClose func()
}

func (h *hookTransport) Close() error {
	if h.onClose != nil {
		h.onClose()
	}
	return h.mockTransport.Close()
}

// Disconnect passes through Stopping while the transport shuts down.
func TestClient_DisconnectPassesThroughStopping(t *testing.T) {
	ht := &hookTransport{mockTransport: healthyMock("search")}
	client := NewClient(testDescriptor("svc"), ht, nil)

	var statusDuringClose Status
	ht.onClose = func() { statusDuringClose = client.Status() }

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if statusDuringClose != StatusStopping {
		t.Errorf("status during transport close = %q, want %q", statusDuringClose, StatusStopping)
	}
	if got := client.Status(); got != StatusStopped {
		t.Errorf("final status = %q, want %q", got, StatusStopped)
	}
}

func TestClient_RetryCountNeverResets(t *testing.T) {
	client := NewClient(testDescriptor("svc"), healthyMock(), nil)

	if got := client.bumpRetry(); got != 1 {
		t.Fatalf("bumpRetry = %d, want 1", got)
	}

	// A successful reconnect does not wipe the lifetime total.
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := client.RetryCount(); got != 1 {
		t.Errorf("RetryCount after reconnect = %d, want 1", got)
	}
	if got := client.bumpRetry(); got != 2 {
		t.Errorf("bumpRetry = %d, want 2", got)
	}
}
