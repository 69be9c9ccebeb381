package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zhao-xuan/project-zohar-sub000/internal/usage"
)

// Stats are the manager's aggregate counters. ServicesRegistered is a
// lifetime total (unregistering does not decrement it); the others
// track current state or cumulative request outcomes.
type Stats struct {
	ServicesRegistered int       `json:"services_registered"`
	ServicesRunning    int       `json:"services_running"`
	ToolsAvailable     int       `json:"tools_available"`
	RequestsProcessed  int       `json:"requests_processed"`
	Errors             int       `json:"errors"`
	Timestamp          time.Time `json:"timestamp"`
}

// ManagerConfig configures a Manager. The zero value is usable for an
// in-memory manager with defaults (no persistence, no usage store).
type ManagerConfig struct {
	// RegistryPath is the persisted service registry (JSON). Empty
	// disables persistence: Initialize loads nothing and SaveConfig
	// is a no-op.
	RegistryPath string

	// HealthCheckInterval is the liveness probe period (default 60s).
	HealthCheckInterval time.Duration

	// RestartPause is the delay between stop and start during a
	// restart (default 1s).
	RestartPause time.Duration

	// TransportFactory constructs transports for registered services.
	// Defaults to NewTransport; tests substitute fakes.
	TransportFactory TransportFactory

	// Usage, when non-nil, receives a record for every routed tool
	// call.
	Usage *usage.Store

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Manager is the registry of MCP services and their protocol clients.
// It owns service lifecycle, routes tool calls through the catalog to
// the owning service, and runs a background health-check loop with
// bounded automatic restarts.
//
// All methods are safe for concurrent use: the internal maps are
// guarded by a mutex, which is never held across transport I/O.
type Manager struct {
	registryPath   string
	healthInterval time.Duration
	restartPause   time.Duration
	newTransport   TransportFactory
	usage          *usage.Store
	logger         *slog.Logger

	catalog *Catalog

	mu       sync.RWMutex
	services map[string]*ServiceDescriptor
	clients  map[string]*Client
	stats    struct {
		registered int
		running    int
		tools      int
		requests   int
		errors     int
	}

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// NewManager creates a manager. Call Initialize to load the persisted
// registry and start the health loop; Shutdown releases everything.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 60 * time.Second
	}
	if cfg.RestartPause <= 0 {
		cfg.RestartPause = time.Second
	}
	if cfg.TransportFactory == nil {
		cfg.TransportFactory = NewTransport
	}

	return &Manager{
		registryPath:   cfg.RegistryPath,
		healthInterval: cfg.HealthCheckInterval,
		restartPause:   cfg.RestartPause,
		newTransport:   cfg.TransportFactory,
		usage:          cfg.Usage,
		logger:         logger,
		catalog:        NewCatalog(logger),
		services:       make(map[string]*ServiceDescriptor),
		clients:        make(map[string]*Client),
	}
}

// Initialize loads the persisted service registry (writing defaults if
// the file is absent), registers and auto-starts its services, and
// starts the health-check loop. The loop runs until Shutdown or until
// ctx is cancelled.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.registryPath != "" {
		descriptors, err := LoadRegistry(m.registryPath)
		if err != nil {
			return fmt.Errorf("initialize manager: %w", err)
		}

		for _, d := range descriptors {
			if err := m.RegisterService(ctx, d); err != nil {
				m.logger.Error("failed to register service from registry",
					"service", d.ID,
					"error", err,
				)
			}
		}
	}

	m.startHealthLoop(ctx)

	m.logger.Info("MCP manager initialized",
		"services", len(m.services),
		"health_interval", m.healthInterval.String(),
	)
	return nil
}

// RegisterService stores the descriptor and constructs its protocol
// client. If the descriptor requests auto-start, the service is started
// immediately; a start failure is logged but does not fail
// registration (the client is left in the Error state), and the
// registered-services counter increments regardless of start outcome.
//
// A descriptor id may only be registered once; to change a service's
// configuration, unregister it and register a replacement descriptor.
func (m *Manager) RegisterService(ctx context.Context, d *ServiceDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	transport, err := m.newTransport(d, m.logger)
	if err != nil {
		return err
	}

	client := NewClient(d, transport, m.logger)

	m.mu.Lock()
	if _, exists := m.services[d.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("service %s is already registered", d.ID)
	}
	m.services[d.ID] = d
	m.clients[d.ID] = client
	m.stats.registered++
	m.mu.Unlock()

	m.logger.Info("registered MCP service", "service", d.ID, "name", d.Name)

	if d.AutoStart {
		if err := m.StartService(ctx, d.ID); err != nil {
			m.logger.Error("auto-start failed", "service", d.ID, "error", err)
		}
	}

	return nil
}

// UnregisterService stops the service if running, then removes its
// descriptor, client, and catalog entries.
func (m *Manager) UnregisterService(id string) error {
	if err := m.StopService(id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.services, id)
	delete(m.clients, id)
	m.mu.Unlock()

	m.logger.Info("unregistered MCP service", "service", id)
	return nil
}

// StartService connects the service's client and merges its discovered
// tools into the catalog. Starting an already-running service is a
// no-op.
func (m *Manager) StartService(ctx context.Context, id string) error {
	client := m.client(id)
	if client == nil {
		return fmt.Errorf("start service %s: %w", id, ErrServiceNotFound)
	}
	if client.Status() == StatusRunning {
		return nil
	}

	if err := client.Connect(ctx); err != nil {
		m.mu.Lock()
		m.stats.errors++
		m.mu.Unlock()
		return fmt.Errorf("start service %s: %w", id, err)
	}

	tools := client.Tools()
	m.catalog.Merge(tools)

	m.mu.Lock()
	m.stats.running++
	m.stats.tools += len(tools)
	m.mu.Unlock()

	m.logger.Info("started MCP service", "service", id, "tools", len(tools))
	return nil
}

// StopService removes the service's catalog entries and disconnects
// its client. Stopping an already-stopped service succeeds as a no-op.
func (m *Manager) StopService(id string) error {
	client := m.client(id)
	if client == nil {
		return fmt.Errorf("stop service %s: %w", id, ErrServiceNotFound)
	}

	wasRunning := client.Status() == StatusRunning
	removed := m.catalog.RemoveService(id)

	err := client.Disconnect()

	m.mu.Lock()
	if wasRunning {
		m.stats.running--
	}
	m.stats.tools -= removed
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stop service %s: %w", id, err)
	}

	m.logger.Info("stopped MCP service", "service", id)
	return nil
}

// RestartService stops the service, pauses briefly, and starts it
// again. Used for manual restarts and by the health loop's automatic
// recovery.
func (m *Manager) RestartService(ctx context.Context, id string) error {
	if err := m.StopService(id); err != nil {
		return err
	}
	if !sleepCtx(ctx, m.restartPause) {
		return ctx.Err()
	}
	return m.StartService(ctx, id)
}

// CallTool resolves the tool name in the catalog and delegates to the
// owning service's client. Tool parameters and the result are opaque
// JSON. A zero timeout falls back to the service's configured default.
func (m *Manager) CallTool(ctx context.Context, name string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	td, ok := m.catalog.Lookup(name)
	if !ok {
		m.countError()
		return nil, fmt.Errorf("call tool %q: %w", name, ErrToolNotFound)
	}

	client := m.client(td.ServiceID)
	if client == nil {
		m.countError()
		return nil, fmt.Errorf("call tool %q: service %s: %w", name, td.ServiceID, ErrServiceNotFound)
	}

	start := time.Now()
	result, err := client.CallTool(ctx, name, params, timeout)
	m.recordCall(ctx, name, td.ServiceID, time.Since(start), err)

	m.mu.Lock()
	if err != nil {
		m.stats.errors++
	} else {
		m.stats.requests++
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListTools returns the full catalog, or the subset owned by one
// service when serviceID is non-empty.
func (m *Manager) ListTools(serviceID string) []ToolDescriptor {
	return m.catalog.List(serviceID)
}

// ServiceStatus reports one service's status snapshot.
func (m *Manager) ServiceStatus(ctx context.Context, id string) (ServiceInfo, error) {
	client := m.client(id)
	if client == nil {
		return ServiceInfo{}, fmt.Errorf("service status %s: %w", id, ErrServiceNotFound)
	}
	return client.Info(ctx), nil
}

// AllServiceStatus reports status snapshots for every registered
// service, keyed by service id.
func (m *Manager) AllServiceStatus(ctx context.Context) map[string]ServiceInfo {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	out := make(map[string]ServiceInfo, len(clients))
	for _, c := range clients {
		out[c.Descriptor().ID] = c.Info(ctx)
	}
	return out
}

// Stats returns the aggregate counters with the current timestamp.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		ServicesRegistered: m.stats.registered,
		ServicesRunning:    m.stats.running,
		ToolsAvailable:     m.stats.tools,
		RequestsProcessed:  m.stats.requests,
		Errors:             m.stats.errors,
		Timestamp:          time.Now(),
	}
}

// DiscoverServices probes the host PATH for well-known MCP server
// executables. Purely advisory: manager state is never mutated.
func (m *Manager) DiscoverServices() []DiscoveredServer {
	return DiscoverServices()
}

// StartDefaultServers starts every registered service whose descriptor
// requests auto-start, returning how many started successfully.
func (m *Manager) StartDefaultServers(ctx context.Context) int {
	started := 0
	for _, d := range m.descriptors() {
		if !d.AutoStart {
			continue
		}
		if err := m.StartService(ctx, d.ID); err != nil {
			m.logger.Warn("default server failed to start", "service", d.ID, "error", err)
			continue
		}
		started++
	}

	m.logger.Info("started default MCP servers", "count", started)
	return started
}

// StopAllServers stops every registered service, returning how many
// stops succeeded.
func (m *Manager) StopAllServers() int {
	stopped := 0
	for _, d := range m.descriptors() {
		if err := m.StopService(d.ID); err != nil {
			m.logger.Warn("failed to stop server", "service", d.ID, "error", err)
			continue
		}
		stopped++
	}
	return stopped
}

// ActiveServers returns the ids of services currently Running, sorted.
func (m *Manager) ActiveServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []string
	for id, client := range m.clients {
		if client.Status() == StatusRunning {
			active = append(active, id)
		}
	}
	sort.Strings(active)
	return active
}

// SaveConfig persists the current descriptor set to the registry file.
// A no-op when the manager was built without a registry path.
func (m *Manager) SaveConfig() error {
	if m.registryPath == "" {
		return nil
	}
	return SaveRegistry(m.registryPath, m.descriptors())
}

// Shutdown cancels the health-check loop and waits for it to exit —
// guaranteeing no probe fires afterward — then stops every client and
// clears all state. In-flight tool calls are not cancelled; they
// complete or hit their own timeouts independently.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel := m.healthCancel
	done := m.healthDone
	m.healthCancel = nil
	m.healthDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for _, d := range m.descriptors() {
		if err := m.StopService(d.ID); err != nil {
			m.logger.Warn("error stopping service during shutdown", "service", d.ID, "error", err)
		}
	}

	m.mu.Lock()
	m.services = make(map[string]*ServiceDescriptor)
	m.clients = make(map[string]*Client)
	m.mu.Unlock()
	m.catalog.clear()

	m.logger.Info("MCP manager shutdown complete")
}

// client returns the protocol client for id, or nil.
func (m *Manager) client(id string) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[id]
}

// descriptors returns a snapshot of registered descriptors, sorted by
// id for deterministic iteration.
func (m *Manager) descriptors() []*ServiceDescriptor {
	m.mu.RLock()
	out := make([]*ServiceDescriptor, 0, len(m.services))
	for _, d := range m.services {
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) countError() {
	m.mu.Lock()
	m.stats.errors++
	m.mu.Unlock()
}

// recordCall writes a usage record for a routed tool call, when a
// usage store is configured.
func (m *Manager) recordCall(ctx context.Context, tool, serviceID string, elapsed time.Duration, callErr error) {
	if m.usage == nil {
		return
	}

	rec := usage.Record{
		Tool:       tool,
		ServiceID:  serviceID,
		DurationMS: elapsed.Milliseconds(),
		OK:         callErr == nil,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}

	if err := m.usage.Record(ctx, rec); err != nil {
		m.logger.Warn("failed to record tool call usage", "tool", tool, "error", err)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
