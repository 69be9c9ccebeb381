package mcp

import (
	"log/slog"
	"sort"
	"sync"
)

// Catalog is the process-wide index from tool name to the service
// currently providing it.
//
// Collision policy: tool names are not namespaced by service. When two
// services advertise the same name, the most recently merged one wins
// and the displacement is logged. This is deliberate and tested — a
// caller that needs a specific provider should give its tools unique
// names.
type Catalog struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]ToolDescriptor
}

// NewCatalog creates an empty tool catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		logger: logger,
		tools:  make(map[string]ToolDescriptor),
	}
}

// Merge adds a service's tools, applying last-write-wins on name
// collisions.
func (c *Catalog) Merge(tools []ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, td := range tools {
		if prev, ok := c.tools[td.Name]; ok && prev.ServiceID != td.ServiceID {
			c.logger.Warn("tool name collision, keeping most recent",
				"tool", td.Name,
				"displaced_service", prev.ServiceID,
				"new_service", td.ServiceID,
			)
		}
		c.tools[td.Name] = td
	}
}

// Lookup resolves a tool name to its descriptor.
func (c *Catalog) Lookup(name string) (ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	td, ok := c.tools[name]
	return td, ok
}

// RemoveService drops every entry owned by the given service and
// returns how many were removed.
func (c *Catalog) RemoveService(serviceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for name, td := range c.tools {
		if td.ServiceID == serviceID {
			delete(c.tools, name)
			removed++
		}
	}
	return removed
}

// List returns the catalog entries, sorted by name for stable output.
// A non-empty serviceID restricts the result to that service's tools.
func (c *Catalog) List(serviceID string) []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(c.tools))
	for _, td := range c.tools {
		if serviceID != "" && td.ServiceID != serviceID {
			continue
		}
		out = append(out, td)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// clear empties the catalog. Used during manager shutdown.
func (c *Catalog) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = make(map[string]ToolDescriptor)
}
