package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// registryVersion is written into persisted registry files.
const registryVersion = "1.0.0"

// registryFile is the on-disk service registry document.
type registryFile struct {
	Version  string               `json:"version"`
	Services []*ServiceDescriptor `json:"services"`
}

// DefaultServices returns the registry contents written when no
// registry file exists yet. Auto-start is off: the example commands may
// not be installed on this host.
func DefaultServices() []*ServiceDescriptor {
	return []*ServiceDescriptor{
		{
			ID:             "filesystem",
			Name:           "File System",
			Description:    "File system operations",
			ConnectionType: ConnSubprocess,
			Command:        "mcp-server-filesystem",
			Args:           []string{},
			MaxRetries:     3,
			TimeoutSeconds: 30,
		},
		{
			ID:             "brave_search",
			Name:           "Brave Search",
			Description:    "Web search via Brave",
			ConnectionType: ConnSubprocess,
			Command:        "mcp-server-brave-search",
			Args:           []string{},
			MaxRetries:     3,
			TimeoutSeconds: 30,
		},
	}
}

// LoadRegistry reads the persisted service registry at path. If the
// file does not exist, a default registry is written there and its
// descriptors returned.
func LoadRegistry(path string) ([]*ServiceDescriptor, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		defaults := DefaultServices()
		if err := SaveRegistry(path, defaults); err != nil {
			return nil, fmt.Errorf("write default service registry: %w", err)
		}
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read service registry %s: %w", path, err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse service registry %s: %w", path, err)
	}

	for _, d := range file.Services {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("service registry %s: %w", path, err)
		}
	}

	return file.Services, nil
}

// SaveRegistry writes the descriptors to path as a versioned JSON
// document, creating parent directories as needed.
func SaveRegistry(path string, services []*ServiceDescriptor) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create registry directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(registryFile{
		Version:  registryVersion,
		Services: services,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal service registry: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write service registry %s: %w", path, err)
	}
	return nil
}
