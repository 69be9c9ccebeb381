package mcp

import (
	"os/exec"
	"strings"
)

// DiscoveredServer describes a well-known MCP server executable and
// whether it is installed on this host. Discovery is purely advisory:
// it never registers or starts anything.
type DiscoveredServer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Command     string `json:"command"`
	Available   bool   `json:"available"`
}

// serverCandidate is one entry in the well-known server list.
type serverCandidate struct {
	command     string
	name        string
	description string
}

// knownServers are the common MCP server binaries probed by discovery.
var knownServers = []serverCandidate{
	{"mcp-server-filesystem", "File System", "File system operations"},
	{"mcp-server-brave-search", "Brave Search", "Web search via Brave"},
	{"mcp-server-git", "Git", "Git repository operations"},
	{"mcp-server-sqlite", "SQLite", "SQLite database operations"},
}

// DiscoverServices probes the host PATH for well-known MCP server
// executables.
func DiscoverServices() []DiscoveredServer {
	return discoverFrom(knownServers)
}

func discoverFrom(candidates []serverCandidate) []DiscoveredServer {
	out := make([]DiscoveredServer, 0, len(candidates))
	for _, c := range candidates {
		_, err := exec.LookPath(c.command)
		out = append(out, DiscoveredServer{
			ID:          strings.TrimPrefix(c.command, "mcp-server-"),
			Name:        c.name,
			Description: c.description,
			Command:     c.command,
			Available:   err == nil,
		})
	}
	return out
}
