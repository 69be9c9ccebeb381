// Package mcp implements MCP (Model Context Protocol) service
// orchestration: per-service protocol clients that speak JSON-RPC 2.0
// over stdio subprocesses, WebSockets, or HTTP, and a manager that
// registers services, routes tool calls to the owning service, and
// monitors liveness with bounded automatic restarts.
//
// The client discovers tools via tools/list and invokes them via
// tools/call. Discovered tools from all services are indexed in a
// process-wide catalog; on a name collision the most recently started
// service wins (last-write-wins, see Catalog).
//
// Tool parameters and results are treated as opaque JSON — this package
// never interprets tool semantics. It covers the client/host side only;
// mcpd does not act as an MCP server.
package mcp
