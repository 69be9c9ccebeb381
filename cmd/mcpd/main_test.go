package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func runCapture(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, args)
	return stdout.String(), err
}

func TestRun_Version(t *testing.T) {
	out, err := runCapture(t, "version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "mcpd") {
		t.Errorf("output = %q", out)
	}
}

func TestRun_VersionJSON(t *testing.T) {
	out, err := runCapture(t, "-o", "json", "version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if _, ok := info["version"]; !ok {
		t.Errorf("JSON output missing version: %v", info)
	}
}

func TestRun_Discover(t *testing.T) {
	out, err := runCapture(t, "discover")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "mcp-server-filesystem") {
		t.Errorf("output = %q", out)
	}
}

func TestRun_DiscoverJSON(t *testing.T) {
	out, err := runCapture(t, "discover", "-o", "json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var servers []map[string]any
	if err := json.Unmarshal([]byte(out), &servers); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(servers) == 0 {
		t.Error("no servers in discovery output")
	}
}

func TestRun_Help(t *testing.T) {
	out, err := runCapture(t, "-help")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Usage:") {
		t.Errorf("output = %q", out)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if _, err := runCapture(t, "frobnicate"); err == nil {
		t.Fatal("unknown command accepted")
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if _, err := runCapture(t, "--frobnicate"); err == nil {
		t.Fatal("unknown flag accepted")
	}
}

func TestRun_MissingExplicitConfig(t *testing.T) {
	if _, err := runCapture(t, "-config", "/no/such/mcpd.yaml", "serve"); err == nil {
		t.Fatal("missing explicit config accepted")
	}
}
