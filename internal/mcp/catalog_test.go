package mcp

import "testing"

func catalogTools(serviceID string, names ...string) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, ToolDescriptor{
			Name:      name,
			ServiceID: serviceID,
			Enabled:   true,
		})
	}
	return out
}

func TestCatalog_MergeAndLookup(t *testing.T) {
	c := NewCatalog(nil)
	c.Merge(catalogTools("alpha", "read_file", "write_file"))

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	td, ok := c.Lookup("read_file")
	if !ok {
		t.Fatal("read_file not found")
	}
	if td.ServiceID != "alpha" {
		t.Errorf("ServiceID = %q, want alpha", td.ServiceID)
	}

	if _, ok := c.Lookup("no_such_tool"); ok {
		t.Error("Lookup returned a tool that was never merged")
	}
}

// Two services advertising the same tool name: the most recently merged
// service owns the name, and there is exactly one catalog entry for it.
func TestCatalog_LastWriteWins(t *testing.T) {
	c := NewCatalog(nil)
	c.Merge(catalogTools("alpha", "search"))
	c.Merge(catalogTools("beta", "search"))

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}

	td, ok := c.Lookup("search")
	if !ok {
		t.Fatal("search not found")
	}
	if td.ServiceID != "beta" {
		t.Errorf("search owned by %q, want beta", td.ServiceID)
	}
}

func TestCatalog_RemoveService(t *testing.T) {
	c := NewCatalog(nil)
	c.Merge(catalogTools("alpha", "a1", "a2"))
	c.Merge(catalogTools("beta", "b1"))

	if removed := c.RemoveService("alpha"); removed != 2 {
		t.Errorf("removed %d, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Lookup("a1"); ok {
		t.Error("a1 survived RemoveService")
	}
	if _, ok := c.Lookup("b1"); !ok {
		t.Error("b1 was removed along with alpha's tools")
	}

	// Removing an unknown service is harmless.
	if removed := c.RemoveService("ghost"); removed != 0 {
		t.Errorf("removed %d for unknown service, want 0", removed)
	}
}

// After the displaced service is removed, the winning entry survives:
// removal matches on current ownership, not merge history.
func TestCatalog_RemoveDisplacedService(t *testing.T) {
	c := NewCatalog(nil)
	c.Merge(catalogTools("alpha", "search"))
	c.Merge(catalogTools("beta", "search"))

	if removed := c.RemoveService("alpha"); removed != 0 {
		t.Errorf("removed %d, want 0 (alpha no longer owns search)", removed)
	}
	if td, ok := c.Lookup("search"); !ok || td.ServiceID != "beta" {
		t.Errorf("search = %+v, %v; want beta's entry intact", td, ok)
	}
}

func TestCatalog_List(t *testing.T) {
	c := NewCatalog(nil)
	c.Merge(catalogTools("alpha", "zeta", "alpha_tool"))
	c.Merge(catalogTools("beta", "mid"))

	all := c.List("")
	if len(all) != 3 {
		t.Fatalf("List(\"\") = %d entries, want 3", len(all))
	}
	// Sorted by name for stable output.
	if all[0].Name != "alpha_tool" || all[1].Name != "mid" || all[2].Name != "zeta" {
		t.Errorf("List order = %q, %q, %q", all[0].Name, all[1].Name, all[2].Name)
	}

	scoped := c.List("beta")
	if len(scoped) != 1 || scoped[0].Name != "mid" {
		t.Errorf("List(beta) = %+v", scoped)
	}
}
