package pathlayout

import (
	"path/filepath"
	"testing"
)

func TestDerivedPaths(t *testing.T) {
	l := New("/data")

	cases := map[string]string{
		"ItemDir":             l.ItemDir("ITEM-1"),
		"ItemConfig":          l.ItemConfig("ITEM-1"),
		"ItemEventLog":        l.ItemEventLog("ITEM-1"),
		"WorkspaceRoot":       l.WorkspaceRoot("ITEM-1"),
		"RepoWorkspace":       l.RepoWorkspace("ITEM-1", "backend"),
		"PlanArtifact":        l.PlanArtifact("ITEM-1"),
		"ReviewFindings":      l.ReviewFindings("ITEM-1", "backend"),
		"AgentDir":            l.AgentDir("ITEM-1", "agent-dev--backend--abc123"),
		"AgentEventLog":       l.AgentEventLog("ITEM-1", "agent-dev--backend--abc123"),
		"RepositoriesCatalog": l.RepositoriesCatalog(),
	}

	want := map[string]string{
		"ItemDir":             filepath.Join("/data", "items", "ITEM-1"),
		"ItemConfig":          filepath.Join("/data", "items", "ITEM-1", "item.yaml"),
		"ItemEventLog":        filepath.Join("/data", "items", "ITEM-1", "events.jsonl"),
		"WorkspaceRoot":       filepath.Join("/data", "items", "ITEM-1", "workspace"),
		"RepoWorkspace":       filepath.Join("/data", "items", "ITEM-1", "workspace", "backend"),
		"PlanArtifact":        filepath.Join("/data", "items", "ITEM-1", "workspace", "plan.yaml"),
		"ReviewFindings":      filepath.Join("/data", "items", "ITEM-1", "workspace", "backend", "review_findings.json"),
		"AgentDir":            filepath.Join("/data", "items", "ITEM-1", "agents", "agent-dev--backend--abc123"),
		"AgentEventLog":       filepath.Join("/data", "items", "ITEM-1", "agents", "agent-dev--backend--abc123", "events.jsonl"),
		"RepositoriesCatalog": filepath.Join("/data", "repositories.yaml"),
	}

	for name, got := range cases {
		if got != want[name] {
			t.Errorf("%s = %q, want %q", name, got, want[name])
		}
	}
}
