// Package pathlayout is the single source of truth for every on-disk path
// the engine touches. No other package is allowed to concatenate a data-root
// path by hand (spec.md §4.1); callers resolve through a Layout value instead.
package pathlayout

import "path/filepath"

// Layout roots every derived path at a single configurable data directory.
type Layout struct {
	DataRoot string
}

// New returns a Layout rooted at dataRoot.
func New(dataRoot string) Layout {
	return Layout{DataRoot: dataRoot}
}

// ItemDir is the item's on-disk directory: $DATA/items/{itemId}.
func (l Layout) ItemDir(itemID string) string {
	return filepath.Join(l.DataRoot, "items", itemID)
}

// ItemConfig is <itemDir>/item.yaml.
func (l Layout) ItemConfig(itemID string) string {
	return filepath.Join(l.ItemDir(itemID), "item.yaml")
}

// ItemEventLog is <itemDir>/events.jsonl.
func (l Layout) ItemEventLog(itemID string) string {
	return filepath.Join(l.ItemDir(itemID), "events.jsonl")
}

// WorkspaceRoot is <itemDir>/workspace.
func (l Layout) WorkspaceRoot(itemID string) string {
	return filepath.Join(l.ItemDir(itemID), "workspace")
}

// RepoWorkspace is <workspaceRoot>/{repoName}.
func (l Layout) RepoWorkspace(itemID, repoName string) string {
	return filepath.Join(l.WorkspaceRoot(itemID), repoName)
}

// PlanArtifact is <workspaceRoot>/plan.yaml.
func (l Layout) PlanArtifact(itemID string) string {
	return filepath.Join(l.WorkspaceRoot(itemID), "plan.yaml")
}

// ReviewFindings is the per-repo review_findings.json contract file.
func (l Layout) ReviewFindings(itemID, repoName string) string {
	return filepath.Join(l.RepoWorkspace(itemID, repoName), "review_findings.json")
}

// AgentDir is <itemDir>/agents/{agentId}.
func (l Layout) AgentDir(itemID, agentID string) string {
	return filepath.Join(l.ItemDir(itemID), "agents", agentID)
}

// AgentEventLog is <agentDir>/events.jsonl.
func (l Layout) AgentEventLog(itemID, agentID string) string {
	return filepath.Join(l.AgentDir(itemID, agentID), "events.jsonl")
}

// RepositoriesCatalog is $DATA/repositories.yaml.
func (l Layout) RepositoriesCatalog() string {
	return filepath.Join(l.DataRoot, "repositories.yaml")
}

// ItemsRoot is $DATA/items, used when listing all items.
func (l Layout) ItemsRoot() string {
	return filepath.Join(l.DataRoot, "items")
}
