// Package domain holds the shared data model: items, repositories, plans,
// tasks, agents, and the event envelope that ties them together on disk.
package domain

import "time"

// AgentRole is a free-form developer-role label. The planner and
// review-receiver roles are reserved system roles; everything else is a
// dev/review role scoped to a repository.
type AgentRole string

const (
	RolePlanner       AgentRole = "planner"
	RoleReview        AgentRole = "review"
	RoleReviewReceive AgentRole = "review-receiver"
)

// systemRoles never carry a repository name.
var systemRoles = map[AgentRole]bool{
	RolePlanner:       true,
	RoleReviewReceive: true,
}

// IsSystemRole reports whether role is a role that is never bound to a repo.
func IsSystemRole(role AgentRole) bool {
	return systemRoles[role]
}

// LinkMode is how a local repository is staged into the workspace.
type LinkMode string

const (
	LinkSymlink LinkMode = "symlink"
	LinkCopy    LinkMode = "copy"
)

// RepoType distinguishes a remote (cloned) repository from a local
// (symlinked or copied) one.
type RepoType string

const (
	RepoRemote RepoType = "remote"
	RepoLocal  RepoType = "local"
)

// RepositoryConfig is one repository entry attached to an Item. Directory
// name is unique within the item and is the key used everywhere else
// (workspace paths, plan task targets, activeDevAgents).
type RepositoryConfig struct {
	DirectoryName string    `yaml:"directoryName" json:"directoryName"`
	Role          string    `yaml:"role" json:"role"`
	Type          RepoType  `yaml:"type" json:"type"`

	// Remote fields.
	URL          string `yaml:"url,omitempty" json:"url,omitempty"`
	BaseBranch   string `yaml:"baseBranch,omitempty" json:"baseBranch,omitempty"`
	Submodules   bool   `yaml:"submodules,omitempty" json:"submodules,omitempty"`
	WorkBranch   string `yaml:"workBranch,omitempty" json:"workBranch,omitempty"`

	// Local fields.
	LocalPath string   `yaml:"localPath,omitempty" json:"localPath,omitempty"`
	LinkMode  LinkMode `yaml:"linkMode,omitempty" json:"linkMode,omitempty"`
}

// DefaultWorkBranch derives the deterministic work-branch name used when a
// RepositoryConfig does not set one explicitly.
func DefaultWorkBranch(itemID, directoryName string) string {
	return "agentfleet/" + itemID + "-" + directoryName
}

// Item is a work unit: one design document driving one or more repositories.
// Identity and the repository list are immutable after creation.
type Item struct {
	ID           string             `yaml:"id" json:"id"`
	Name         string             `yaml:"name" json:"name"`
	Description  string             `yaml:"description" json:"description"`
	DesignDoc    string             `yaml:"designDoc" json:"designDoc"`
	Repositories []RepositoryConfig `yaml:"repositories" json:"repositories"`
	CreatedAt    time.Time          `yaml:"createdAt" json:"createdAt"`
}

// RoleSet returns the set of developer-role labels declared by the item's
// repositories, used by plan validation.
func (it *Item) RoleSet() map[string]bool {
	roles := make(map[string]bool, len(it.Repositories))
	for _, r := range it.Repositories {
		roles[r.Role] = true
	}
	return roles
}

// RepoNames returns the set of directory names declared by the item.
func (it *Item) RepoNames() map[string]bool {
	names := make(map[string]bool, len(it.Repositories))
	for _, r := range it.Repositories {
		names[r.DirectoryName] = true
	}
	return names
}

// Repo looks up a RepositoryConfig by directory name.
func (it *Item) Repo(name string) (RepositoryConfig, bool) {
	for _, r := range it.Repositories {
		if r.DirectoryName == name {
			return r, true
		}
	}
	return RepositoryConfig{}, false
}

// Task is one unit of plan work, targeting exactly one repository.
type Task struct {
	ID           string   `yaml:"id" json:"id"`
	Title        string   `yaml:"title" json:"title"`
	Description  string   `yaml:"description" json:"description"`
	Agent        string   `yaml:"agent" json:"agent"`
	Repository   string   `yaml:"repository" json:"repository"`
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Files        []string `yaml:"files,omitempty" json:"files,omitempty"`
}

// Plan is the planner's declarative task list, round-tripped through
// plan.yaml.
type Plan struct {
	Version string `yaml:"version" json:"version"`
	ItemID  string `yaml:"itemId" json:"itemId"`
	Summary string `yaml:"summary" json:"summary"`
	Tasks   []Task `yaml:"tasks" json:"tasks"`
}

// AgentStatus is an agent's lifecycle state.
type AgentStatus string

const (
	AgentIdle               AgentStatus = "idle"
	AgentStarting           AgentStatus = "starting"
	AgentRunning            AgentStatus = "running"
	AgentWaitingApproval    AgentStatus = "waiting_approval"
	AgentWaitingOrchestrator AgentStatus = "waiting_orchestrator"
	AgentStopped            AgentStatus = "stopped"
	AgentCompleted          AgentStatus = "completed"
	AgentError              AgentStatus = "error"
)

// IsActive reports whether status counts as "active" for orphan detection
// (spec.md §3 invariant 6).
func (s AgentStatus) IsActive() bool {
	switch s {
	case AgentRunning, AgentWaitingApproval, AgentWaitingOrchestrator:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether status is a terminal lifecycle state.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentStopped, AgentCompleted, AgentError:
		return true
	default:
		return false
	}
}

// Agent is the in-memory record the Agent Manager owns for one PTY-attached
// process.
type Agent struct {
	ID         string
	ItemID     string
	Role       AgentRole
	Repository string // empty for system roles
	Status     AgentStatus
	PID        int
	StartedAt  time.Time
	StoppedAt  time.Time
	ExitCode   int
}

// ItemStatus is the derived status of an item, computed by the State
// Deriver from its event log; never stored directly.
type ItemStatus string

const (
	ItemCreated         ItemStatus = "created"
	ItemCloning         ItemStatus = "cloning"
	ItemPlanning        ItemStatus = "planning"
	ItemReady           ItemStatus = "ready"
	ItemRunning         ItemStatus = "running"
	ItemReviewReceiving ItemStatus = "review_receiving"
	ItemWaitingApproval ItemStatus = "waiting_approval"
	ItemCompleted       ItemStatus = "completed"
	ItemError           ItemStatus = "error"
)
