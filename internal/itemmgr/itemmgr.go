// Package itemmgr is the Item Manager (C8): creates items, persists their
// configuration, stages each repository into the item's workspace (clone or
// link), and auto-launches the planner once staging completes. Grounded on
// the teacher's internal/controller.go's cloneRepository (git clone via
// exec.CommandContext, HTTPS token injection) for the remote-repository
// path, and on internal/workspacesetup (itself adapted from the teacher's
// workspace package) for the local-repository path.
package itemmgr

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/andywolf/agentfleet/internal/agentmgr"
	"github.com/andywolf/agentfleet/internal/deriver"
	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/eventlog"
	"github.com/andywolf/agentfleet/internal/pathlayout"
	"github.com/andywolf/agentfleet/internal/prompttmpl"
	"github.com/andywolf/agentfleet/internal/reposcan"
	"github.com/andywolf/agentfleet/internal/workspacesetup"
)

// Manager owns item lifecycle: creation, workspace staging, and the
// planner auto-launch that follows it.
type Manager struct {
	layout pathlayout.Layout
	bus    *eventbus.Bus
	agents *agentmgr.Manager
}

// New constructs a Manager bound to layout, bus, and the Agent Manager used
// to auto-launch the planner.
func New(layout pathlayout.Layout, bus *eventbus.Bus, agents *agentmgr.Manager) *Manager {
	return &Manager{layout: layout, bus: bus, agents: agents}
}

func newItemID() string {
	return "ITEM-" + uuid.New().String()[:8]
}

func newEventID() string { return uuid.New().String() }

func (m *Manager) appendEvent(itemID string, e domain.Event) error {
	log, err := eventlog.Open(m.layout.ItemEventLog(itemID))
	if err != nil {
		return err
	}
	if err := log.Append(e); err != nil {
		return err
	}
	m.bus.Publish(e)
	return nil
}

// saveItemConfig persists item as 2-space-indented YAML at item.yaml.
func (m *Manager) saveItemConfig(item domain.Item) error {
	if err := os.MkdirAll(m.layout.ItemDir(item.ID), 0o755); err != nil {
		return fmt.Errorf("itemmgr: creating item directory: %w", err)
	}
	raw, err := yaml.Marshal(item)
	if err != nil {
		return fmt.Errorf("itemmgr: marshaling item.yaml: %w", err)
	}
	return os.WriteFile(m.layout.ItemConfig(item.ID), raw, 0o644)
}

// LoadItem reads an item's persisted configuration.
func (m *Manager) LoadItem(itemID string) (domain.Item, error) {
	raw, err := os.ReadFile(m.layout.ItemConfig(itemID))
	if err != nil {
		return domain.Item{}, fmt.Errorf("itemmgr: reading item config: %w", err)
	}
	var item domain.Item
	if err := yaml.Unmarshal(raw, &item); err != nil {
		return domain.Item{}, fmt.Errorf("itemmgr: parsing item config: %w", err)
	}
	return item, nil
}

// ListItems returns every item under the data root, in no particular order.
func (m *Manager) ListItems() ([]domain.Item, error) {
	entries, err := os.ReadDir(m.layout.ItemsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("itemmgr: listing items: %w", err)
	}
	var items []domain.Item
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		item, err := m.LoadItem(entry.Name())
		if err != nil {
			continue // a directory without a valid item.yaml is not an item.
		}
		items = append(items, item)
	}
	return items, nil
}

// DerivedStatus reads itemID's event log and returns its current derived
// state, per the State Deriver (C7).
func (m *Manager) DerivedStatus(itemID string) (domain.ItemStatus, map[string]domain.AgentStatus, []deriver.PendingApproval, error) {
	events, err := eventlog.Read(m.layout.ItemEventLog(itemID))
	if err != nil {
		return "", nil, nil, fmt.Errorf("itemmgr: reading event log: %w", err)
	}
	status, agentStatus, pending := deriver.Derive(events)
	return status, agentStatus, pending, nil
}

// CreateOptions configures CreateItem.
type CreateOptions struct {
	Name         string
	Description  string
	DesignDoc    string
	Repositories []domain.RepositoryConfig
}

// CreateItem allocates a fresh item id, defaults each repository's work
// branch, persists item.yaml, and emits item_created (spec.md §4.8). The
// item must carry at least one repository.
func (m *Manager) CreateItem(opts CreateOptions) (domain.Item, error) {
	if len(opts.Repositories) == 0 {
		return domain.Item{}, fmt.Errorf("itemmgr: item must have at least one repository")
	}

	item := domain.Item{
		ID:           newItemID(),
		Name:         opts.Name,
		Description:  opts.Description,
		DesignDoc:    opts.DesignDoc,
		Repositories: opts.Repositories,
		CreatedAt:    time.Now(),
	}
	for i, repo := range item.Repositories {
		if repo.Type == domain.RepoRemote && repo.WorkBranch == "" {
			item.Repositories[i].WorkBranch = domain.DefaultWorkBranch(item.ID, repo.DirectoryName)
		}
	}

	if err := m.saveItemConfig(item); err != nil {
		return domain.Item{}, err
	}

	if err := m.appendEvent(item.ID, domain.Event{
		ID: newEventID(), Type: domain.EventItemCreated, Timestamp: time.Now(),
		ItemID: item.ID,
		Payload: map[string]interface{}{"name": item.Name, "repositoryCount": len(item.Repositories)},
	}); err != nil {
		return domain.Item{}, err
	}

	return item, nil
}

// UpdateOptions carries the mutable fields of an item (name, description,
// and design doc; identity and repositories are immutable per spec.md §3).
type UpdateOptions struct {
	Name        *string
	Description *string
	DesignDoc   *string
}

// UpdateItem applies opts to itemID's persisted configuration.
func (m *Manager) UpdateItem(itemID string, opts UpdateOptions) (domain.Item, error) {
	item, err := m.LoadItem(itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if opts.Name != nil {
		item.Name = *opts.Name
	}
	if opts.Description != nil {
		item.Description = *opts.Description
	}
	if opts.DesignDoc != nil {
		item.DesignDoc = *opts.DesignDoc
	}
	if err := m.saveItemConfig(item); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

// DeleteItem stops every active agent belonging to itemID, then removes the
// item's directory tree (spec.md §3 ownership: "must first stop all agents
// and observers" before deletion). Bus observers unsubscribe themselves
// when their channel closes on process teardown; there is no per-item
// forced-unsubscribe primitive, so this stops the producers (agents) that
// would otherwise keep publishing to it.
func (m *Manager) DeleteItem(itemID string) error {
	_, agentStatus, _, err := m.DerivedStatus(itemID)
	if err != nil {
		return err
	}
	for agentID, status := range agentStatus {
		if status.IsActive() {
			_ = m.agents.Stop(itemID, agentID)
		}
	}
	return os.RemoveAll(m.layout.ItemDir(itemID))
}

// SetupWorkspace stages every repository of itemID in parallel (spec.md
// §4.8): remote repos are cloned (and switched to their work branch), local
// repos are symlinked or copied. After every repository is staged, the
// planner is auto-started; a failure to start it is recorded as a
// (non-fatal) error event rather than tearing the item down.
func (m *Manager) SetupWorkspace(itemID string) error {
	item, err := m.LoadItem(itemID)
	if err != nil {
		return err
	}

	workspaceRoot := m.layout.WorkspaceRoot(itemID)
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return fmt.Errorf("itemmgr: creating workspace root: %w", err)
	}

	var wg sync.WaitGroup
	for _, repo := range item.Repositories {
		wg.Add(1)
		go func(repo domain.RepositoryConfig) {
			defer wg.Done()
			m.stageOne(item, repo)
		}(repo)
	}
	wg.Wait()

	m.autoStartPlanner(item)
	return nil
}

// RetrySetup re-runs SetupWorkspace, relying on each stage's own
// remove-existing-entry-first semantics to make it safe to call again after
// a partial failure.
func (m *Manager) RetrySetup(itemID string) error {
	return m.SetupWorkspace(itemID)
}

func (m *Manager) stageOne(item domain.Item, repo domain.RepositoryConfig) {
	target := m.layout.RepoWorkspace(item.ID, repo.DirectoryName)

	switch repo.Type {
	case domain.RepoRemote:
		m.stageRemote(item, repo, target)
	case domain.RepoLocal:
		m.stageLocal(item, repo, target)
	}
}

func (m *Manager) stageRemote(item domain.Item, repo domain.RepositoryConfig, target string) {
	_ = m.appendEvent(item.ID, domain.Event{
		ID: newEventID(), Type: domain.EventCloneStarted, Timestamp: time.Now(),
		ItemID: item.ID,
		Payload: map[string]interface{}{"repoName": repo.DirectoryName, "url": repo.URL},
	})

	err := cloneRepo(repo, target)
	if err == nil && repo.WorkBranch != "" {
		err = checkoutWorkBranch(target, repo.WorkBranch)
	}

	payload := map[string]interface{}{"repoName": repo.DirectoryName, "success": err == nil}
	if err != nil {
		payload["error"] = err.Error()
	}
	_ = m.appendEvent(item.ID, domain.Event{
		ID: newEventID(), Type: domain.EventCloneCompleted, Timestamp: time.Now(),
		ItemID: item.ID, Payload: payload,
	})
}

// cloneRepo runs `git clone`, retrying by removing any partial prior clone
// first (spec.md §4.8's "before staging, any existing entry ... is
// removed"), mirroring the teacher's cloneRepository.
func cloneRepo(repo domain.RepositoryConfig, target string) error {
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("itemmgr: clearing prior clone of %s: %w", repo.DirectoryName, err)
	}

	args := []string{"clone"}
	if repo.Submodules {
		args = append(args, "--recurse-submodules")
	}
	if repo.BaseBranch != "" {
		args = append(args, "--branch", repo.BaseBranch)
	}
	args = append(args, repo.URL, target)

	cmd := exec.Command("git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("itemmgr: git clone %s: %w (output: %s)", repo.URL, err, string(out))
	}
	return nil
}

func checkoutWorkBranch(repoDir, branch string) error {
	cmd := exec.Command("git", "checkout", "-b", branch)
	cmd.Dir = repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("itemmgr: git checkout -b %s: %w (output: %s)", branch, err, string(out))
	}
	return nil
}

func (m *Manager) stageLocal(item domain.Item, repo domain.RepositoryConfig, target string) {
	_ = m.appendEvent(item.ID, domain.Event{
		ID: newEventID(), Type: domain.EventWorkspaceSetupStarted, Timestamp: time.Now(),
		ItemID: item.ID,
		Payload: map[string]interface{}{"repoName": repo.DirectoryName, "path": repo.LocalPath, "linkMode": string(repo.LinkMode)},
	})

	err := stageLocalRepo(repo, target)

	payload := map[string]interface{}{"repoName": repo.DirectoryName, "success": err == nil}
	if err != nil {
		payload["error"] = err.Error()
	}
	_ = m.appendEvent(item.ID, domain.Event{
		ID: newEventID(), Type: domain.EventWorkspaceSetupCompleted, Timestamp: time.Now(),
		ItemID: item.ID, Payload: payload,
	})
}

func stageLocalRepo(repo domain.RepositoryConfig, target string) error {
	mode := repo.LinkMode
	if mode == "" {
		mode = domain.LinkSymlink
	}
	return workspacesetup.Stage(repo.LocalPath, target, mode)
}

// autoStartPlanner spawns the planner once every repository is staged. The
// prompt is enriched with a per-repository language/build-system scan
// (internal/reposcan) so the planner does not have to rediscover it.
func (m *Manager) autoStartPlanner(item domain.Item) {
	body := "Design document:\n\n{{designDoc}}\n\nRepositories:\n{{repoSummary}}"
	vars := map[string]string{
		"designDoc":   item.DesignDoc,
		"repoSummary": m.repoSummary(item),
	}
	prompt := prompttmpl.Compose(domain.RolePlanner, body, vars)

	_, _ = m.agents.Start(agentmgr.StartOptions{
		ItemID:  item.ID,
		Role:    domain.RolePlanner,
		WorkDir: m.layout.WorkspaceRoot(item.ID),
		Prompt:  prompt,
	})
}

func (m *Manager) repoSummary(item domain.Item) string {
	summary := ""
	for _, repo := range item.Repositories {
		scan := reposcan.Scan(m.layout.RepoWorkspace(item.ID, repo.DirectoryName))
		summary += fmt.Sprintf("- %s (role: %s, language: %s, build: %s)\n",
			repo.DirectoryName, repo.Role, scan.DominantLanguage, scan.BuildSystem)
	}
	return summary
}
