// Package workerctl is the Worker Controller (C10): the hardest coordination
// path in the system. It runs a plan's dev-agent phase in parallel by
// repository, then a bounded per-repository review loop, then hands each
// repository to the Git/PR Executor. Grounded on the teacher's
// internal/controller/phase_loop.go (phase iteration, per-task state) for
// the overall "spawn, wait, decide whether to loop" shape, and on
// resource_monitor.go's ticker-over-context pattern for the periodic git
// snapshot jobs.
package workerctl

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andywolf/agentfleet/internal/agentmgr"
	"github.com/andywolf/agentfleet/internal/deriver"
	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/eventlog"
	"github.com/andywolf/agentfleet/internal/gitpr"
	"github.com/andywolf/agentfleet/internal/memory"
	"github.com/andywolf/agentfleet/internal/pathlayout"
	"github.com/andywolf/agentfleet/internal/prompttmpl"
)

// maxReviewIterations bounds the per-repository review loop (spec.md §4.10).
const maxReviewIterations = 3

// gitSnapshotInterval is how often the controller records a git-status
// snapshot for the workspace root and for each repository (spec.md §5).
const gitSnapshotInterval = 20 * time.Second

const agentPollInterval = 500 * time.Millisecond

// Controller runs a plan to completion for one item.
type Controller struct {
	layout  pathlayout.Layout
	bus     *eventbus.Bus
	agents  *agentmgr.Manager
	gitprEx *gitpr.Executor
	logger  *log.Logger

	mu              sync.Mutex
	activeDevAgents map[devAgentKey]string // (itemId, repoName) -> agent id
}

type devAgentKey struct {
	itemID   string
	repoName string
}

// New constructs a Controller. gitprEx may be nil in tests that never reach
// phase 3.
func New(layout pathlayout.Layout, bus *eventbus.Bus, agents *agentmgr.Manager, gitprEx *gitpr.Executor) *Controller {
	return &Controller{
		layout:          layout,
		bus:             bus,
		agents:          agents,
		gitprEx:         gitprEx,
		logger:          log.New(os.Stderr, "[workerctl] ", log.LstdFlags),
		activeDevAgents: make(map[devAgentKey]string),
	}
}

func newEventID() string { return uuid.New().String() }

func (c *Controller) appendEvent(itemID string, e domain.Event) error {
	log, err := eventlog.Open(c.layout.ItemEventLog(itemID))
	if err != nil {
		return err
	}
	if err := log.Append(e); err != nil {
		return err
	}
	c.bus.Publish(e)
	return nil
}

func (c *Controller) logInfo(format string, args ...interface{}) {
	c.logger.Printf(format, args...)
}

func (c *Controller) logWarning(format string, args ...interface{}) {
	c.logger.Printf("Warning: "+format, args...)
}

func (c *Controller) logError(format string, args ...interface{}) {
	c.logger.Printf("Error: "+format, args...)
}

// Run executes all three phases of plan for item, in order. It is intended
// to be called from its own goroutine once the plan watcher emits
// plan_created.
func (c *Controller) Run(ctx context.Context, item domain.Item, plan domain.Plan) error {
	workspaceRoot := c.layout.WorkspaceRoot(item.ID)

	snapCtx, stopSnapshots := context.WithCancel(ctx)
	defer stopSnapshots()
	c.startGitSnapshots(snapCtx, item.ID, "", workspaceRoot)

	if err := c.runDevPhase(snapCtx, item, plan, workspaceRoot); err != nil {
		return fmt.Errorf("workerctl: dev phase: %w", err)
	}
	if err := c.runReviewPhase(snapCtx, item, plan, workspaceRoot); err != nil {
		return fmt.Errorf("workerctl: review phase: %w", err)
	}
	return c.finalize(item, plan, workspaceRoot)
}

// resolveWorkDir computes the working directory for a repository and
// enforces the path-traversal guard (spec.md §4.10): the result must be a
// subpath of the workspace root.
func resolveWorkDir(workspaceRoot, repoName string) (string, error) {
	dir := filepath.Join(workspaceRoot, repoName)
	rel, err := filepath.Rel(workspaceRoot, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workerctl: computed work dir %q escapes workspace root %q", dir, workspaceRoot)
	}
	return dir, nil
}

// Phase 1 — dev agents, parallel by repository.
func (c *Controller) runDevPhase(ctx context.Context, item domain.Item, plan domain.Plan, workspaceRoot string) error {
	byRepo := plan.DevTasksByRepository()
	if len(byRepo) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for repoName, tasks := range byRepo {
		repo, ok := item.Repo(repoName)
		if !ok {
			c.logWarning("workerctl: plan references unknown repository %q, skipping", repoName)
			continue
		}
		workDir, err := resolveWorkDir(workspaceRoot, repoName)
		if err != nil {
			c.logError("%v", err)
			continue
		}

		agentID := c.startDevAgent(item, repo, tasks, workDir)
		if agentID == "" {
			continue
		}

		key := devAgentKey{itemID: item.ID, repoName: repoName}
		c.mu.Lock()
		c.activeDevAgents[key] = agentID
		c.mu.Unlock()

		c.startGitSnapshots(ctx, item.ID, repoName, workDir)

		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			c.waitUntilOrchestratorOrTerminal(item.ID, agentID)
		}(agentID)
	}
	wg.Wait()
	return nil
}

func (c *Controller) startDevAgent(item domain.Item, repo domain.RepositoryConfig, tasks []domain.Task, workDir string) string {
	body := "Repository: {{repoName}} (role: {{role}})\n\nYour tasks:\n{{taskList}}"
	vars := map[string]string{
		"repoName": repo.DirectoryName,
		"role":     repo.Role,
		"taskList": formatTasks(tasks),
	}
	prompt := prompttmpl.Compose(domain.AgentRole(repo.Role), body, vars)

	agentID, err := c.agents.Start(agentmgr.StartOptions{
		ItemID:   item.ID,
		Role:     domain.AgentRole(repo.Role),
		RepoName: repo.DirectoryName,
		WorkDir:  workDir,
		Prompt:   prompt,
	})
	if err != nil {
		c.logError("workerctl: starting dev agent for %s: %v", repo.DirectoryName, err)
		return ""
	}
	return agentID
}

func formatTasks(tasks []domain.Task) string {
	var sb strings.Builder
	for _, t := range tasks {
		sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", t.ID, t.Title, t.Description))
	}
	return sb.String()
}

// waitUntilOrchestratorOrTerminal polls the item's derived agent status
// until agentID reaches a terminal state or waiting_orchestrator.
func (c *Controller) waitUntilOrchestratorOrTerminal(itemID, agentID string) {
	for {
		status, ok := c.agentStatus(itemID, agentID)
		if !ok || status.IsTerminal() || status == domain.AgentWaitingOrchestrator {
			return
		}
		time.Sleep(agentPollInterval)
	}
}

func (c *Controller) agentStatus(itemID, agentID string) (domain.AgentStatus, bool) {
	events, err := eventlog.Read(c.layout.ItemEventLog(itemID))
	if err != nil {
		return "", false
	}
	_, agentStatuses, _ := deriver.Derive(events)
	status, ok := agentStatuses[agentID]
	return status, ok
}

// Phase 2 — bounded review loop, per repository.
func (c *Controller) runReviewPhase(ctx context.Context, item domain.Item, plan domain.Plan, workspaceRoot string) error {
	byRepo := plan.ReviewTasksByRepository()
	for repoName, tasks := range byRepo {
		repo, ok := item.Repo(repoName)
		if !ok {
			continue
		}
		workDir, err := resolveWorkDir(workspaceRoot, repoName)
		if err != nil {
			c.logError("%v", err)
			continue
		}
		c.runReviewLoop(item, repo, tasks, workDir)
	}
	return nil
}

func (c *Controller) runReviewLoop(item domain.Item, repo domain.RepositoryConfig, tasks []domain.Task, workDir string) {
	store := memory.NewStore(workDir)
	_ = store.Load()

	findingsPath := c.layout.ReviewFindings(item.ID, repo.DirectoryName)

	for iteration := 1; iteration <= maxReviewIterations; iteration++ {
		_ = os.Remove(findingsPath)

		reviewAgentID := c.startReviewAgent(item, repo, tasks, workDir)
		if reviewAgentID == "" {
			return
		}
		c.waitUntilOrchestratorOrTerminal(item.ID, reviewAgentID)

		findings, assessment, found := readReviewFindings(findingsPath)
		if !found || assessment == "pass" {
			_ = c.agents.Stop(item.ID, reviewAgentID)
			return
		}

		counts := severityCounts(findings)
		_ = c.appendEvent(item.ID, domain.Event{
			ID: newEventID(), Type: domain.EventReviewFindingsExtracted, Timestamp: time.Now(),
			ItemID: item.ID, AgentID: reviewAgentID,
			Payload: map[string]interface{}{
				"repoName":          repo.DirectoryName,
				"findings":          findings,
				"severityCounts":    counts,
				"overallAssessment": assessment,
			},
		})

		_ = c.agents.Stop(item.ID, reviewAgentID)

		if iteration == maxReviewIterations {
			c.logInfo("workerctl: repo %s still needs_fixes after %d review iterations, giving up", repo.DirectoryName, maxReviewIterations)
			return
		}

		store.Add(iteration, findings)
		_ = store.Save()
		c.sendFindingsToDevAgent(item, repo, store)
	}
}

func (c *Controller) startReviewAgent(item domain.Item, repo domain.RepositoryConfig, tasks []domain.Task, workDir string) string {
	body := "Repository: {{repoName}}\n\nTasks under review:\n{{taskList}}"
	vars := map[string]string{
		"repoName": repo.DirectoryName,
		"taskList": formatTasks(tasks),
	}
	prompt := prompttmpl.Compose(domain.RoleReview, body, vars)

	agentID, err := c.agents.Start(agentmgr.StartOptions{
		ItemID:   item.ID,
		Role:     domain.RoleReview,
		RepoName: repo.DirectoryName,
		WorkDir:  workDir,
		Prompt:   prompt,
	})
	if err != nil {
		c.logError("workerctl: starting review agent for %s: %v", repo.DirectoryName, err)
		return ""
	}
	return agentID
}

// sendFindingsToDevAgent re-opens the active dev agent for repo if it is
// still alive and in running/waiting_orchestrator, resets its status to
// running, and hands it the accumulated review feedback (spec.md §4.10 step
// 6, backed by internal/memory per SPEC_FULL.md §8).
func (c *Controller) sendFindingsToDevAgent(item domain.Item, repo domain.RepositoryConfig, store *memory.Store) {
	key := devAgentKey{itemID: item.ID, repoName: repo.DirectoryName}
	c.mu.Lock()
	agentID, ok := c.activeDevAgents[key]
	c.mu.Unlock()
	if !ok {
		return
	}

	status, ok := c.agentStatus(item.ID, agentID)
	if !ok || (status != domain.AgentRunning && status != domain.AgentWaitingOrchestrator) {
		return
	}

	_ = c.appendEvent(item.ID, domain.Event{
		ID: newEventID(), Type: domain.EventStatusChanged, Timestamp: time.Now(),
		ItemID: item.ID, AgentID: agentID,
		Payload: map[string]interface{}{"from": string(status), "to": string(domain.AgentRunning)},
	})

	context := store.BuildContext()
	if context == "" {
		context = "The reviewer requested changes but did not provide structured findings."
	}
	_ = c.agents.SendInput(agentID, []byte(context+"\n"))

	c.waitUntilOrchestratorOrTerminal(item.ID, agentID)
}

// Phase 3 — finalize.
func (c *Controller) finalize(item domain.Item, plan domain.Plan, workspaceRoot string) error {
	c.stopRemainingAgents(item.ID)

	for _, repo := range item.Repositories {
		key := devAgentKey{itemID: item.ID, repoName: repo.DirectoryName}
		c.mu.Lock()
		delete(c.activeDevAgents, key)
		c.mu.Unlock()
	}

	if c.gitprEx == nil {
		return nil
	}
	for _, repo := range item.Repositories {
		workDir, err := resolveWorkDir(workspaceRoot, repo.DirectoryName)
		if err != nil {
			c.logError("%v", err)
			continue
		}
		if err := c.gitprEx.Run(item, repo, workDir); err != nil {
			c.logError("workerctl: git/pr executor for %s: %v", repo.DirectoryName, err)
		}
	}
	return nil
}

func (c *Controller) stopRemainingAgents(itemID string) {
	events, err := eventlog.Read(c.layout.ItemEventLog(itemID))
	if err != nil {
		return
	}
	_, agentStatuses, _ := deriver.Derive(events)
	for agentID, status := range agentStatuses {
		if status.IsActive() {
			_ = c.agents.Stop(itemID, agentID)
		}
	}
}

// startGitSnapshots launches a best-effort periodic git-status snapshot for
// dir, tagged with repoName (empty for the workspace-root-level snapshot).
// It stops when ctx is cancelled, mirroring the teacher's
// startResourceMonitor's ctx-cancellable ticker loop.
func (c *Controller) startGitSnapshots(ctx context.Context, itemID, repoName, dir string) {
	go func() {
		ticker := time.NewTicker(gitSnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.snapshotOnce(itemID, repoName, dir)
			}
		}
	}()
}

func (c *Controller) snapshotOnce(itemID, repoName, dir string) {
	summary, err := gitStatusSummary(dir)
	if err != nil {
		_ = c.appendEvent(itemID, domain.Event{
			ID: newEventID(), Type: domain.EventGitSnapshotError, Timestamp: time.Now(),
			ItemID: itemID,
			Payload: map[string]interface{}{"repoName": repoName, "error": err.Error()},
		})
		return
	}
	_ = c.appendEvent(itemID, domain.Event{
		ID: newEventID(), Type: domain.EventGitSnapshot, Timestamp: time.Now(),
		ItemID: itemID,
		Payload: map[string]interface{}{"repoName": repoName, "summary": summary},
	})
}
