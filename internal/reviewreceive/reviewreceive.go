// Package reviewreceive is the Review-Receive Controller (C11): the entry
// point that re-opens a completed item cycle when human reviewer feedback
// comes back on a pull request. Grounded on the teacher's controller.go
// single-struct-with-mutex-protected-maps pattern for the per-item
// serialization chain, and on internal/skills/selector.go's role-keyed
// prompt composition (here via internal/prompttmpl) for the spawned agent's
// prompt.
package reviewreceive

import (
	"fmt"
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
	"github.com/andywolf/agentfleet/internal/itemmgr"
	"github.com/andywolf/agentfleet/internal/pathlayout"
	"github.com/andywolf/agentfleet/internal/planwatch"
	"github.com/andywolf/agentfleet/internal/prompttmpl"
)

// ValidationError marks a rejection the caller should surface as a 4xx
// (spec.md §4.11): bad request state, not an infrastructure failure. Every
// other error returned by this package is infrastructural.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Controller serializes review-receive requests per item through an
// asynchronous FIFO mutex chain, then spawns the review-receiver agent.
type Controller struct {
	layout pathlayout.Layout
	bus    *eventbus.Bus
	agents *agentmgr.Manager
	items  *itemmgr.Manager
	watch  *planwatch.Watcher

	mu    sync.Mutex
	tails map[string]chan struct{} // itemID -> the current chain tail
}

// New constructs a Controller.
func New(layout pathlayout.Layout, bus *eventbus.Bus, agents *agentmgr.Manager, items *itemmgr.Manager) *Controller {
	return &Controller{
		layout: layout,
		bus:    bus,
		agents: agents,
		items:  items,
		watch:  planwatch.New(layout, bus, agents),
		tails:  make(map[string]chan struct{}),
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

// Start enqueues a review-receive request for itemID/repoName behind any
// request already in flight for the same item (spec.md §5's per-item FIFO
// lock chain), then runs it. Each caller's own chain link is a channel: it
// waits on the previous link's channel to close, then runs, then closes its
// own so the next link (if any) can proceed. If no successor ever appears,
// the map entry is removed once this link finishes.
func (c *Controller) Start(itemID, repoName string) (domain.Agent, error) {
	myTurn := make(chan struct{})

	c.mu.Lock()
	prev, hasPrev := c.tails[itemID]
	c.tails[itemID] = myTurn
	c.mu.Unlock()

	if hasPrev {
		<-prev
	}
	defer func() {
		close(myTurn)
		c.mu.Lock()
		if c.tails[itemID] == myTurn {
			delete(c.tails, itemID)
		}
		c.mu.Unlock()
	}()

	return c.run(itemID, repoName)
}

func (c *Controller) run(itemID, repoName string) (domain.Agent, error) {
	item, err := c.items.LoadItem(itemID)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("reviewreceive: loading item: %w", err)
	}

	events, err := eventlog.Read(c.layout.ItemEventLog(itemID))
	if err != nil {
		return domain.Agent{}, fmt.Errorf("reviewreceive: reading event log: %w", err)
	}
	status, agentStatuses, _ := deriver.Derive(events)
	if status != domain.ItemCompleted && status != domain.ItemError {
		return domain.Agent{}, validationErrorf("reviewreceive: item %s is %s, not completed or error", itemID, status)
	}

	for agentID, st := range agentStatuses {
		role, _, ok := domain.ParseAgentID(agentID)
		if ok && role == domain.RoleReviewReceive && st.IsActive() {
			return domain.Agent{}, validationErrorf("reviewreceive: item %s already has an active review-receiver agent", itemID)
		}
	}

	prNumber, prURL, resolvedRepo, err := locatePullRequest(events, repoName)
	if err != nil {
		return domain.Agent{}, err
	}

	agentID := domain.GenerateAgentID(domain.RoleReviewReceive, "")

	if err := c.appendEvent(itemID, domain.Event{
		ID: newEventID(), Type: domain.EventReviewReceiveStarted, Timestamp: time.Now(),
		ItemID: itemID, AgentID: agentID,
		Payload: map[string]interface{}{"agentId": agentID, "prNumber": prNumber, "prUrl": prURL, "repoName": resolvedRepo},
	}); err != nil {
		return domain.Agent{}, fmt.Errorf("reviewreceive: emitting review_receive_started: %w", err)
	}

	if err := archivePlan(c.layout, itemID); err != nil {
		return domain.Agent{}, fmt.Errorf("reviewreceive: archiving plan: %w", err)
	}

	go c.watch.Watch(itemID, domain.RoleReviewReceive, agentID)

	prompt := prompttmpl.Compose(domain.RoleReviewReceive, reviewReceiveBody, map[string]string{
		"itemName":   item.Name,
		"repoName":   resolvedRepo,
		"prNumber":   prNumber,
		"prUrl":      prURL,
		"repoList":   repoList(item),
		"roleMap":    roleMap(item),
	})

	if _, err := c.agents.Start(agentmgr.StartOptions{
		ItemID:  itemID,
		Role:    domain.RoleReviewReceive,
		WorkDir: c.layout.WorkspaceRoot(itemID),
		Prompt:  prompt,
		AgentID: agentID,
	}); err != nil {
		return domain.Agent{}, fmt.Errorf("reviewreceive: starting agent: %w", err)
	}

	agent, _ := c.agents.Agent(agentID)
	return agent, nil
}

const reviewReceiveBody = "Item: {{itemName}}\nTarget repository: {{repoName}}\n" +
	"Pull request: #{{prNumber}} ({{prUrl}})\n\nRepositories:\n{{repoList}}\n\nRoles:\n{{roleMap}}"

func repoList(item domain.Item) string {
	var sb strings.Builder
	for _, r := range item.Repositories {
		sb.WriteString(fmt.Sprintf("- %s\n", r.DirectoryName))
	}
	return sb.String()
}

func roleMap(item domain.Item) string {
	var sb strings.Builder
	for _, r := range item.Repositories {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", r.DirectoryName, r.Role))
	}
	return sb.String()
}

// locatePullRequest finds the pr_created event for repoName, or (if
// repoName is empty) the most recent pr_created event overall.
func locatePullRequest(events []domain.Event, repoName string) (prNumber, prURL, resolvedRepo string, err error) {
	var best domain.Event
	found := false
	for _, e := range events {
		if e.Type != domain.EventPRCreated {
			continue
		}
		if repoName != "" && e.Str("repoName") != repoName {
			continue
		}
		best = e
		found = true
	}
	if !found {
		if repoName != "" {
			return "", "", "", validationErrorf("reviewreceive: no pr_created event found for repository %q", repoName)
		}
		return "", "", "", validationErrorf("reviewreceive: no pr_created event found for this item")
	}
	return fmt.Sprintf("%v", best.Payload["prNumber"]), best.Str("prUrl"), best.Str("repoName"), nil
}

// archivePlan renames any existing plan.yaml to plan_{timestamp}_{rand6}.yaml
// so the plan watcher can detect a freshly written one without confusing it
// for the prior cycle's artifact (spec.md §4.11).
func archivePlan(layout pathlayout.Layout, itemID string) error {
	planPath := layout.PlanArtifact(itemID)
	if _, err := os.Stat(planPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	archived := filepath.Join(filepath.Dir(planPath), fmt.Sprintf("plan_%d_%s.yaml", time.Now().Unix(), suffix))
	return os.Rename(planPath, archived)
}
