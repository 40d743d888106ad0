// Package planwatch is the Plan Watcher (C9): watches an item's workspace
// root for the plan artifact, validates it, signals the producing agent to
// exit, and self-terminates on success, on a 30-minute deadline, or when
// the producing agent exits without ever producing a plan. Grounded on the
// teacher's general posture toward filesystem polling (internal/controller's
// resource_monitor.go ticker loop) generalized to dual OS-watch/poll
// detection, since fsnotify (already an indirect dependency of viper in the
// teacher's go.mod) is the pack's only file-watch library and OS watches are
// known-unreliable across the symlink boundaries a local repository may
// introduce (spec.md §4.9).
package planwatch

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/andywolf/agentfleet/internal/agentmgr"
	"github.com/andywolf/agentfleet/internal/deriver"
	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/eventlog"
	"github.com/andywolf/agentfleet/internal/pathlayout"
)

const (
	pollInterval   = 3 * time.Second
	deadline       = 30 * time.Minute
	exitGracePause = 5 * time.Second
)

// Watcher observes one item's workspace for the plan artifact.
type Watcher struct {
	layout pathlayout.Layout
	bus    *eventbus.Bus
	agents *agentmgr.Manager
}

// New constructs a Watcher bound to layout, bus, and the Agent Manager used
// to locate/signal the producing agent.
func New(layout pathlayout.Layout, bus *eventbus.Bus, agents *agentmgr.Manager) *Watcher {
	return &Watcher{layout: layout, bus: bus, agents: agents}
}

func newEventID() string { return uuid.New().String() }

func (w *Watcher) appendEvent(itemID string, e domain.Event) error {
	log, err := eventlog.Open(w.layout.ItemEventLog(itemID))
	if err != nil {
		return err
	}
	if err := log.Append(e); err != nil {
		return err
	}
	w.bus.Publish(e)
	return nil
}

// Watch blocks until a valid plan.yaml appears, the producing agent exits
// without one, or the 30-minute deadline elapses. expectedAgentID, if
// non-empty, pins the producing agent (used by the review-receive cycle,
// which pre-allocates its agent id per spec.md §4.11); otherwise the
// producing agent is resolved by role (the running agent of that role,
// else the most recently started one) both when a plan is found and, on
// every poll, to evaluate the exited-without-a-plan grace path.
//
// Intended to be run in its own goroutine; it performs no locking and holds
// nothing across its suspension points, per spec.md §5.
func (w *Watcher) Watch(itemID string, expectedRole domain.AgentRole, expectedAgentID string) {
	planPath := w.layout.PlanArtifact(itemID)
	workspaceRoot := w.layout.WorkspaceRoot(itemID)

	fsw, fsErr := fsnotify.NewWatcher()
	if fsErr == nil {
		defer fsw.Close()
		_ = fsw.Add(workspaceRoot)
	}

	deadlineTimer := time.NewTimer(deadline)
	defer deadlineTimer.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	var fsEvents <-chan fsnotify.Event
	if fsw != nil {
		fsEvents = fsw.Events
	}

	var graceTimer *time.Timer
	var graceC <-chan time.Time
	var producingAgentID string

	for {
		select {
		case <-deadlineTimer.C:
			_ = w.appendEvent(itemID, domain.Event{
				ID: newEventID(), Type: domain.EventError, Timestamp: time.Now(), ItemID: itemID,
				Payload: map[string]interface{}{"reason": "plan watcher deadline exceeded (30m)", "phase": "plan_watch"},
			})
			return

		case <-fsEvents:
			if w.tryConsumePlan(itemID, planPath, expectedRole, expectedAgentID) {
				return
			}

		case <-poll.C:
			if w.tryConsumePlan(itemID, planPath, expectedRole, expectedAgentID) {
				return
			}
			if graceC == nil {
				agentID := expectedAgentID
				if agentID == "" {
					agentID = w.locateProducingAgent(itemID, expectedRole)
				}
				if agentID != "" && w.producerExitedWithoutPlan(itemID, agentID) {
					producingAgentID = agentID
					graceTimer = time.NewTimer(exitGracePause)
					graceC = graceTimer.C
				}
			}

		case <-graceC:
			// Final check after the grace period, in case the plan file
			// landed just as the agent exited.
			if w.tryConsumePlan(itemID, planPath, expectedRole, expectedAgentID) {
				return
			}
			_ = w.appendEvent(itemID, domain.Event{
				ID: newEventID(), Type: domain.EventError, Timestamp: time.Now(), ItemID: itemID,
				Payload: map[string]interface{}{"reason": "producing agent exited without a plan", "phase": "plan_watch", "agentId": producingAgentID},
			})
			return
		}
	}
}

func (w *Watcher) producerExitedWithoutPlan(itemID, agentID string) bool {
	events, err := eventlog.Read(w.layout.ItemEventLog(itemID))
	if err != nil {
		return false
	}
	_, agentStatus, _ := deriver.Derive(events)
	return agentStatus[agentID].IsTerminal()
}

// tryConsumePlan attempts to read, validate, and act on the plan artifact.
// Returns true once the watcher's job is done (success or unrecoverable
// validation failure), false if the caller should keep waiting.
func (w *Watcher) tryConsumePlan(itemID, planPath string, expectedRole domain.AgentRole, expectedAgentID string) bool {
	raw, err := os.ReadFile(planPath)
	if err != nil {
		return false // not written yet (or mid-write); keep waiting.
	}

	var doc struct {
		Version string         `yaml:"version"`
		ItemID  string         `yaml:"itemId"`
		Summary string         `yaml:"summary"`
		Tasks   *[]domain.Task `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil || doc.Tasks == nil {
		return false // a half-written file parses badly or has no tasks key yet.
	}

	plan := domain.Plan{Version: doc.Version, ItemID: doc.ItemID, Summary: doc.Summary, Tasks: *doc.Tasks}

	item, err := loadItemConfig(w.layout, itemID)
	if err != nil {
		return false
	}
	if err := domain.ValidatePlan(plan, item); err != nil {
		_ = w.appendEvent(itemID, domain.Event{
			ID: newEventID(), Type: domain.EventError, Timestamp: time.Now(), ItemID: itemID,
			Payload: map[string]interface{}{"reason": fmt.Sprintf("invalid plan: %v", err), "phase": "plan_watch"},
		})
		return true
	}

	_ = w.appendEvent(itemID, domain.Event{
		ID: newEventID(), Type: domain.EventPlanCreated, Timestamp: time.Now(), ItemID: itemID,
		Payload: map[string]interface{}{"version": plan.Version, "summary": plan.Summary, "taskCount": len(plan.Tasks)},
	})

	producingAgentID := expectedAgentID
	if producingAgentID == "" {
		producingAgentID = w.locateProducingAgent(itemID, expectedRole)
	}
	if producingAgentID != "" {
		w.signalCompletion(itemID, producingAgentID)
	}
	return true
}

// locateProducingAgent finds the running agent of role, else the most
// recently started agent of that role (spec.md §4.9).
func (w *Watcher) locateProducingAgent(itemID string, role domain.AgentRole) string {
	events, err := eventlog.Read(w.layout.ItemEventLog(itemID))
	if err != nil {
		return ""
	}
	_, agentStatus, _ := deriver.Derive(events)

	var mostRecent string
	for _, e := range events {
		if e.Type != domain.EventAgentStarted {
			continue
		}
		if domain.AgentRole(e.Str("role")) != role {
			continue
		}
		mostRecent = e.AgentID
		if agentStatus[e.AgentID] == domain.AgentRunning {
			return e.AgentID
		}
	}
	return mostRecent
}

func (w *Watcher) signalCompletion(itemID, agentID string) {
	agent, ok := w.agents.Agent(agentID)
	prevStatus := domain.AgentStatus("")
	if ok {
		prevStatus = agent.Status
	}
	_ = w.appendEvent(itemID, domain.Event{
		ID: newEventID(), Type: domain.EventStatusChanged, Timestamp: time.Now(),
		ItemID: itemID, AgentID: agentID,
		Payload: map[string]interface{}{"from": string(prevStatus), "to": string(domain.AgentCompleted)},
	})
	_ = w.agents.SendInput(agentID, []byte("/exit\n"))
}

func loadItemConfig(layout pathlayout.Layout, itemID string) (domain.Item, error) {
	raw, err := os.ReadFile(layout.ItemConfig(itemID))
	if err != nil {
		return domain.Item{}, err
	}
	var item domain.Item
	if err := yaml.Unmarshal(raw, &item); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}
