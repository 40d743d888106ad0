// Package agentmgr is the Agent Manager (C6): owns the in-memory Agent
// registry, generates agent ids, bridges PTY Supervisor signals into
// persisted events, and recovers orphaned agents on process startup.
// Grounded on the teacher's internal/controller/controller.go pattern of a
// single struct owning a map of live session state protected by one mutex,
// with lifecycle methods that both mutate memory and append to a log.
package agentmgr

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andywolf/agentfleet/internal/approval"
	"github.com/andywolf/agentfleet/internal/deriver"
	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/eventlog"
	"github.com/andywolf/agentfleet/internal/pathlayout"
	"github.com/andywolf/agentfleet/internal/ptysup"
	"github.com/andywolf/agentfleet/internal/secstrip"
)

// Manager is a process-scoped singleton in production (spec.md §9); tests
// construct their own fresh instance with New.
type Manager struct {
	layout               pathlayout.Layout
	bus                  *eventbus.Bus
	assistantBinOverride string
	scrubber             *secstrip.Scrubber

	mu        sync.Mutex
	agents    map[string]*domain.Agent // agentID -> record
	instances map[string]*ptysup.Instance
	itemLogs  map[string]*eventlog.Log // itemID -> item event log, cached
}

// New constructs a Manager bound to layout and bus. assistantBinOverride is
// passed straight through to ptysup.Spawn (spec.md §4.5's env-var override).
func New(layout pathlayout.Layout, bus *eventbus.Bus, assistantBinOverride string) *Manager {
	return &Manager{
		layout:               layout,
		bus:                  bus,
		assistantBinOverride: assistantBinOverride,
		scrubber:             secstrip.New(),
		agents:               make(map[string]*domain.Agent),
		instances:            make(map[string]*ptysup.Instance),
		itemLogs:             make(map[string]*eventlog.Log),
	}
}

func (m *Manager) itemLog(itemID string) (*eventlog.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.itemLogs[itemID]; ok {
		return l, nil
	}
	l, err := eventlog.Open(m.layout.ItemEventLog(itemID))
	if err != nil {
		return nil, err
	}
	m.itemLogs[itemID] = l
	return l, nil
}

// appendBoth implements spec.md §4.2: every agent event is appended to the
// agent's own log, then the item log, in that order. Failure of the second
// append surfaces as an error but the first append is not rolled back.
func (m *Manager) appendBoth(itemID, agentID string, e domain.Event) error {
	agentLog, err := eventlog.Open(m.layout.AgentEventLog(itemID, agentID))
	if err != nil {
		return fmt.Errorf("agentmgr: opening agent log: %w", err)
	}
	if err := agentLog.Append(e); err != nil {
		return fmt.Errorf("agentmgr: appending to agent log: %w", err)
	}

	itemLog, err := m.itemLog(itemID)
	if err != nil {
		return fmt.Errorf("agentmgr: opening item log: %w", err)
	}
	if err := itemLog.Append(e); err != nil {
		return fmt.Errorf("agentmgr: appending to item log (agent log already written): %w", err)
	}

	m.bus.Publish(e)
	return nil
}

func newEventID() string { return uuid.New().String() }

// StartOptions configures Start.
type StartOptions struct {
	ItemID   string
	Role     domain.AgentRole
	RepoName string // required for non-system roles
	WorkDir  string
	Prompt   string

	// AgentID, if set, is used verbatim instead of generating a fresh one.
	// The Review-Receive Controller pre-allocates an id so it can bind the
	// Plan Watcher to the agent before the agent itself exists (spec.md
	// §4.11).
	AgentID string
}

// Start creates the per-agent directory, spawns the PTY instance, and emits
// agent_started on success (or a scoped error event on failure), per
// spec.md §4.6.
func (m *Manager) Start(opts StartOptions) (string, error) {
	if !domain.IsSystemRole(opts.Role) && opts.RepoName == "" {
		return "", fmt.Errorf("agentmgr: role %q requires a repository name", opts.Role)
	}

	repoName := opts.RepoName
	if domain.IsSystemRole(opts.Role) {
		repoName = ""
	}
	agentID := opts.AgentID
	if agentID == "" {
		agentID = domain.GenerateAgentID(opts.Role, repoName)
	}

	agent := &domain.Agent{
		ID:         agentID,
		ItemID:     opts.ItemID,
		Role:       opts.Role,
		Repository: repoName,
		Status:     domain.AgentStarting,
		StartedAt:  time.Now(),
	}

	m.mu.Lock()
	m.agents[agentID] = agent
	m.mu.Unlock()

	inst, err := ptysup.Spawn(ptysup.SpawnOptions{
		BinaryOverride: m.assistantBinOverride,
		WorkDir:        opts.WorkDir,
		Prompt:         opts.Prompt,
	}, m.handlersFor(opts.ItemID, agentID))
	if err != nil {
		_ = m.appendBoth(opts.ItemID, agentID, domain.Event{
			ID: newEventID(), Type: domain.EventError, Timestamp: time.Now(),
			ItemID: opts.ItemID, AgentID: agentID,
			Payload: map[string]interface{}{"reason": err.Error(), "phase": "spawn"},
		})
		m.mu.Lock()
		agent.Status = domain.AgentError
		m.mu.Unlock()
		return agentID, fmt.Errorf("agentmgr: starting agent %s: %w", agentID, err)
	}

	m.mu.Lock()
	m.instances[agentID] = inst
	agent.Status = domain.AgentRunning
	agent.PID = inst.PID()
	m.mu.Unlock()

	err = m.appendBoth(opts.ItemID, agentID, domain.Event{
		ID: newEventID(), Type: domain.EventAgentStarted, Timestamp: time.Now(),
		ItemID: opts.ItemID, AgentID: agentID,
		Payload: map[string]interface{}{"role": string(opts.Role), "repository": repoName, "pid": inst.PID()},
	})
	return agentID, err
}

// handlersFor builds the ptysup.Handlers that bridge one agent's PTY signals
// to persisted events, per spec.md §4.6's event-bridging table.
func (m *Manager) handlersFor(itemID, agentID string) ptysup.Handlers {
	return ptysup.Handlers{
		OnOutput: func(chunk []byte) {
			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventStdout, Timestamp: time.Now(),
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{"data": m.scrubber.Scrub(string(chunk))},
			})
		},
		OnTasksCompleted: func() {
			m.setStatus(itemID, agentID, domain.AgentWaitingOrchestrator)
			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventTasksCompleted, Timestamp: time.Now(),
				ItemID: itemID, AgentID: agentID,
			})
		},
		OnApprovalRequested: func(requestID, command string, flags approval.Flags, context string) {
			m.setStatus(itemID, agentID, domain.AgentWaitingApproval)
			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventApprovalRequested, Timestamp: time.Now(),
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{
					"requestId": requestID, "command": command, "context": context,
					"isOutsideWorkspace": flags.IsOutsideWorkspace,
					"isDestructive":      flags.IsDestructive,
					"involvesSecrets":    flags.InvolvesSecrets,
					"involvesNetwork":    flags.InvolvesNetwork,
				},
			})
		},
		OnApprovalAutoDenied: func(requestID, command string) {
			now := time.Now()
			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventApprovalRequested, Timestamp: now,
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{"requestId": requestID, "command": command, "autoDecision": "deny"},
			})
			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventApprovalDecision, Timestamp: now,
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{"requestId": requestID, "approved": false, "auto": true},
			})
		},
		OnApprovalAutoApproved: func(requestID, command string) {
			now := time.Now()
			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventApprovalRequested, Timestamp: now,
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{"requestId": requestID, "command": command, "autoDecision": "approve"},
			})
			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventApprovalDecision, Timestamp: now,
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{"requestId": requestID, "approved": true, "auto": true},
			})
		},
		OnExit: func(exitCode int, signal string) {
			m.mu.Lock()
			agent, ok := m.agents[agentID]
			alreadyStopped := ok && agent.Status == domain.AgentStopped
			if ok && !alreadyStopped {
				if exitCode == 0 {
					agent.Status = domain.AgentCompleted
				} else {
					agent.Status = domain.AgentError
				}
				agent.StoppedAt = time.Now()
				agent.ExitCode = exitCode
			}
			delete(m.instances, agentID)
			m.mu.Unlock()

			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventAgentExited, Timestamp: time.Now(),
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{"exitCode": exitCode, "signal": signal, "success": exitCode == 0},
			})
		},
		OnError: func(err error) {
			_ = m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventError, Timestamp: time.Now(),
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{"reason": err.Error()},
			})
		},
	}
}

func (m *Manager) setStatus(itemID, agentID string, status domain.AgentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[agentID]; ok && a.Status != domain.AgentStopped {
		a.Status = status
	}
}

// Stop kills the PTY and marks the agent stopped. A subsequent agent_exited
// from the now-killed child must not overwrite this status (enforced by the
// OnExit handler's alreadyStopped check above).
func (m *Manager) Stop(itemID, agentID string) error {
	m.mu.Lock()
	inst, hasInst := m.instances[agentID]
	agent, hasAgent := m.agents[agentID]
	prevStatus := domain.AgentStatus("")
	if hasAgent {
		prevStatus = agent.Status
		agent.Status = domain.AgentStopped
		agent.StoppedAt = time.Now()
	}
	m.mu.Unlock()

	if hasInst {
		_ = inst.Kill()
	}
	if !hasAgent {
		return fmt.Errorf("agentmgr: unknown agent %s", agentID)
	}

	return m.appendBoth(itemID, agentID, domain.Event{
		ID: newEventID(), Type: domain.EventStatusChanged, Timestamp: time.Now(),
		ItemID: itemID, AgentID: agentID,
		Payload: map[string]interface{}{"from": string(prevStatus), "to": string(domain.AgentStopped)},
	})
}

// SendInput writes raw bytes to the agent's PTY stdin.
func (m *Manager) SendInput(agentID string, data []byte) error {
	m.mu.Lock()
	inst, ok := m.instances[agentID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("agentmgr: agent %s has no live PTY", agentID)
	}
	return inst.Write(data)
}

// Resize changes an agent's PTY terminal dimensions.
func (m *Manager) Resize(agentID string, cols, rows int) error {
	m.mu.Lock()
	inst, ok := m.instances[agentID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("agentmgr: agent %s has no live PTY", agentID)
	}
	return inst.Resize(cols, rows)
}

// OutputBuffer returns the agent's live ring-buffer tail, or nil if it has
// no live PTY.
func (m *Manager) OutputBuffer(agentID string) []byte {
	m.mu.Lock()
	inst, ok := m.instances[agentID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return inst.OutputTail()
}

// ProcessApproval forwards a human decision to the agent's PTY and persists
// the approval_decision event.
func (m *Manager) ProcessApproval(itemID, agentID, requestID string, approved bool, uiKindOverride approval.UIKind) error {
	m.mu.Lock()
	inst, ok := m.instances[agentID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("agentmgr: agent %s has no live PTY", agentID)
	}
	if err := inst.ProcessApproval(approved, uiKindOverride); err != nil {
		return err
	}
	return m.appendBoth(itemID, agentID, domain.Event{
		ID: newEventID(), Type: domain.EventApprovalDecision, Timestamp: time.Now(),
		ItemID: itemID, AgentID: agentID,
		Payload: map[string]interface{}{"requestId": requestID, "approved": approved, "auto": false},
	})
}

// Agent returns the in-memory record for agentID, if any.
func (m *Manager) Agent(agentID string) (domain.Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return domain.Agent{}, false
	}
	return *a, true
}

// HasLivePTY reports whether agentID currently has a running PTY instance
// in this process (used by orphan detection on restart).
func (m *Manager) HasLivePTY(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[agentID]
	return ok
}

// RecoverOrphans replays every item's event log on process startup and marks
// as stopped any agent whose last derived status is active but which has no
// live PTY in this (freshly started) process — every agent from a previous
// process is, by construction, such an orphan. This is spec.md §4.6's
// crash-recovery pass and must run once, before anything else subscribes to
// the event bus or resumes orchestration.
//
// The write-before-update-in-memory ordering below is load-bearing: if the
// process crashes again between the two steps, the next recovery pass simply
// redoes the append (idempotent, since deriver folds left-to-right and a
// repeated status_changed(*→stopped) changes nothing) rather than leaving an
// agent the deriver still considers active with nothing to ever stop it.
func (m *Manager) RecoverOrphans() error {
	entries, err := os.ReadDir(m.layout.ItemsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("agentmgr: listing items root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		itemID := entry.Name()
		events, err := eventlog.Read(m.layout.ItemEventLog(itemID))
		if err != nil {
			return fmt.Errorf("agentmgr: reading item %s event log: %w", itemID, err)
		}

		_, agentStatuses, _ := deriver.Derive(events)

		roleByAgent := m.rolesFromEvents(events)

		for agentID, status := range agentStatuses {
			if !status.IsActive() {
				continue
			}
			if m.HasLivePTY(agentID) {
				continue
			}

			role, hasRole := roleByAgent[agentID]
			if !hasRole {
				parsedRole, _, ok := domain.ParseAgentID(agentID)
				if !ok {
					continue // cannot determine role; leave as-is rather than guess.
				}
				role = parsedRole
			}

			if err := m.appendBoth(itemID, agentID, domain.Event{
				ID: newEventID(), Type: domain.EventStatusChanged, Timestamp: time.Now(),
				ItemID: itemID, AgentID: agentID,
				Payload: map[string]interface{}{"from": string(status), "to": string(domain.AgentStopped), "reason": "orphan_recovery"},
			}); err != nil {
				return fmt.Errorf("agentmgr: recovering orphan %s: %w", agentID, err)
			}

			m.mu.Lock()
			m.agents[agentID] = &domain.Agent{
				ID:         agentID,
				ItemID:     itemID,
				Role:       role,
				Status:     domain.AgentStopped,
				StoppedAt:  time.Now(),
			}
			m.mu.Unlock()
		}
	}
	return nil
}

// rolesFromEvents extracts the role declared on each agent's agent_started
// event, the only authoritative source (payload "role" is always set by
// Start; falling back to id-parsing is a last resort for logs predating
// that field).
func (m *Manager) rolesFromEvents(events []domain.Event) map[string]domain.AgentRole {
	roles := make(map[string]domain.AgentRole)
	for _, e := range events {
		if e.Type == domain.EventAgentStarted && e.AgentID != "" {
			roles[e.AgentID] = domain.AgentRole(e.Str("role"))
		}
	}
	return roles
}
