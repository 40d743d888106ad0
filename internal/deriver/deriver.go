// Package deriver is the State Deriver (C7): a pure function from an event
// list to the current item status, per-agent status, and pending-approval
// set. It never writes anything — every other component queries it after
// reading the relevant event log(s). Grounded in shape (a left-fold over a
// persisted record list producing a current-state projection) on the
// teacher's internal/controller/complexity.go scoring-from-history pattern,
// adapted to the status machine spec.md §4.7 specifies in full.
package deriver

import (
	"github.com/andywolf/agentfleet/internal/domain"
)

// PendingApproval is one approval_requested event that has not yet been
// matched by a decision and was not auto-denied.
type PendingApproval struct {
	EventID   string
	AgentID   string
	RequestID string
	Command   string
}

// Derive computes the item's current derived status, the status of every
// agent mentioned in events, and the set of pending approvals. events must
// already be in append order (eventlog.Read guarantees this).
func Derive(events []domain.Event) (domain.ItemStatus, map[string]domain.AgentStatus, []PendingApproval) {
	agentStatus := deriveAgentStatuses(events)
	status := deriveItemStatus(events, agentStatus)
	pending := derivePendingApprovals(events)
	return status, agentStatus, pending
}

// deriveAgentStatuses left-folds each agent's own event sequence into a
// current status, per spec.md §4.7's per-agent fold.
func deriveAgentStatuses(events []domain.Event) map[string]domain.AgentStatus {
	status := make(map[string]domain.AgentStatus)
	roleOf := make(map[string]domain.AgentRole)

	for _, e := range events {
		if e.AgentID == "" {
			continue
		}
		cur, known := status[e.AgentID]
		if !known {
			cur = domain.AgentIdle
		}

		switch e.Type {
		case domain.EventAgentStarted:
			cur = domain.AgentRunning
			roleOf[e.AgentID] = domain.AgentRole(e.Str("role"))
		case domain.EventAgentExited:
			if cur != domain.AgentStopped {
				if e.Bool("success") || e.Str("exitCode") == "0" {
					cur = domain.AgentCompleted
				} else {
					cur = domain.AgentError
				}
			}
		case domain.EventApprovalRequested:
			cur = domain.AgentWaitingApproval
		case domain.EventApprovalDecision:
			if cur == domain.AgentWaitingApproval {
				cur = domain.AgentRunning
			}
		case domain.EventStatusChanged:
			if cur != domain.AgentStopped {
				cur = domain.AgentStatus(e.Str("to"))
			}
		case domain.EventTasksCompleted:
			// The Agent Manager persists only tasks_completed for this
			// signal, so the fold itself moves the agent to
			// waiting_orchestrator.
			if cur != domain.AgentStopped {
				cur = domain.AgentWaitingOrchestrator
			}
		}
		status[e.AgentID] = cur
	}

	return status
}

// derivePendingApprovals returns every approval_requested whose request id
// has no later approval_decision, excluding any whose auto-decision was a
// deny (spec.md §4.7).
func derivePendingApprovals(events []domain.Event) []PendingApproval {
	type req struct {
		eventID, agentID, command string
	}
	requests := make(map[string]req)
	order := make([]string, 0)
	decided := make(map[string]bool)
	autoDenied := make(map[string]bool)

	for _, e := range events {
		switch e.Type {
		case domain.EventApprovalRequested:
			rid := e.Str("requestId")
			if _, ok := requests[rid]; !ok {
				order = append(order, rid)
			}
			requests[rid] = req{eventID: e.ID, agentID: e.AgentID, command: e.Str("command")}
			if e.Str("autoDecision") == "deny" {
				autoDenied[rid] = true
			}
		case domain.EventApprovalDecision:
			decided[e.Str("requestId")] = true
		}
	}

	var pending []PendingApproval
	for _, rid := range order {
		if decided[rid] || autoDenied[rid] {
			continue
		}
		r := requests[rid]
		pending = append(pending, PendingApproval{
			EventID:   r.eventID,
			AgentID:   r.agentID,
			RequestID: rid,
			Command:   r.command,
		})
	}
	return pending
}

// deriveItemStatus implements the evaluation order of spec.md §4.7: first
// matching rule wins.
func deriveItemStatus(events []domain.Event, agentStatus map[string]domain.AgentStatus) domain.ItemStatus {
	if len(events) == 0 {
		return domain.ItemCreated
	}

	// Rule 2: an unresolved error, or the very last event being an error.
	if hasUnresolvedError(events) {
		return domain.ItemError
	}

	// Rule 3: clone lifecycle.
	if status, done := cloneStatus(events); !done {
		return status
	} else if status == domain.ItemError {
		return status
	}

	// Rule 4: workspace-setup lifecycle (local repos).
	if status, done := workspaceSetupStatus(events); !done {
		return status
	} else if status == domain.ItemError {
		return status
	}

	// Rule 5: any agent waiting_approval.
	for _, s := range agentStatus {
		if s == domain.AgentWaitingApproval {
			return domain.ItemWaitingApproval
		}
	}

	// Rule 6: review-receive cycle in progress.
	if status, active := reviewReceiveStatus(events, agentStatus); active {
		return status
	}

	// Rule 7: planner running.
	plannerID := latestAgentID(events, domain.RolePlanner)
	if plannerID != "" && agentStatus[plannerID] == domain.AgentRunning {
		return domain.ItemPlanning
	}

	// Rule 8: any non-planner, non-review-receiver agent running.
	for agentID, s := range agentStatus {
		if s != domain.AgentRunning {
			continue
		}
		role, _, _ := domain.ParseAgentID(agentID)
		if role == domain.RolePlanner || role == domain.RoleReviewReceive {
			continue
		}
		return domain.ItemRunning
	}

	// Rule 9: worker cycle complete (tasks_completed for every worker agent
	// that was ever started, and pr_created|repo_no_changes per repo, with
	// no plan_created/review_receive_started after the last terminal event).
	if workCycleComplete(events) {
		return domain.ItemCompleted
	}

	// Rule 10: a plan exists.
	if hasEventType(events, domain.EventPlanCreated) {
		return domain.ItemReady
	}

	// Rule 11.
	return domain.ItemCreated
}

func hasEventType(events []domain.Event, t domain.EventType) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}

// hasUnresolvedError implements rule 2: an error event not followed by
// pr_created or repo_no_changes, OR the log's very last event is an error.
// (OQ2, SPEC_FULL.md §9: implemented exactly as spec.md states; no
// severity field added.)
func hasUnresolvedError(events []domain.Event) bool {
	if len(events) > 0 && events[len(events)-1].Type == domain.EventError {
		return true
	}
	for i, e := range events {
		if e.Type != domain.EventError {
			continue
		}
		resolved := false
		for _, after := range events[i+1:] {
			if after.Type == domain.EventPRCreated || after.Type == domain.EventRepoNoChanges {
				resolved = true
				break
			}
		}
		if !resolved {
			return true
		}
	}
	return false
}

// cloneStatus reports the derived status implied purely by clone lifecycle
// events, and whether that lifecycle is fully resolved (done=true lets the
// caller fall through to the next rule).
func cloneStatus(events []domain.Event) (status domain.ItemStatus, done bool) {
	started := map[string]bool{}
	completed := map[string]bool{}
	failed := false

	for _, e := range events {
		switch e.Type {
		case domain.EventCloneStarted:
			started[e.Str("repoName")] = true
		case domain.EventCloneCompleted:
			repo := e.Str("repoName")
			if e.Bool("success") {
				completed[repo] = true
			} else {
				failed = true
			}
		}
	}
	if failed {
		return domain.ItemError, true
	}
	for repo := range started {
		if !completed[repo] {
			return domain.ItemCloning, false
		}
	}
	return "", true
}

func workspaceSetupStatus(events []domain.Event) (status domain.ItemStatus, done bool) {
	started := map[string]bool{}
	completed := map[string]bool{}

	for _, e := range events {
		switch e.Type {
		case domain.EventWorkspaceSetupStarted:
			started[e.Str("repoName")] = true
		case domain.EventWorkspaceSetupCompleted:
			completed[e.Str("repoName")] = true
		}
	}
	for repo := range started {
		if !completed[repo] {
			return domain.ItemCloning, false
		}
	}
	return "", true
}

// reviewReceiveStatus implements rule 6.
func reviewReceiveStatus(events []domain.Event, agentStatus map[string]domain.AgentStatus) (domain.ItemStatus, bool) {
	var lastReceiveAgentID string
	var lastReceiveIdx = -1
	for i, e := range events {
		if e.Type == domain.EventReviewReceiveStarted {
			lastReceiveAgentID = e.AgentID
			if lastReceiveAgentID == "" {
				lastReceiveAgentID = e.Str("agentId")
			}
			lastReceiveIdx = i
		}
	}
	if lastReceiveIdx == -1 {
		return "", false
	}

	for _, e := range events[lastReceiveIdx+1:] {
		if e.Type == domain.EventPlanCreated {
			return "", false
		}
	}

	s, known := agentStatus[lastReceiveAgentID]
	if !known || s.IsActive() || s == domain.AgentIdle || s == domain.AgentStarting {
		return domain.ItemReviewReceiving, true
	}
	if s.IsTerminal() {
		return domain.ItemError, true
	}
	return domain.ItemReviewReceiving, true
}

func latestAgentID(events []domain.Event, role domain.AgentRole) string {
	var latest string
	for _, e := range events {
		if e.Type != domain.EventAgentStarted {
			continue
		}
		if domain.AgentRole(e.Str("role")) == role {
			latest = e.AgentID
		}
	}
	return latest
}

// workCycleComplete implements rule 9: every worker agent (any role other
// than planner, review-receiver and review) ever started has a
// tasks_completed, every repository named by a clone_started or
// workspace_setup_started event has a terminal pr_created|repo_no_changes,
// and nothing re-opened the cycle since.
func workCycleComplete(events []domain.Event) bool {
	workerAgents := map[string]bool{}
	tasksCompleted := map[string]bool{}
	repos := map[string]bool{}
	repoTerminal := map[string]int{} // repoName -> event index of terminal event
	var lastPlanOrReceiveIdx = -1
	sawAnyPlanOrWorker := false

	for i, e := range events {
		switch e.Type {
		case domain.EventPlanCreated, domain.EventReviewReceiveStarted:
			lastPlanOrReceiveIdx = i
			sawAnyPlanOrWorker = true
		case domain.EventAgentStarted:
			role := domain.AgentRole(e.Str("role"))
			if role != domain.RolePlanner && role != domain.RoleReviewReceive && role != domain.RoleReview {
				workerAgents[e.AgentID] = true
				sawAnyPlanOrWorker = true
			}
		case domain.EventTasksCompleted:
			tasksCompleted[e.AgentID] = true
		case domain.EventCloneStarted, domain.EventWorkspaceSetupStarted:
			repos[e.Str("repoName")] = true
		case domain.EventPRCreated, domain.EventRepoNoChanges:
			repoTerminal[e.Str("repoName")] = i
		}
	}

	if !sawAnyPlanOrWorker {
		return false
	}

	for agentID := range workerAgents {
		if !tasksCompleted[agentID] {
			return false
		}
	}
	for repo := range repos {
		if _, ok := repoTerminal[repo]; !ok {
			return false
		}
	}
	if len(repoTerminal) == 0 {
		// OQ1 (SPEC_FULL.md §9, DESIGN.md): a cycle with zero repositories
		// ever touched has nothing left to finalize; treated as complete
		// only when there were no worker agents either (empty-tasks plan).
		return len(workerAgents) == 0
	}

	lastTerminalIdx := -1
	for _, idx := range repoTerminal {
		if idx > lastTerminalIdx {
			lastTerminalIdx = idx
		}
	}
	return lastPlanOrReceiveIdx <= lastTerminalIdx || lastPlanOrReceiveIdx == -1
}
