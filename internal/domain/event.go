package domain

import "time"

// EventType tags the kind-specific payload carried by an Event. Mirrors the
// kind list in spec.md §3.
type EventType string

const (
	// Item lifecycle.
	EventItemCreated             EventType = "item_created"
	EventCloneStarted            EventType = "clone_started"
	EventCloneCompleted          EventType = "clone_completed"
	EventWorkspaceSetupStarted   EventType = "workspace_setup_started"
	EventWorkspaceSetupCompleted EventType = "workspace_setup_completed"
	EventPlanCreated             EventType = "plan_created"

	// Agent lifecycle.
	EventAgentStarted   EventType = "agent_started"
	EventAgentExited    EventType = "agent_exited"
	EventStatusChanged  EventType = "status_changed"
	EventTasksCompleted EventType = "tasks_completed"
	EventStdout         EventType = "stdout"
	EventStderr         EventType = "stderr"
	EventError          EventType = "error"

	// Approval protocol.
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalDecision  EventType = "approval_decision"

	// Git observation.
	EventGitSnapshot      EventType = "git_snapshot"
	EventGitSnapshotError EventType = "git_snapshot_error"

	// Pull request.
	EventPRCreated     EventType = "pr_created"
	EventRepoNoChanges EventType = "repo_no_changes"

	// Review cycle.
	EventReviewFindingsExtracted EventType = "review_findings_extracted"
	EventReviewReceiveStarted   EventType = "review_receive_started"
)

// Event is the immutable, append-only log record. Payload carries
// kind-specific fields as a loosely-typed map so that every kind shares one
// envelope on the wire (one JSON object per line, per spec.md §6).
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	ItemID    string                 `json:"itemId"`
	AgentID   string                 `json:"agentId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`

	// seq disambiguates equal timestamps by append position (invariant 1);
	// it is set by the event log when the log is read back (eventlog.Read)
	// and is not itself persisted.
	seq int64
}

// Seq returns the append-order tiebreaker assigned when the event was read
// back from its log file. Zero for events not yet appended.
func (e Event) Seq() int64 { return e.seq }

// WithSeq returns a copy of e with its sequence number set. Used only by
// internal/eventlog when replaying a file.
func (e Event) WithSeq(n int64) Event {
	e.seq = n
	return e
}

// Str returns payload[key] as a string, or "" if absent or not a string.
func (e Event) Str(key string) string {
	v, ok := e.Payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Bool returns payload[key] as a bool, or false if absent or not a bool.
func (e Event) Bool(key string) bool {
	v, ok := e.Payload[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
