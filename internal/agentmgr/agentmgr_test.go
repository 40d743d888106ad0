package agentmgr

import (
	"path/filepath"
	"testing"

	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/eventlog"
	"github.com/andywolf/agentfleet/internal/pathlayout"
)

func newTestManager(t *testing.T) (*Manager, pathlayout.Layout) {
	t.Helper()
	layout := pathlayout.New(t.TempDir())
	return New(layout, eventbus.New(), ""), layout
}

func TestStopUnknownAgentReturnsError(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Stop("item1", "agent-dev--backend--abcdef"); err == nil {
		t.Fatal("expected error stopping an unknown agent")
	}
}

func TestSendInputWithoutLivePTYReturnsError(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.SendInput("agent-dev--backend--abcdef", []byte("hi")); err == nil {
		t.Fatal("expected error writing to an agent with no live PTY")
	}
}

func TestOutputBufferWithoutLivePTYIsNil(t *testing.T) {
	m, _ := newTestManager(t)
	if got := m.OutputBuffer("agent-dev--backend--abcdef"); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

// TestRecoverOrphansStopsActiveAgentWithoutLivePTY simulates a process
// restart: an item directory on disk has an event log showing an agent left
// running, but this freshly constructed Manager has no live PTY for it.
func TestRecoverOrphansStopsActiveAgentWithoutLivePTY(t *testing.T) {
	m, layout := newTestManager(t)

	itemID := "item1"
	agentID := "agent-dev--backend--abc123"

	log, err := eventlog.Open(layout.ItemEventLog(itemID))
	if err != nil {
		t.Fatalf("opening item log: %v", err)
	}
	if err := log.Append(domain.Event{
		ID: "e1", Type: domain.EventAgentStarted, ItemID: itemID, AgentID: agentID,
		Payload: map[string]interface{}{"role": "dev"},
	}); err != nil {
		t.Fatalf("appending agent_started: %v", err)
	}

	if err := m.RecoverOrphans(); err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}

	agent, ok := m.Agent(agentID)
	if !ok {
		t.Fatal("expected recovered agent to be present in memory")
	}
	if agent.Status != domain.AgentStopped {
		t.Errorf("status = %v, want stopped", agent.Status)
	}
	if agent.Role != domain.AgentRole("dev") {
		t.Errorf("role = %v, want dev", agent.Role)
	}

	events, err := eventlog.Read(layout.ItemEventLog(itemID))
	if err != nil {
		t.Fatalf("reading back item log: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Type == domain.EventStatusChanged && e.AgentID == agentID && e.Str("to") == string(domain.AgentStopped) {
			found = true
		}
	}
	if !found {
		t.Error("expected a persisted status_changed(*->stopped) event for the orphaned agent")
	}
}

func TestRecoverOrphansIgnoresAlreadyTerminalAgents(t *testing.T) {
	m, layout := newTestManager(t)

	itemID := "item2"
	agentID := "agent-review--frontend--def456"

	log, err := eventlog.Open(layout.ItemEventLog(itemID))
	if err != nil {
		t.Fatalf("opening item log: %v", err)
	}
	events := []domain.Event{
		{ID: "e1", Type: domain.EventAgentStarted, ItemID: itemID, AgentID: agentID, Payload: map[string]interface{}{"role": "review"}},
		{ID: "e2", Type: domain.EventAgentExited, ItemID: itemID, AgentID: agentID, Payload: map[string]interface{}{"success": true}},
	}
	for _, e := range events {
		if err := log.Append(e); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}

	if err := m.RecoverOrphans(); err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}

	if _, ok := m.Agent(agentID); ok {
		t.Error("a terminal agent should not be touched by recovery")
	}
}

func TestRecoverOrphansNoItemsRootIsNotAnError(t *testing.T) {
	layout := pathlayout.New(filepath.Join(t.TempDir(), "does-not-exist"))
	m := New(layout, eventbus.New(), "")
	if err := m.RecoverOrphans(); err != nil {
		t.Fatalf("RecoverOrphans on missing items root: %v", err)
	}
}
