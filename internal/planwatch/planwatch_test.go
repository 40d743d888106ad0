package planwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andywolf/agentfleet/internal/agentmgr"
	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/eventlog"
	"github.com/andywolf/agentfleet/internal/pathlayout"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

func newTestWatcher(t *testing.T) (*Watcher, pathlayout.Layout, *eventbus.Bus) {
	t.Helper()
	layout := pathlayout.New(t.TempDir())
	bus := eventbus.New()
	agents := agentmgr.New(layout, bus, filepath.Join(t.TempDir(), "no-such-assistant-binary"))
	return New(layout, bus, agents), layout, bus
}

func writeItemConfig(t *testing.T, layout pathlayout.Layout, item domain.Item) {
	t.Helper()
	if err := os.MkdirAll(layout.ItemDir(item.ID), 0o755); err != nil {
		t.Fatal(err)
	}
	raw, err := yaml.Marshal(item)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(layout.ItemConfig(item.ID), raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func appendTestEvent(t *testing.T, layout pathlayout.Layout, e domain.Event) {
	t.Helper()
	log, err := eventlog.Open(layout.ItemEventLog(e.ItemID))
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append(e); err != nil {
		t.Fatal(err)
	}
}

// TestWatchDetectsPlannerExitWithoutExplicitAgentID reproduces the primary
// planner cycle, where the engine arms the watcher with an empty
// expectedAgentID (it is only known once agent_started fires). Before the
// fix, the exited-without-a-plan grace path was gated on expectedAgentID !=
// "" and so never fired for the planner; the watcher would not detect a
// dead planner until the 30-minute deadline.
func TestWatchDetectsPlannerExitWithoutExplicitAgentID(t *testing.T) {
	w, layout, bus := newTestWatcher(t)
	itemID := "ITEM-plan-exit"
	agentID := "planner-1"

	writeItemConfig(t, layout, domain.Item{ID: itemID, Repositories: []domain.RepositoryConfig{
		{DirectoryName: "api", Role: "backend"},
	}})
	appendTestEvent(t, layout, domain.Event{
		ID: uuid.New().String(), Type: domain.EventAgentStarted, Timestamp: time.Now(),
		ItemID: itemID, AgentID: agentID,
		Payload: map[string]interface{}{"role": string(domain.RolePlanner)},
	})
	appendTestEvent(t, layout, domain.Event{
		ID: uuid.New().String(), Type: domain.EventAgentExited, Timestamp: time.Now(),
		ItemID: itemID, AgentID: agentID,
		Payload: map[string]interface{}{"success": false},
	})

	sub := bus.SubscribeItem(itemID)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		w.Watch(itemID, domain.RolePlanner, "")
		close(done)
	}()

	timeout := time.After(20 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Type == domain.EventError {
				if ev.Str("reason") != "producing agent exited without a plan" {
					t.Fatalf("unexpected error reason: %q", ev.Str("reason"))
				}
				if ev.Str("agentId") != agentID {
					t.Fatalf("error event agentId = %q, want %q (resolved by role)", ev.Str("agentId"), agentID)
				}
				return
			}
		case <-done:
			t.Fatal("Watch returned without emitting the exited-without-a-plan error event")
		case <-timeout:
			t.Fatal("timed out waiting for the exited-without-a-plan error event; grace path did not fire")
		}
	}
}
