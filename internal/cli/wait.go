package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/engine"
)

// runAndWait polls itemID's derived status until it reaches a terminal state
// (completed or error) or the user interrupts, printing each status
// transition. Grounded on the teacher's run.go/status.go --watch loop
// (poll-and-print on an interval, with SIGINT/SIGTERM cancelling the wait)
// since this engine has no push-based subscribe transport in front of the
// CLI (spec.md §1 scopes transport out).
func runAndWait(eng *engine.Engine, itemID string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	last := domain.ItemStatus("")
	for {
		status, _, _, err := eng.DerivedStatus(itemID)
		if err != nil {
			return err
		}
		if status != last {
			fmt.Printf("[%s] %s\n", time.Now().Format(time.Kitchen), status)
			last = status
		}
		if status == domain.ItemCompleted || status == domain.ItemError {
			return nil
		}

		select {
		case <-ticker.C:
		case <-sigCh:
			fmt.Println("\nInterrupted; agents keep running in the background.")
			return nil
		}
	}
}
