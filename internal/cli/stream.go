package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentfleet/internal/eventlog"
)

var streamCmd = &cobra.Command{
	Use:   "stream [item-id]",
	Short: "Tail an item's event log to stdout (stand-in for a push subscribe)",
	Long: `Prints every event currently in the item's log, then polls for newly
appended lines every second until interrupted. This is the CLI's stand-in for
the subscribe/unsubscribe transport named in spec.md §6, which this
engine deliberately does not implement (out of scope per spec.md §1).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		path := eng.Layout.ItemEventLog(args[0])

		printed := 0
		print := func() error {
			events, err := eventlog.Read(path)
			if err != nil {
				return err
			}
			for _, ev := range events[printed:] {
				raw, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Println(string(raw))
			}
			printed = len(events)
			return nil
		}
		if err := print(); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := print(); err != nil {
					return err
				}
			case <-sigCh:
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)
}
