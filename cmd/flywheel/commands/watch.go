package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loopworks/flywheel/internal/printer"
	"github.com/loopworks/flywheel/internal/timespec"
	"github.com/loopworks/flywheel/pkg/journal"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream automatic control actions in real time",
	Long: `Stream the optimizer's control events as they happen: safety
violations, rollbacks, multiplier adjustments, and traffic graduations.

Output Formats:
  default - Human-readable output with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the default instance
  flywheel watch

  # Export events as JSON
  flywheel watch --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchOutputFormat != "default" && watchOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	client, instance, err := connectJournal(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	subscription, err := client.SubscribeControlEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to control events: %w", err)
	}
	defer subscription.Close()

	if watchOutputFormat == "default" {
		printer.Info("Watching control events for instance '%s' (Ctrl+C to stop)...\n", instance)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			printEvent(event)

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			printer.Warning("event stream error: %v\n", err)
		}
	}
}

func printEvent(event *journal.ControlEvent) {
	if watchOutputFormat == "json" {
		data, err := json.Marshal(event)
		if err != nil {
			printer.Warning("failed to marshal event: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}

	ts := timespec.FormatMs(event.CreatedAtMs)
	switch event.Kind {
	case journal.EventRollback:
		printer.Warning("%s  ROLLBACK %s: %s\n", ts, shortID(event.ExperimentID), event.Detail)
	case journal.EventSafetyViolation:
		printer.Warning("%s  safety violation %s: %s\n", ts, shortID(event.ExperimentID), event.Detail)
	case journal.EventGraduation:
		printer.Success("%s  graduation %s: %s\n", ts, shortID(event.ExperimentID), event.Detail)
	case journal.EventAdjustment:
		printer.Info("%s  adjustment: %s\n", ts, event.Detail)
	default:
		printer.Info("%s  %s: %s\n", ts, event.Kind, event.Detail)
	}
}
