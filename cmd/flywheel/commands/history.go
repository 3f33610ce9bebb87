package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loopworks/flywheel/internal/printer"
	"github.com/loopworks/flywheel/internal/timespec"
)

var (
	historySince string
	historyUntil string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the stability multiplier adjustment log",
	Long: `Show the economy controller's adjustment history, newest first: every
multiplier change with before/after values and the indicators that
triggered it.

Time bounds accept Go durations relative to now ("1h", "30m") or RFC3339
timestamps.

Examples:
  # Last 20 adjustments
  flywheel history --limit 20

  # Adjustments from the last six hours
  flywheel history --since 6h`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only show adjustments after this time")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Only show adjustments before this time")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Maximum entries to show (0 = all retained)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sinceMS, untilMS, err := timespec.ParseRange(historySince, historyUntil)
	if err != nil {
		return printer.Error(
			"invalid time range",
			err.Error(),
			[]string{"Use a duration like '1h30m' or an RFC3339 timestamp"},
		)
	}

	client, _, err := connectJournal(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	entries, err := client.ListAdjustments(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read adjustment log: %w", err)
	}

	shown := 0
	for _, e := range entries {
		if !timespec.InRange(e.AppliedAtMs, sinceMS, untilMS) {
			continue
		}
		shown++
		printer.Info("%s  faucet %.2f -> %.2f  sink %.2f -> %.2f\n",
			timespec.FormatMs(e.AppliedAtMs), e.FaucetBefore, e.FaucetAfter, e.SinkBefore, e.SinkAfter)
		printer.Info("    %s\n", e.Reason)
	}

	if shown == 0 {
		printer.Info("No adjustments in range.\n")
	}
	return nil
}
