package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/loopworks/flywheel/internal/printer"
	"github.com/loopworks/flywheel/internal/timespec"
	"github.com/loopworks/flywheel/pkg/journal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show economic health and control-plane state",
	Long: `Show the current state of the control plane: economic indicators with
their trend and alert level, the stability multipliers, and recent privacy
budget consumption.

Examples:
  # Status of the default instance
  flywheel status

  # Status of a named instance
  flywheel status --name prod`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, instance, err := connectJournal(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	printer.Info("Instance: %s\n\n", instance)

	indicators, err := client.ListIndicators(ctx)
	if err != nil {
		return fmt.Errorf("failed to read indicators: %w", err)
	}
	if len(indicators) == 0 {
		printer.Warning("No indicator data yet - is optimizerd running?\n")
	} else {
		sort.Slice(indicators, func(i, j int) bool { return indicators[i].Name < indicators[j].Name })

		printer.Println("ECONOMIC INDICATORS")
		printer.Printf("  %-20s %12s %12s %10s %s\n", "NAME", "VALUE", "TARGET", "TREND", "ALERT")
		for _, ind := range indicators {
			printer.Printf("  %-20s %12.4g %12.4g %10s %s\n",
				ind.Name, ind.Value, ind.Target, ind.Trend, printer.Alert(ind.Alert))
		}
		printer.Println()
	}

	faucet, sink, err := client.GetMultipliers(ctx)
	switch {
	case journal.IsNotFound(err):
		printer.Info("Stability multipliers: not yet adjusted (faucet 1.00, sink 1.00)\n")
	case err != nil:
		return fmt.Errorf("failed to read multipliers: %w", err)
	default:
		printer.Info("Stability multipliers: faucet %.2f, sink %.2f\n", faucet, sink)
	}

	audits, err := client.ListAudit(ctx, 50)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	var spent float64
	for _, a := range audits {
		spent += a.EpsilonSpent
	}
	printer.Info("Privacy spend (last %d computations): %.2f epsilon\n", len(audits), spent)
	if len(audits) > 0 {
		printer.Info("Most recent: %s (%s) at %s\n",
			audits[0].Metric, audits[0].Mechanism, timespec.FormatMs(audits[0].CreatedAtMs))
	}

	return nil
}
