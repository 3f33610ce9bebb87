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

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "Inspect A/B experiments",
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments with their status and rollout",
	RunE:  runExperimentsList,
}

var experimentsShowCmd = &cobra.Command{
	Use:   "show <experiment-id>",
	Short: "Show one experiment's variants and counters",
	Long: `Show a single experiment in detail: lifecycle status, rollout
percentage, rollback reason if any, and per-variant counters.

Accepts a full experiment UUID or an unambiguous prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentsShow,
}

func init() {
	experimentsCmd.AddCommand(experimentsListCmd)
	experimentsCmd.AddCommand(experimentsShowCmd)
	rootCmd.AddCommand(experimentsCmd)
}

func runExperimentsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := connectJournal(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	snapshots, err := loadAllExperiments(ctx, client)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		printer.Info("No experiments found.\n")
		return nil
	}

	printer.Printf("%-10s %-28s %-16s %-12s %8s %10s\n",
		"ID", "NAME", "TYPE", "STATUS", "ROLLOUT", "VARIANTS")
	for _, e := range snapshots {
		printer.Printf("%-10s %-28s %-16s %-12s %7.1f%% %10d\n",
			shortID(e.ID), e.Name, e.Type, printer.Status(string(e.Status)), e.RolloutPercent, len(e.Variants))
	}

	return nil
}

func runExperimentsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := connectJournal(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	exp, err := findExperiment(ctx, client, args[0])
	if err != nil {
		return err
	}

	printer.Info("Experiment: %s (%s)\n", exp.Name, exp.ID)
	printer.Info("Type:       %s\n", exp.Type)
	printer.Info("Status:     %s\n", printer.Status(string(exp.Status)))
	printer.Info("Rollout:    %.1f%%\n", exp.RolloutPercent)
	printer.Info("Started:    %s\n", timespec.FormatMs(exp.StartedAtMs))
	printer.Info("Ended:      %s\n", timespec.FormatMs(exp.EndedAtMs))
	if exp.RollbackReason != "" {
		printer.Warning("Rolled back: %s\n", exp.RollbackReason)
	}

	printer.Println()
	printer.Printf("  %-10s %-20s %8s %13s %12s %8s %10s\n",
		"ID", "VARIANT", "SHARE", "PARTICIPANTS", "CONVERSIONS", "SHARES", "VIOLATIONS")
	for _, v := range exp.Variants {
		name := v.Name
		if v.IsControl {
			name += " (control)"
		}
		printer.Printf("  %-10s %-20s %7.0f%% %13d %12d %8d %10d\n",
			shortID(v.ID), name, v.TrafficShare*100, v.Participants, v.Conversions,
			v.SharingEvents, v.PrivacyViolations)
	}

	return nil
}

// loadAllExperiments fetches every journaled experiment snapshot, sorted by
// name for stable output.
func loadAllExperiments(ctx context.Context, client *journal.Client) ([]*journal.ExperimentSnapshot, error) {
	ids, err := client.ListExperimentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}

	snapshots := make([]*journal.ExperimentSnapshot, 0, len(ids))
	for _, id := range ids {
		e, err := client.GetExperiment(ctx, id)
		if err != nil {
			if journal.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read experiment %s: %w", id, err)
		}
		snapshots = append(snapshots, e)
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots, nil
}

// findExperiment resolves a full UUID or unambiguous prefix to a snapshot.
func findExperiment(ctx context.Context, client *journal.Client, idOrPrefix string) (*journal.ExperimentSnapshot, error) {
	exp, err := client.GetExperiment(ctx, idOrPrefix)
	if err == nil {
		return exp, nil
	}
	if !journal.IsNotFound(err) {
		return nil, fmt.Errorf("failed to read experiment: %w", err)
	}

	snapshots, err := loadAllExperiments(ctx, client)
	if err != nil {
		return nil, err
	}

	var matches []*journal.ExperimentSnapshot
	for _, e := range snapshots {
		if len(idOrPrefix) > 0 && len(e.ID) >= len(idOrPrefix) && e.ID[:len(idOrPrefix)] == idOrPrefix {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, printer.Error(
			"experiment not found",
			fmt.Sprintf("No experiment matches '%s'.", idOrPrefix),
			[]string{"List experiments:\n  flywheel experiments list"},
		)
	default:
		return nil, printer.Error(
			"ambiguous experiment ID",
			fmt.Sprintf("%d experiments match prefix '%s'.", len(matches), idOrPrefix),
			[]string{"Use a longer prefix or the full UUID"},
		)
	}
}
