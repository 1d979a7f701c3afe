package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Repair key and counter state",
	Long: `Find and remove stale state left by crashes or manual edits.

Examples:
  poolgate sweep hashes              # report stale hash index entries
  poolgate sweep hashes --dry-run=false
  poolgate sweep rebuild             # re-add missing index entries
  poolgate sweep account-usage --execute`,
}

var sweepHashesCmd = &cobra.Command{
	Use:   "hashes",
	Short: "Check the secret hash index against key records",
	RunE:  runSweepHashes,
}

var sweepRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-index every live key",
	RunE:  runSweepRebuild,
}

var sweepAccountUsageCmd = &cobra.Command{
	Use:   "account-usage",
	Short: "Find usage counters of removed accounts",
	RunE:  runSweepAccountUsage,
}

var (
	sweepDryRun  bool
	sweepExecute bool
	sweepJSON    bool
)

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.AddCommand(sweepHashesCmd)
	sweepCmd.AddCommand(sweepRebuildCmd)
	sweepCmd.AddCommand(sweepAccountUsageCmd)

	sweepCmd.PersistentFlags().BoolVar(&sweepJSON, "json", false, "print the report as JSON")
	sweepHashesCmd.Flags().BoolVar(&sweepDryRun, "dry-run", true, "report without removing")
	sweepAccountUsageCmd.Flags().BoolVar(&sweepExecute, "execute", false, "delete the orphaned counters")
}

func runSweepHashes(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	e.warnMemory()

	report, err := e.sweeper().SweepIndex(ctx, sweepDryRun)
	if err != nil {
		return err
	}
	if sweepJSON {
		return printJSON(report)
	}

	fmt.Printf("Index entries: %d (valid %d, invalid %d)\n", report.Total, report.Valid, report.Invalid())
	for _, en := range report.Orphaned {
		fmt.Printf("  orphaned    %s -> %s\n", en.Hash, en.KeyID)
	}
	for _, en := range report.Mismatched {
		fmt.Printf("  mismatched  %s -> %s\n", en.Hash, en.KeyID)
	}
	for _, en := range report.Deleted {
		fmt.Printf("  deleted     %s -> %s\n", en.Hash, en.KeyID)
	}
	if report.DryRun {
		if report.Invalid() > 0 {
			fmt.Println("Dry run. Remove with: poolgate sweep hashes --dry-run=false")
		}
		return nil
	}
	fmt.Printf("%s Removed %d entries\n", checkMark, report.Removed)
	return nil
}

func runSweepRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	e.warnMemory()

	report, err := e.sweeper().RebuildIndex(ctx)
	if err != nil {
		return err
	}
	if sweepJSON {
		return printJSON(report)
	}
	fmt.Printf("%s Records %d, indexed %d, added %d\n", checkMark, report.Records, report.Indexed, report.Added)
	return nil
}

func runSweepAccountUsage(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	e.warnMemory()

	if sweepExecute && !confirm("Delete usage counters of removed accounts?") {
		fmt.Println("Aborted.")
		return nil
	}
	report, err := e.sweeper().SweepAccountUsage(ctx, sweepExecute)
	if err != nil {
		return err
	}
	if sweepJSON {
		return printJSON(report)
	}

	fmt.Printf("Scanned %d counters, %d orphaned\n", report.Scanned, report.OrphanedKeys())
	ids := make([]string, 0, len(report.Orphaned))
	for id := range report.Orphaned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %s: %d keys\n", id, len(report.Orphaned[id]))
	}
	if report.Execute {
		fmt.Printf("%s Deleted %d counters\n", checkMark, report.Deleted)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
