package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/poolgate/domain/apikey"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage poolgate API keys.

Keys authenticate relay requests and carry token and cost limits.
The secret is printed once at creation or regeneration.

Examples:
  poolgate keys list
  poolgate keys list --tag team-a
  poolgate keys create --name ci --daily-cost 20 --platform claude
  poolgate keys regenerate <key-id>
  poolgate keys delete <key-id>
  poolgate keys restore <key-id>
  poolgate keys purge <key-id>`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRegenerateCmd = &cobra.Command{
	Use:   "regenerate <key-id>",
	Short: "Replace the secret of a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRegenerate,
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Soft delete a key (restorable)",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysDelete,
}

var keysRestoreCmd = &cobra.Command{
	Use:   "restore <key-id>",
	Short: "Restore a soft deleted key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRestore,
}

var keysPurgeCmd = &cobra.Command{
	Use:   "purge <key-id>",
	Short: "Permanently delete a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysPurge,
}

var (
	keyName        string
	keyOwner       string
	keyTag         string
	keyTags        []string
	keyPlatforms   []string
	keyAccountTags []string
	keyLimits      apikey.Limits
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRegenerateCmd)
	keysCmd.AddCommand(keysDeleteCmd)
	keysCmd.AddCommand(keysRestoreCmd)
	keysCmd.AddCommand(keysPurgeCmd)

	keysListCmd.Flags().StringVar(&keyTag, "tag", "", "filter by tag")

	f := keysCreateCmd.Flags()
	f.StringVar(&keyName, "name", "", "key name (required)")
	f.StringVar(&keyOwner, "owner", "", "owner ID")
	f.StringSliceVar(&keyTags, "tag", nil, "key tags")
	f.StringSliceVar(&keyPlatforms, "platform", nil, "allowed platforms (default: all)")
	f.StringSliceVar(&keyAccountTags, "account-tag", nil, "restrict to accounts with one of these tags")
	f.Int64Var(&keyLimits.TokenLimit, "token-limit", 0, "tokens per rate-limit window (0: unlimited)")
	f.Int64Var(&keyLimits.RateLimitWindow, "window", 0, "rate-limit window in minutes (0: token and cost limits never reset)")
	f.Float64Var(&keyLimits.CostLimit, "window-cost", 0, "cost per rate-limit window in USD")
	f.Float64Var(&keyLimits.DailyCostLimit, "daily-cost", 0, "daily cost limit in USD")
	f.Float64Var(&keyLimits.WeeklyCostLimit, "weekly-cost", 0, "weekly cost limit in USD")
	f.Float64Var(&keyLimits.TotalCostLimit, "total-cost", 0, "lifetime cost limit in USD")
	keysCreateCmd.MarkFlagRequired("name")
}

var cliActor = apikey.Actor{ID: "cli", Type: "admin"}

func runKeysList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	svc := e.keyService()
	var keys []apikey.Record
	if keyTag != "" {
		keys, err = svc.ListByTag(ctx, keyTag)
	} else {
		keys, err = svc.List(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys found.")
		fmt.Println()
		fmt.Println("Create a key with: poolgate keys create --name=<name>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTAGS\tDAILY\tCREATED")
	fmt.Fprintln(w, "--\t----\t------\t----\t-----\t-------")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, keyStatus(k), strings.Join(k.Tags, ","),
			formatLimit(k.DailyCostLimit), k.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func keyStatus(k apikey.Record) string {
	switch {
	case k.IsDeleted:
		return "deleted"
	case !k.IsActive:
		return "inactive"
	default:
		return "active"
	}
}

func formatLimit(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("$%.2f", v)
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	e.warnMemory()

	rec, secret, err := e.keyService().Create(ctx, apikey.CreateParams{
		Name:             keyName,
		OwnerID:          keyOwner,
		Limits:           keyLimits,
		Tags:             keyTags,
		AllowedPlatforms: keyPlatforms,
		AccountTags:      keyAccountTags,
	})
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("%s Created API key %s\n", checkMark, rec.Name)
	printSecret(rec.ID, secret)
	return nil
}

func runKeysRegenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if !confirm(fmt.Sprintf("Regenerate key %s? The old secret stops working.", args[0])) {
		fmt.Println("Aborted.")
		return nil
	}
	rec, secret, err := e.keyService().Regenerate(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to regenerate key: %w", err)
	}

	fmt.Printf("%s Regenerated key %s\n", checkMark, rec.Name)
	printSecret(rec.ID, secret)
	return nil
}

func printSecret(id, secret string) {
	fmt.Println()
	fmt.Println("API Key (save this, shown once):")
	fmt.Printf("  %s\n", secret)
	fmt.Println()
	fmt.Printf("Key ID: %s\n", id)
}

func runKeysDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := e.keyService().SoftDelete(ctx, args[0], cliActor)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	fmt.Printf("%s Deleted key %s (restore with: poolgate keys restore %s)\n", checkMark, rec.Name, rec.ID)
	return nil
}

func runKeysRestore(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := e.keyService().Restore(ctx, args[0], cliActor)
	if err != nil {
		return fmt.Errorf("failed to restore key: %w", err)
	}
	fmt.Printf("%s Restored key %s\n", checkMark, rec.Name)
	return nil
}

func runKeysPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if !confirm(fmt.Sprintf("Permanently delete key %s?", args[0])) {
		fmt.Println("Aborted.")
		return nil
	}
	if err := e.keyService().HardDelete(ctx, args[0], cliActor); err != nil {
		return fmt.Errorf("failed to purge key: %w", err)
	}
	fmt.Printf("%s Purged key %s\n", checkMark, args[0])
	return nil
}
