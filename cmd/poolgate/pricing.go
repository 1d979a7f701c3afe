package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/poolgate/adapters/pricingfile"
	"github.com/artpar/poolgate/app"
	"github.com/artpar/poolgate/bootstrap"
	"github.com/artpar/poolgate/config"
	"github.com/artpar/poolgate/domain/pricing"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Inspect the model pricing catalog",
}

var pricingCostCmd = &cobra.Command{
	Use:   "cost <model>",
	Short: "Price a request offline",
	Long: `Compute the cost of a request with the configured pricing catalog.

Examples:
  poolgate pricing cost claude-sonnet-4-20250514 --input 1200 --output 300
  poolgate pricing cost gpt-4o --input 5000 --cache-read 4000 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runPricingCost,
}

var pricingStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the catalog loaded",
	RunE:  runPricingStatus,
}

var (
	costUsage   pricing.Usage
	costEph1h   int64
	pricingJSON bool
)

func init() {
	rootCmd.AddCommand(pricingCmd)
	pricingCmd.AddCommand(pricingCostCmd)
	pricingCmd.AddCommand(pricingStatusCmd)

	f := pricingCostCmd.Flags()
	f.Int64Var(&costUsage.InputTokens, "input", 0, "input tokens")
	f.Int64Var(&costUsage.OutputTokens, "output", 0, "output tokens")
	f.Int64Var(&costUsage.CacheCreationTokens, "cache-create", 0, "cache creation tokens (5m)")
	f.Int64Var(&costUsage.CacheReadTokens, "cache-read", 0, "cache read tokens")
	f.Int64Var(&costEph1h, "cache-create-1h", 0, "cache creation tokens (1h)")
	f.BoolVar(&pricingJSON, "json", false, "print the breakdown as JSON")
}

func loadCatalog() (*pricingfile.Catalog, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := bootstrap.SetupLogger("warn", "console")
	catalog := pricingfile.New(pricingfile.Config{
		Path:         cfg.Pricing.Path,
		FallbackPath: cfg.Pricing.FallbackPath,
	}, logger)
	if err := catalog.Load(); err != nil {
		return nil, err
	}
	return catalog, nil
}

func runPricingCost(cmd *cobra.Command, args []string) error {
	catalog, err := loadCatalog()
	if err != nil {
		return err
	}

	u := costUsage
	if costEph1h > 0 {
		u.CacheCreation = &pricing.CacheCreation{
			Ephemeral5mTokens: u.CacheCreationTokens,
			Ephemeral1hTokens: costEph1h,
		}
		u.CacheCreationTokens += costEph1h
	}

	b := app.NewAccountant(app.AccountantDeps{Pricing: catalog}).Price(args[0], u)
	if pricingJSON {
		return printJSON(b)
	}
	if !b.HasPricing {
		fmt.Printf("No pricing found for %s\n", args[0])
		return nil
	}
	fmt.Printf("Model:        %s\n", args[0])
	fmt.Printf("Input:        %s\n", pricing.FormatCost(b.InputCost))
	fmt.Printf("Output:       %s\n", pricing.FormatCost(b.OutputCost))
	fmt.Printf("Cache create: %s\n", pricing.FormatCost(b.CacheCreateCost))
	fmt.Printf("Cache read:   %s\n", pricing.FormatCost(b.CacheReadCost))
	if b.IsLongContextRequest {
		fmt.Println("Long context rates applied")
	}
	fmt.Printf("Total:        %s\n", pricing.FormatCost(b.TotalCost))
	return nil
}

func runPricingStatus(cmd *cobra.Command, args []string) error {
	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	st := catalog.Status()
	fmt.Printf("Models: %d\nSource: %s\n", st.Models, st.Source)
	return nil
}
