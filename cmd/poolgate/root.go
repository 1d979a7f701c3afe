package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/poolgate/adapters/clock"
	"github.com/artpar/poolgate/adapters/hasher"
	"github.com/artpar/poolgate/adapters/idgen"
	"github.com/artpar/poolgate/adapters/random"
	"github.com/artpar/poolgate/app"
	"github.com/artpar/poolgate/bootstrap"
	"github.com/artpar/poolgate/config"
)

const checkMark = "\033[32m✓\033[0m"

var (
	// Global flags
	cfgFile string
	yes     bool
)

var rootCmd = &cobra.Command{
	Use:   "poolgate",
	Short: "LLM relay gateway with account pooling, failover and usage metering",
	Long: `poolgate relays Claude and OpenAI-compatible API calls across a pool of
upstream accounts. It authenticates API keys, enforces token and cost
limits, fails over between accounts and records usage.

Quick start:
  poolgate serve                 # Start the gateway
  poolgate keys create --name ci # Issue an API key

Maintenance:
  poolgate sweep hashes          # Report stale hash index entries
  poolgate pricing cost <model>  # Price a request offline`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "poolgate.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompts")
}

// env is what one-shot commands need: config, stores and a quiet logger.
type env struct {
	cfg    *config.Config
	stores *bootstrap.Stores
	logger zerolog.Logger
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := bootstrap.SetupLogger("warn", "console")
	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, stores: stores, logger: logger}, nil
}

func (e *env) Close() {
	e.stores.Close()
}

func (e *env) keyService() *app.KeyService {
	return app.NewKeyService(app.KeyDeps{
		Store:  e.stores.Keys,
		Hasher: hasher.NewKeyed(e.cfg.Auth.HashKey),
		Random: random.Real{},
		IDGen:  idgen.UUID{},
		Clock:  clock.Real{},
		Logger: e.logger,
	})
}

func (e *env) sweeper() *app.Sweeper {
	return app.NewSweeper(app.SweepDeps{
		Keys:     e.stores.Keys,
		Accounts: e.stores.Accounts,
		Counters: e.stores.Counters,
		Logger:   e.logger,
	})
}

// warnMemory tells the operator a command ran against throwaway state.
func (e *env) warnMemory() {
	if e.stores.Redis == nil {
		fmt.Fprintln(os.Stderr, "warning: redis.url not set, operating on empty in-memory state")
	}
}

func confirm(message string) bool {
	if yes {
		return true
	}
	fmt.Printf("%s [y/N]: ", message)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
