package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/artpar/poolgate/bootstrap"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the poolgate gateway.

The server will:
  - Load configuration from poolgate.yaml (or --config), else POOLGATE_* variables
  - Connect to Redis for keys, accounts and counters (memory when unset)
  - Open the usage database when database.driver is set
  - Relay /v1/messages and /v1/chat/completions across the account pool

Examples:
  poolgate serve
  poolgate serve --config /etc/poolgate/config.yaml
  poolgate serve --hot-reload=false

  # Environment only:
  POOLGATE_REDIS_URL=redis://localhost:6379/0 poolgate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload the config file on change and SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap.New(context.Background(), bootstrap.Options{
		ConfigPath: cfgFile,
		HotReload:  hotReload,
		Version:    version,
	})
	if err != nil {
		return err
	}
	return a.Run()
}
