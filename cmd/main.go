// Package main is the entry point for the orchestrator control plane.
// It wires the Docker client, the registry store and the HTTP server.
package main

import (
	"os"

	"nfcunha/orchestrator/utils/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

// newRootCmd returns the orchestrator command; without a subcommand it serves.
func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Container orchestration control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	root.AddCommand(serve)
	root.AddCommand(newMigrateCmd())
	return root
}

// loadConfig loads configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level, _ := logrus.ParseLevel(cfg.Logging.Level)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	cfg.Print()
	return cfg, nil
}
