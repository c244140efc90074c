// Package cli holds the storefront command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/storefront/internal/config"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

type options struct {
	envFile string
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfig(o.envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogger(cfg.App)
	return cfg, nil
}

func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront e-commerce backend",
		Long: `Storefront serves the catalog, cart, checkout and payment API.

Run "storefront serve" to start the HTTP server and the outbox relay, or
"storefront migrate up" to prepare the database schema.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to an optional .env file")

	root.AddCommand(newServeCommand(opts), newMigrateCommand(opts))
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
