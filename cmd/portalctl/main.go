package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"portal-service/internal/config"
	"portal-service/internal/factory"
)

var (
	Version = "dev"

	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "portalctl",
		Short:         "Back-office tooling for the consumer payment portal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at info level")

	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(mappingCmd())
	rootCmd.AddCommand(paymentsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the service configuration; the CLI stays quiet unless
// --verbose is given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if !verbose {
		cfg.Logging.Level = "warn"
	}
	cfg.Logging.Format = "console"
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withFactory runs fn against a fully wired factory and closes it after.
func withFactory(fn func(ctx context.Context, f *factory.Factory) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	f, err := factory.NewFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(ctx, f)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
