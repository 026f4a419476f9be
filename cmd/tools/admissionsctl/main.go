// cmd/tools/admissionsctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"admissions-workers/internal/app"
	"admissions-workers/internal/cache"
	"admissions-workers/internal/common/config"
	"admissions-workers/internal/common/logger"
)

var Version = "dev"

// opener builds a ready application for one command invocation.
type opener func(ctx context.Context, configPath string) (*app.App, error)

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "admissionsctl",
		Short:         "Operate the admissions store from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file (defaults to configs/config.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(syncCmd(open))
	rootCmd.AddCommand(listCmd(open))
	rootCmd.AddCommand(approveCmd(open))
	rootCmd.AddCommand(rejectCmd(open))
	rootCmd.AddCommand(deleteCmd(open))
	rootCmd.AddCommand(statsCmd(open))
	rootCmd.AddCommand(logsCmd(open))
	return rootCmd
}

func openApp(ctx context.Context, configPath string) (*app.App, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Results go to stdout, so logs go to stderr.
	log := logger.NewZapAdapter(logger.NewWithOutput(cfg.Logging.Level, "console", "stderr"))
	a, err := app.New(ctx, cfg, log, app.Options{SkipWorkers: true})
	if err != nil {
		return nil, err
	}
	if err := a.Cache.Reload(ctx, cache.TriggerManual); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// withApp opens the application, runs fn and waits for queued notifications
// before closing.
func withApp(cmd *cobra.Command, open opener, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	path, _ := cmd.Flags().GetString("config")
	a, err := open(ctx, path)
	if err != nil {
		return err
	}
	defer a.Close()

	runErr := fn(ctx, a)

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Transitions.Drain(drainCtx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: pending notifications abandoned:", err)
	}
	return runErr
}
