// Command napmatch assigns prospective customers to the nearest fiber NAP box
// with free capacity on a compatible street.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/usittel/nap-proximity/internal/config"
	"github.com/usittel/nap-proximity/internal/observability"
)

// app carries what every subcommand needs. It is filled before any command runs.
type app struct {
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
	// clock paces gazetteer requests. Nil uses the real clock.
	clock clockwork.Clock
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd, err := newRootCmd().ExecuteContextC(ctx); err != nil {
		slog.Error("command failed", "command", cmd.CommandPath(), "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "napmatch",
		Short:         "Assign prospective customers to nearby NAP boxes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(createRunCmd(a))
	rootCmd.AddCommand(createNormalizeCmd(a))
	rootCmd.AddCommand(createVerifyCmd(a))
	rootCmd.AddCommand(createCacheCmd(a))
	rootCmd.AddCommand(createNapsCmd(a))
	return rootCmd
}

func (a *app) setup() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(a.logger)
	return nil
}
