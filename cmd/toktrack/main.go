package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/toktrack/pkg/config"
	"github.com/pario-ai/toktrack/pkg/tracker"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	deadline   time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "toktrack",
		Short:         "Token usage and cost tracker for AI coding assistants",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if g.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to config file (default ~/.toktrack/config.yaml)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().DurationVar(&g.deadline, "deadline", 0, "stop parsing after this long and show a partial result")

	root.AddCommand(
		newDailyCmd(g),
		newWeeklyCmd(g),
		newMonthlyCmd(g),
		newStatsCmd(g),
		newModelsCmd(g),
		newSourcesCmd(g),
		newCacheCmd(g),
		newBackupCmd(g),
		newPricingCmd(g),
		newMCPCmd(g),
	)
	return root
}

// open loads configuration and opens the state directory.
func (g *globalFlags) open() (*tracker.Service, *config.Config, error) {
	cfg, err := config.Resolve(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	svc, err := tracker.New(cfg, nil, tracker.WithLogger(slog.Default()))
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}
