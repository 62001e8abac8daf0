package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dockstat/config"
	"dockstat/internal/collector"
	"dockstat/internal/logging"
	"dockstat/internal/shutdown"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:     "dockstatd",
		Short:   "Per-host container stats collector",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			level := cfg.LogLevel
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Config file path")
	return cmd
}

// run owns the process lifecycle: one shutdown coordinator, triggered by
// signals, collector failure, or a panic, all through the same
// single-flight path.
func run(ctx context.Context, cfg *config.Config) error {
	coord := shutdown.New(cfg.ShutdownTimeout.Std())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	coord.Register("collector", func(context.Context) error {
		cancel()
		return nil
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigs
		coord.Trigger("received " + s.String())
	}()

	coord.Go("collector", func() {
		if err := collector.Run(ctx, cfg, coord); err != nil && ctx.Err() == nil {
			slog.Error("collector failed", "err", err)
			coord.Trigger("collector failure")
			return
		}
		coord.Trigger("collector stopped")
	})

	<-coord.Done()
	return nil
}

func defaultConfigPath() string {
	if p := os.Getenv("DOCKSTAT_CONFIG"); p != "" {
		return p
	}
	return "/etc/dockstat/config.yaml"
}
