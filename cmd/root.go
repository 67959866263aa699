package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/app"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/config"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/logging"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/telemetry"
)

type envKey struct{}

// env is what PersistentPreRunE hands to the subcommands.
type env struct {
	cfg      config.Config
	logger   *zap.Logger
	shutdown telemetry.Shutdown
}

// newApp is a variable so tests can inject collaborators.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pricecrawl",
		Short: "Collects supermarket prices with a browsing agent.",
		Long: `pricecrawl drives a browsing agent through supermarket websites, one
session per store, checkpoints one JSON artifact per product and turns the
artifacts into a flat price report.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry, logger.Named("telemetry"))
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			e := &env{cfg: cfg, logger: logger, shutdown: shutdown}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, e))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			e, ok := cmd.Context().Value(envKey{}).(*env)
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.shutdown(ctx); err != nil {
				e.logger.Warn("trace flush failed", zap.Error(err))
			}
			_ = e.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newModelsCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok || e == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return e, nil
}

// withApp builds the App, runs fn and closes the App.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

// Execute runs the root command with a context canceled by SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pricecrawl: %v\n", err)
		os.Exit(1)
	}
}
