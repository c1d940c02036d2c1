// Package cmd defines and implements the CLI commands for the polla executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/app"
	"github.com/JakeFAU/polla-consensus/internal/config"
	"github.com/JakeFAU/polla-consensus/internal/logging"
)

// Exit codes returned by Execute.
const (
	ExitPublish  = 0
	ExitFailure  = 1
	ExitDeclined = 3
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, nil)
}

// env carries the loaded configuration and logger to subcommands. The App is
// built on first use so commands that only read config stay offline.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	app    *app.App
}

func (e *env) App(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	a, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	e.app = a
	return a, nil
}

func (e *env) close() {
	if e.app != nil {
		e.app.Close()
	}
	// Sync fails on stderr for some terminals; nothing useful to do with it.
	_ = e.logger.Sync()
}

// exitError carries a non-zero exit code for an otherwise successful command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "polla",
		Short: "Cross-validates Loto results published by independent sources.",
		Long: `polla collects the latest Loto draw from several independent publishers,
builds a per-category majority consensus, and decides whether the result is
safe to publish downstream. Every run writes a normalized record, a
comparison report, a run summary and an NDJSON event log.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads config and the logger before any subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Development: cfg.Logging.Development})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// loadConfig reads the config file and applies any run flags the command
// defines, then validates the result.
func loadConfig(cmd *cobra.Command, path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := applyRunFlags(cmd.Flags(), &cfg); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// withEnv hands the loaded environment to run and closes it afterwards,
// including when run fails.
func withEnv(run func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, ok := cmd.Context().Value(envKey).(*env)
		if !ok || e == nil {
			return errors.New("configuration not loaded")
		}
		defer e.close()
		return run(cmd, args, e)
	}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return ExitPublish
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFailure
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	err := newRootCmd().Execute()
	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return code
}
