// Package cli exposes the action service, the scheduler and the ranking
// queries as opsbrain subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/opsbrain/internal/config"
	otelsink "github.com/PipeOpsHQ/opsbrain/observe/otel"
	"github.com/PipeOpsHQ/opsbrain/runtimeconfig"
)

type rootOptions struct {
	envFile    string
	configFile string
	dbPath     string
	logLevel   string
	logFormat  string

	stderr io.Writer
	app    appOptions
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	cmd := NewRootCommand(&rootOptions{})
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func NewRootCommand(opts *rootOptions) *cobra.Command {
	if opts.stderr == nil {
		opts.stderr = os.Stderr
	}
	root := &cobra.Command{
		Use:           "opsbrain",
		Short:         "Policy-gated personal automation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "optional YAML overlay")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite database path (overrides DB_PATH)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (console, json)")

	root.AddCommand(
		newServeCommand(opts),
		newTriggerCommand(opts),
		newStatusCommand(opts),
		newProposeCommand(opts),
		newDecideCommand(opts, "approve", true),
		newDecideCommand(opts, "reject", false),
		newRunsCommand(opts),
		newNextCommand(opts),
		newToolsCommand(opts),
		newAlertsTestCommand(opts),
	)
	return root
}

// loadSettings layers defaults, the dotenv file, the environment, the YAML
// overlay and finally the flags, then installs the logger.
func (o *rootOptions) loadSettings() (config.Settings, error) {
	settings, err := config.Load(o.envFile)
	if err != nil {
		return config.Settings{}, err
	}
	if strings.TrimSpace(o.configFile) != "" {
		settings, err = runtimeconfig.Load(o.configFile, settings)
		if err != nil {
			return config.Settings{}, err
		}
	}
	if o.dbPath != "" {
		settings.DBPath = o.dbPath
	}
	if o.logLevel != "" {
		settings.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		settings.LogFormat = o.logFormat
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	config.ConfigureLogging(settings.LogLevel, settings.LogFormat, o.stderr)
	if settings.OTelEnabled {
		log.Logger = log.Logger.Hook(otelsink.TraceHook{})
	}
	return settings, nil
}

func (o *rootOptions) open() (*app, error) {
	settings, err := o.loadSettings()
	if err != nil {
		return nil, err
	}
	return buildApp(settings, o.app)
}

// withApp opens the app for the duration of fn.
func (o *rootOptions) withApp(fn func(a *app) error) error {
	a, err := o.open()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
