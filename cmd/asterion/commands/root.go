// Package commands implements the asterion command line.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brianhks/asterion/internal/app"
	"github.com/brianhks/asterion/internal/config"
	"github.com/brianhks/asterion/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

type rootOptions struct {
	properties string
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "asterion",
		Short:         "Property graph store on a wide-column backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.properties, "properties", "p", "", "Configuration file; other *.yaml files in its directory are loaded first")

	cmd.AddCommand(
		newRunCmd(opts),
		newStartCmd(opts),
		newSchemaCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
	)
	return cmd
}

// logTarget selects where the process logs. The zero value logs to stderr.
type logTarget struct {
	toFile bool
	// path overrides log.file when set.
	path string
}

func (t logTarget) outputs(cfg *config.Config) []string {
	if !t.toFile {
		return nil
	}
	switch {
	case t.path != "":
		return []string{t.path}
	case cfg.Log.File != "":
		return []string{cfg.Log.File}
	default:
		return []string{defaultLogFile}
	}
}

// setup loads the configuration and wires the application.
func setup(ctx context.Context, opts *rootOptions, target logTarget) (*app.App, error) {
	cfg, err := config.Load(opts.properties)
	if err != nil {
		return nil, err
	}

	outputs := target.outputs(cfg)
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, outputs...)
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, logger, app.WithConfigPath(opts.properties))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// shutdown tears a down with a fresh deadline, since ctx may already be
// cancelled by the signal that ended the command.
func shutdown(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.Shutdown(ctx)
	_ = a.Logger.Sync()
	return err
}
