package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultLogFile = "asterion.log"

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ensure the schema, start the configured services and wait for a signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, logTarget{})
		},
	}
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Like run, but log only to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, logTarget{toFile: true, path: logFile})
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log file (default log.file, then "+defaultLogFile+")")
	return cmd
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the keyspace and tables if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts, logTarget{})
			if err != nil {
				return err
			}
			return errors.Join(a.EnsureSchema(cmd.Context()), shutdown(a))
		},
	}
}

func serve(ctx context.Context, opts *rootOptions, target logTarget) error {
	a, err := setup(ctx, opts, target)
	if err != nil {
		return err
	}
	if err := a.EnsureSchema(ctx); err != nil {
		return errors.Join(err, shutdown(a))
	}
	if err := a.Start(ctx); err != nil {
		return errors.Join(err, shutdown(a))
	}

	a.Logger.Info("asterion running",
		zap.String("backend", a.Config.Store.Backend),
		zap.String("keyspace", a.Config.Keyspace),
		zap.Strings("services", a.Config.Services),
	)
	<-ctx.Done()
	a.Logger.Info("shutting down")
	return shutdown(a)
}
