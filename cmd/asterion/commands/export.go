package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/domain"
	"github.com/brianhks/asterion/internal/export"
)

type exportOptions struct {
	file     string
	ids      []string
	recovery string
	append   bool
	property string
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	eo := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write vertices with their properties and edges as JSON lines",
		Long: `Export writes one JSON object per vertex, holding all of its properties and
all of its edges. Without -n every vertex is exported.

With -r the identifiers of exported vertices are recorded in a recovery file.
Running the same command again with that file skips them and appends the
rest to the export file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts, eo)
		},
	}
	cmd.Flags().StringVarP(&eo.file, "file", "f", "", "Export file (default stdout)")
	cmd.Flags().StringSliceVarP(&eo.ids, "vertex", "n", nil, "Hex vertex identifiers to export (repeatable or comma separated)")
	cmd.Flags().StringVarP(&eo.recovery, "recovery", "r", "", "Recovery file tracking exported vertices")
	cmd.Flags().BoolVarP(&eo.append, "append", "a", false, "Append to the export file instead of overwriting it")
	cmd.Flags().StringVar(&eo.property, "property", "", "Only export vertices having this property, as name or name=value")
	return cmd
}

func runExport(cmd *cobra.Command, opts *rootOptions, eo *exportOptions) (err error) {
	ctx := cmd.Context()

	selector := export.AllVertices()
	if len(eo.ids) > 0 {
		ids, err := parseIDs(eo.ids)
		if err != nil {
			return err
		}
		selector = export.Vertices(ids...)
	}
	var cursorOpts []export.Option
	if eo.property != "" {
		filter, err := parseFilter(eo.property)
		if err != nil {
			return err
		}
		cursorOpts = append(cursorOpts, export.WithFilter(filter))
	}

	a, err := setup(ctx, opts, logTarget{})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, shutdown(a)) }()
	cursorOpts = append(cursorOpts, export.WithLogger(a.Logger.Logger))

	recoveryFile := eo.recovery
	if recoveryFile == "" {
		recoveryFile = a.Config.Export.RecoveryFile
	}
	appendOutput := eo.append
	var log *export.RecoveryLog
	if recoveryFile != "" {
		if log, err = export.OpenRecoveryLog(recoveryFile); err != nil {
			return err
		}
		defer log.Close()
		cursorOpts = append(cursorOpts, export.WithSkip(log.Contains))
		if log.Len() > 0 && !appendOutput {
			// Overwriting would drop the records the log says are done.
			a.Logger.Warn("resuming from recovery file, appending to export file",
				zap.String("recovery_file", recoveryFile),
				zap.Int("already_exported", log.Len()),
			)
			appendOutput = true
		}
	}

	out, closeOut, err := openOutput(eo.file, appendOutput, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeOut()) }()

	cur := export.NewCursor(a.Store, selector, cursorOpts...)
	summary, err := export.Export(ctx, cur, export.NewWriter(out), log)
	a.Metrics.VerticesExported.Add(float64(summary.Emitted))
	a.Metrics.ExportFailures.Add(float64(len(summary.Errors)))
	a.Logger.Info("export finished",
		zap.Int("emitted", summary.Emitted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("filtered", summary.Filtered),
		zap.Int("failed", len(summary.Errors)),
	)
	if err != nil {
		return err
	}
	if len(summary.Errors) > 0 {
		for id, uerr := range summary.Errors {
			a.Logger.Error("vertex not exported", zap.String("vertex_id", id), zap.Error(uerr))
		}
		return fmt.Errorf("%d vertices could not be exported", len(summary.Errors))
	}
	return nil
}

func openOutput(path string, appendTo bool, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendTo {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open export file: %w", err)
	}
	return f, f.Close, nil
}

func parseIDs(values []string) ([]domain.VertexID, error) {
	ids := make([]domain.VertexID, 0, len(values))
	for _, v := range values {
		id, err := domain.ParseVertexID(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseFilter accepts "name" or "name=value". Only the first '=' splits, so
// "=value" selects the empty property name.
func parseFilter(s string) (export.PropertyFilter, error) {
	name, value, hasValue := strings.Cut(s, "=")
	if name == "" && !hasValue {
		return export.PropertyFilter{}, fmt.Errorf("invalid property filter %q", s)
	}
	filter := export.PropertyFilter{Name: name}
	if hasValue {
		filter.Value = &value
	}
	return filter, nil
}
