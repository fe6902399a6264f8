package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/export"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load vertices from a file written by export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open import file: %w", err)
				}
				defer f.Close()
				in = f
			}

			a, err := setup(cmd.Context(), opts, logTarget{})
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, shutdown(a)) }()

			if err := a.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			result, err := export.Import(cmd.Context(), a.Store, export.NewReader(in), a.Logger.Logger)
			a.Metrics.VerticesImported.Add(float64(result.Records - len(result.Failed)))
			if err != nil {
				return err
			}
			if len(result.Failed) > 0 {
				for key, ferr := range result.Failed {
					a.Logger.Error("record not imported", zap.String("record", key), zap.Error(ferr))
				}
				return fmt.Errorf("%d of %d records could not be imported", len(result.Failed), result.Records)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "File to import (default stdin)")
	return cmd
}
