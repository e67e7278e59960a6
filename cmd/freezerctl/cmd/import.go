package cmd

import (
	"fmt"
	"path/filepath"

	"freezercore/internal/importer"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newImportCommand(a *app) *cobra.Command {
	var (
		sheet string
		kind  string
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Apply the rows of an .xlsx sheet",
		Long: `Reads one sheet of a workbook and applies every row as its own transaction.
With --kind all rows share that kind; without it each row names its kind in a
"kind of row" column. Failed rows are listed and do not stop the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := importer.ReadWorkbook(args[0], sheet, importer.Kind(kind))
			if err != nil {
				return err
			}
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			imp := importer.New(svc, importer.WithLogger(a.log.With("file", filepath.Base(args[0]))))
			outcomes := imp.Apply(cmd.Context(), rows)

			out := cmd.OutOrStdout()
			if failed := outcomes.Failed(); failed > 0 {
				t := table.NewWriter()
				t.SetOutputMirror(out)
				t.AppendHeader(table.Row{"Row", "Kind", "Code", "Error"})
				for _, o := range outcomes {
					if o.Err != nil {
						t.AppendRow(table.Row{o.Row, o.Kind, o.Code, o.Err.Error()})
					}
				}
				t.Render()
			}
			fmt.Fprintf(out, "%d rows applied, %d failed\n", len(outcomes)-outcomes.Failed(), outcomes.Failed())
			return outcomes.Err()
		},
	}
	cmd.Flags().StringVarP(&sheet, "sheet", "s", "", "sheet to read (default first sheet)")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "row kind for every row: container, container_move, individual, sample, sample_update, extraction")
	return cmd
}
