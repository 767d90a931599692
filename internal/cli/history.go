package cli

import (
	"fmt"
	"io"
	"slices"

	"expense_sync/internal/columns"

	"github.com/spf13/cobra"
)

// HistoryEntry is one sheet row as shown by history.
type HistoryEntry struct {
	Row    int                      `json:"row"`
	Values map[columns.Field]string `json:"values"`
}

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent expenses from the sheet, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := rootOpts.build(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			m, err := a.Resolver.Resolve(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read header", err)
			}
			records, err := a.Rows.ListRecords(ctx, m, limit)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read expenses", err)
			}

			entries := make([]HistoryEntry, 0, len(records))
			for _, r := range records {
				entries = append(entries, HistoryEntry{Row: r.Row, Values: r.Values})
			}

			return rootOpts.formatter(cmd).Success(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No expenses recorded")
					return
				}
				for _, e := range entries {
					v := e.Values
					fmt.Fprintf(w, "%4d  %-10s  %-24s  %10s  %-16s  %s\n",
						e.Row, v[columns.Date], v[columns.Vendor], v[columns.Amount], v[columns.Category], v[columns.Member])
				}
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows to show (0 for all)")
	return cmd
}

// SchemaColumn is one mapped field and where it lives.
type SchemaColumn struct {
	Field  columns.Field `json:"field"`
	Column string        `json:"column"`
}

func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Add missing metadata columns and show the column mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := rootOpts.build(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			m, err := a.Resolver.EnsureMetadataColumns(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to provision columns", err)
			}

			mapped := make([]SchemaColumn, 0, m.Len())
			for _, field := range m.Fields() {
				mapped = append(mapped, SchemaColumn{Field: field, Column: m.Column(field)})
			}
			missing := m.Missing(columns.AllFields)

			titles, err := a.Sheets.SheetTitles(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list tabs", err)
			}
			tabs := missingTabs(titles, rootOpts.Config.Sheets.TransactionsTab, rootOpts.Config.Sheets.ListsTab, rootOpts.Config.Sheets.SummaryTab)

			data := map[string]any{"sheet": a.Resolver.Sheet(), "columns": mapped, "missing": missing, "missing_tabs": tabs}
			return rootOpts.formatter(cmd).Success(data, func(w io.Writer) {
				fmt.Fprintf(w, "Sheet %q\n", a.Resolver.Sheet())
				for _, c := range mapped {
					fmt.Fprintf(w, "  %-4s %s\n", c.Column, c.Field)
				}
				for _, field := range missing {
					fmt.Fprintf(w, "  --   %s (not mapped)\n", field)
				}
				for _, tab := range tabs {
					fmt.Fprintf(w, "Tab %q not found\n", tab)
				}
			})
		},
	}
}

// missingTabs returns the wanted tab names absent from titles.
func missingTabs(titles []string, wanted ...string) []string {
	var out []string
	for _, name := range wanted {
		if name != "" && !slices.Contains(titles, name) {
			out = append(out, name)
		}
	}
	return out
}
