package cli

import (
	"fmt"
	"io"
	"strings"

	"expense_sync/internal/columns"
	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/expense"
	"expense_sync/internal/queue"

	"github.com/spf13/cobra"
)

// RowChangeResult reports a queued edit or delete.
type RowChangeResult struct {
	ItemID    string `json:"item_id"`
	ExpenseID string `json:"expense_id"`
	Kind      string `json:"kind"`
	Synced    bool   `json:"synced"`
}

func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "edit <expense-id>",
		Short: "Change fields of a recorded expense",
		Long: `Queue a change to an existing expense row and try to sync it. Only the named
fields are written; other cells, formulas included, are left alone.

Example:
  expense-sync edit 3f2a... --set Vendor="Home Depot" --set Amount=41.00`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parseSets(sets)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --set", err)
			}
			return queueRowChange(cmd, rootOpts, queue.KindUpdateRow, queue.RowChange{ExpenseID: args[0], Changes: changes})
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value to change (repeatable)")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <expense-id>",
		Short: "Mark a recorded expense as deleted",
		Long:  "Queue a soft delete: the row stays in the sheet with Status set to Deleted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return queueRowChange(cmd, rootOpts, queue.KindDelete, queue.RowChange{ExpenseID: args[0]})
		},
	}
}

// parseSets turns "field=value" flags into canonical field names.
func parseSets(sets []string) (map[string]string, error) {
	changes := make(map[string]string, len(sets))
	for _, set := range sets {
		name, value, ok := strings.Cut(set, "=")
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%q is not field=value", set))
		}
		field, ok := columns.ParseField(strings.TrimSpace(name))
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown field %q", name))
		}
		changes[string(field)] = value
	}
	return changes, nil
}

func queueRowChange(cmd *cobra.Command, opts *RootOptions, kind queue.Kind, change queue.RowChange) error {
	ctx := commandContext(cmd)
	change.ExpenseID = strings.TrimSpace(change.ExpenseID)
	if change.ExpenseID == "" {
		return NewExitError(ExitCommandError, "expense id is required")
	}

	a, err := opts.build(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	item, err := queue.NewItem(kind, change)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid change", err)
	}
	if err := a.Queue.Enqueue(ctx, item); err != nil {
		return WrapExitError(ExitFailure, "change not recorded", err)
	}

	result := RowChangeResult{ItemID: item.ID, ExpenseID: change.ExpenseID, Kind: string(kind)}
	if _, err := a.Engine.Drain(ctx); err == nil {
		if _, getErr := a.Queue.Get(ctx, item.ID); pkgerrors.CodeOf(getErr) == pkgerrors.CodeNotFound {
			result.Synced = true
		}
	}

	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		state := "queued"
		if result.Synced {
			state = "synced"
		}
		fmt.Fprintf(w, "%s for expense %s %s (item %s)\n", kind, expense.ShortID(result.ExpenseID), state, expense.ShortID(result.ItemID))
	})
}
