package cli

import (
	"fmt"
	"io"
	"strings"

	pkgerrors "expense_sync/internal/errors"
	"expense_sync/internal/queue"

	"github.com/spf13/cobra"
)

// PickLists is what the lists command prints.
type PickLists struct {
	Vendors    []string `json:"vendors"`
	Properties []string `json:"properties"`
	Categories []string `json:"categories"`
}

func NewListsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lists",
		Short: "Show the vendor, property and category pick-lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := rootOpts.build(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			loaded, err := a.Lists.Load(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read lists", err)
			}
			categories, err := a.Lists.Categories(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read categories", err)
			}

			out := PickLists{Vendors: loaded.Vendors, Properties: loaded.Properties, Categories: categories}
			return rootOpts.formatter(cmd).Success(out, func(w io.Writer) {
				printList(w, "Vendors", out.Vendors)
				printList(w, "Properties", out.Properties)
				printList(w, "Categories", out.Categories)
			})
		},
	}

	cmd.AddCommand(newListsAddCommand(rootOpts))
	return cmd
}

func newListsAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <vendor|property> <value>",
		Short: "Queue a new pick-list entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			kind, err := parseListKind(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid list", err)
			}
			if strings.TrimSpace(args[1]) == "" {
				return NewExitError(ExitCommandError, "list value is required")
			}

			a, err := rootOpts.build(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			item, err := queue.NewItem(queue.KindAddListItem, queue.ListEntry{List: kind, Value: strings.TrimSpace(args[1])})
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid entry", err)
			}
			if err := a.Queue.Enqueue(ctx, item); err != nil {
				return WrapExitError(ExitFailure, "entry not recorded", err)
			}
			// The entry stays queued when this drain cannot reach the sheet.
			_, _ = a.Engine.Drain(ctx)

			return rootOpts.formatter(cmd).Success(map[string]string{"item_id": item.ID, "list": string(kind)}, func(w io.Writer) {
				fmt.Fprintf(w, "Queued %q for the %s list\n", strings.TrimSpace(args[1]), strings.ToLower(string(kind)))
			})
		},
	}
}

func parseListKind(raw string) (queue.ListKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "vendor", "vendors":
		return queue.ListVendors, nil
	case "property", "properties":
		return queue.ListProperties, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown list %q, want vendor or property", raw))
}

func printList(w io.Writer, title string, values []string) {
	fmt.Fprintf(w, "%s (%d)\n", title, len(values))
	for _, v := range values {
		fmt.Fprintf(w, "  %s\n", v)
	}
}
