package cli

import (
	"fmt"
	"io"

	"expense_sync/internal/app"
	"expense_sync/internal/config"
	"expense_sync/internal/queue"

	"github.com/spf13/cobra"
)

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the local queue once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := rootOpts.build(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			result, err := a.Engine.Drain(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "sync stopped", err)
			}

			return rootOpts.formatter(cmd).Success(result, func(w io.Writer) {
				if result.Skipped {
					fmt.Fprintln(w, "Sync skipped: offline or already running")
					return
				}
				fmt.Fprintf(w, "Synced %d of %d item(s); %d retrying, %d failed\n",
					result.Synced, result.Attempted, result.Retrying, result.Failed)
			})
		},
	}
}

// StatusView is the queue summary printed by status.
type StatusView struct {
	Path    string                 `json:"path"`
	Waiting int64                  `json:"waiting"`
	Counts  map[queue.Status]int64 `json:"counts"`
	Failed  []queue.Item           `json:"failed,omitempty"`
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued and failed items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := app.OpenStore(ctx, rootOpts.Config, config.DefaultResilienceConfig)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open queue", err)
			}
			defer client.Close()

			q := queue.New(client.DB())
			waiting, err := q.Count(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read queue", err)
			}
			counts, err := q.CountByStatus(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read queue", err)
			}
			failed, err := q.ListFailed(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read queue", err)
			}

			view := StatusView{Path: client.Path(), Waiting: waiting, Counts: counts, Failed: failed}
			return rootOpts.formatter(cmd).Success(view, func(w io.Writer) {
				fmt.Fprintf(w, "Queue %s: %d waiting to sync\n", view.Path, view.Waiting)
				fmt.Fprintf(w, "  pending: %d\n  retry:   %d\n  failed:  %d\n",
					counts[queue.StatusPending], counts[queue.StatusRetry], counts[queue.StatusFailed])
				for _, item := range failed {
					fmt.Fprintf(w, "  %s %s [%s] %s\n", item.ID, item.Kind, item.LastErrorCode, item.LastError)
				}
			})
		},
	}
}

func NewRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <item-id>",
		Short: "Give a FAILED item a fresh set of retries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := app.OpenStore(ctx, rootOpts.Config, config.DefaultResilienceConfig)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open queue", err)
			}
			defer client.Close()

			if err := queue.New(client.DB()).Requeue(ctx, args[0]); err != nil {
				return WrapExitError(ExitFailure, "requeue failed", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]string{"id": args[0], "status": string(queue.StatusPending)}, func(w io.Writer) {
				fmt.Fprintf(w, "Item %s is pending again\n", args[0])
			})
		},
	}
}
