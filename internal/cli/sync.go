package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	draftsync "github.com/jdziat/simple-draft-sync"
	"github.com/jdziat/simple-draft-sync/pkg/schedule"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Once bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued offline edits",
		Long: `Replay queued offline edits oldest first, then keep replaying on the
configured flush schedule until interrupted. With --once it replays a single
time and exits.

Example:
  draftsync sync --once
  DRAFTSYNC_FLUSH_SCHEDULE="@every 1m" draftsync sync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "replay once and exit")
	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	sched, err := schedule.Parse(opts.Config.FlushSchedule)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, done, err := openClient(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer done()

	if err := client.FlushOfflineQueue(ctx); err != nil {
		if opts.Once {
			return err
		}
		opts.Logger.Warn("offline replay failed", "error", err)
	}
	edits, err := client.QueuedEdits(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d edit(s) still queued\n", len(edits))
	if opts.Once {
		return nil
	}

	opts.Logger.Info("reconciler running", "schedule", opts.Config.FlushSchedule)
	err = client.RunReconciler(ctx, sched)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued offline edits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, done, err := openClient(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer done()
			edits, err := client.QueuedEdits(ctx)
			if err != nil {
				return err
			}
			if edits == nil {
				edits = []draftsync.OfflineEdit{}
			}
			return printJSON(cmd.OutOrStdout(), edits)
		},
	}
}
