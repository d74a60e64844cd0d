package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	draftsync "github.com/jdziat/simple-draft-sync"
	"github.com/jdziat/simple-draft-sync/pkg/remote"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Watch bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <document-id>",
		Short: "Submit a document and start its job",
		Long: `Submit a document. With --watch the command follows the job and
prints every status change until it finishes.

Example:
  draftsync submit 7f3c --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "follow the job until it finishes")
	return cmd
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions, id string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, done, err := openClient(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer done()

	if _, err := client.Open(ctx, id); err != nil {
		return err
	}

	// Every terminal outcome publishes exactly one notification for the job,
	// after the document has been updated.
	var (
		mu   sync.Mutex
		last draftsync.Job
	)
	finished := make(chan draftsync.Notification, 1)
	if opts.Watch {
		jobSub := client.Listen(draftsync.Wildcard, func(e draftsync.JobEvent) {
			if e.Job.DocumentID != id {
				return
			}
			mu.Lock()
			last = e.Job
			mu.Unlock()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d%%\n", e.Job.ID, e.Job.Status, e.Job.Progress)
		})
		defer client.Unsubscribe(jobSub)
		noteSub := client.Subscribe(draftsync.EventNotification, func(e draftsync.Event) {
			n, ok := e.Payload.(draftsync.Notification)
			if !ok || n.DocumentID != id || n.JobID == "" {
				return
			}
			select {
			case finished <- n:
			default:
			}
		})
		defer client.Unsubscribe(noteSub)
	}

	handle, err := client.Submit(ctx, id)
	if err != nil {
		return err
	}
	if !opts.Watch {
		return printJSON(cmd.OutOrStdout(), handle)
	}

	select {
	case n := <-finished:
		fmt.Fprintln(cmd.OutOrStdout(), n.Message)
		mu.Lock()
		job := last
		mu.Unlock()
		if job.Status != draftsync.JobCompleted {
			return fmt.Errorf("job %s finished as %s", handle.JobID, job.Status)
		}
		return nil
	case <-ctx.Done():
		client.Stop(handle.JobID)
		return ctx.Err()
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			client := remote.New(cfg.BaseURL, draftsync.StaticToken(cfg.Token), remote.WithLogger(rootOpts.Logger))
			u, err := client.GetJob(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, done, err := openClient(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer done()
			if err := client.Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}
