package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect orders waiting to reach the API",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List queued writes in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) error {
				entries, err := t.queue.List(ctx)
				if err != nil {
					return err
				}
				return outputFor(cmd, rootOpts).print(entries, func(w io.Writer) {
					for _, e := range entries {
						fmt.Fprintf(w, "%d\t%s\t%s\tattempts=%d\t%s\n",
							e.Seq, e.Kind, e.ClientRef, e.Attempts, e.CreatedAt.Format(time.RFC3339))
					}
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "dead",
		Short:         "List writes the API rejected too many times",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) error {
				dead, err := t.queue.ListDead(ctx)
				if err != nil {
					return err
				}
				return outputFor(cmd, rootOpts).print(dead, func(w io.Writer) {
					for _, d := range dead {
						fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Seq, d.Kind, d.ClientRef, d.Reason)
					}
				})
			})
		},
	})
	return cmd
}
