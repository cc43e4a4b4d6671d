package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func NewGuestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Manage the stored guest session",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "show",
		Short:         "Show the guest session and whether its order is still open",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) error {
				res, err := t.linker.Resolve(ctx)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "could not reach the API: %v\n", err)
				}
				return outputFor(cmd, rootOpts).print(res, func(w io.Writer) {
					if res.Session.OrderID == 0 {
						fmt.Fprintln(w, "no guest session")
						return
					}
					fmt.Fprintf(w, "order %d issued %s append=%t\n",
						res.Session.OrderID, res.Session.IssuedAt.Format(time.RFC3339), res.CanAppend)
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "clear",
		Short:         "Forget the guest session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) error {
				return t.linker.Complete(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "handoff <user-id>",
		Short:         "Drop the guest session after sign-in and print the order to claim",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) error {
				id, ok, err := t.linker.HandOff(ctx, args[0])
				if err != nil {
					return err
				}
				res := struct {
					UserID  string `json:"userId"`
					OrderID int64  `json:"orderId,omitempty"`
				}{UserID: args[0]}
				if ok {
					res.OrderID = id
				}
				return outputFor(cmd, rootOpts).print(res, func(w io.Writer) {
					if !ok {
						fmt.Fprintln(w, "no guest session")
						return
					}
					fmt.Fprintf(w, "order %d handed to %s\n", id, args[0])
				})
			})
		},
	})
	return cmd
}
