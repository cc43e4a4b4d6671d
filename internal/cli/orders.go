package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-restaurant-orders/internal/apiclient"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/syncer"
)

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "Print the restaurant's orders, including queued ones",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) error {
				if err := t.coord.Restore(ctx); err != nil {
					return err
				}
				if t.monitor.Check(ctx) {
					_ = t.coord.Refresh(ctx)
				}
				return outputFor(cmd, rootOpts).orders(t.cache.Snapshot())
			})
		},
	}
}

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Append bool
}

func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "submit <order.json|->",
		Short: "Submit an order, queueing it when the API is unreachable",
		Long: `Submit an order read from a JSON file or stdin.

With --append a guest order is added to the open bill of the stored guest
session when there is one; a closed bill falls back to a new order.

Example:
  terminal submit ./order.json
  cat order.json | terminal submit --append -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := readNewOrder(cmd.InOrStdin(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read order", err)
			}
			return withTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) error {
				if n.TenantID == 0 {
					n.TenantID = t.cfg.TenantID
				}
				online := t.monitor.Check(ctx)
				o, err := t.linker.Checkout(ctx, n, opts.Append)
				if err != nil {
					return commandError("submit failed", err)
				}
				if online {
					if _, err := t.coord.Drain(ctx); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "queued orders not sent: %v\n", err)
					}
				}
				return outputFor(cmd, rootOpts).order(o)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Append, "append", false, "append to the open guest order when possible")
	return cmd
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <order-id> <status>",
		Short:         "Move an order to a new status",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			status, ok := orders.ParseStatus(args[1])
			if !ok {
				return WrapExitError(ExitCommandError, "unknown status "+args[1], nil)
			}
			return withOnlineTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) (orders.Order, error) {
				return t.coord.UpdateStatus(ctx, id, status)
			})
		},
	}
}

func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cancel <order-id>",
		Short:         "Cancel an order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withOnlineTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) (orders.Order, error) {
				if err := t.coord.Refresh(ctx); err != nil {
					return orders.Order{}, err
				}
				return t.coord.Cancel(ctx, id)
			})
		},
	}
}

// PayOptions holds flags for the pay command.
type PayOptions struct {
	*RootOptions
	Method    string
	Reference string
}

func NewPayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "pay <order-id>",
		Short:         "Record a payment or a pay-at-counter intent",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			in := orders.PaymentInput{Method: orders.PaymentMethod(opts.Method), Reference: opts.Reference}
			return withOnlineTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) (orders.Order, error) {
				return t.coord.Pay(ctx, id, in)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Method, "method", "cash", "payment method (upi|card|cash)")
	cmd.Flags().StringVar(&opts.Reference, "ref", "", "payment reference for upi or card")
	return cmd
}

func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "verify <order-id>",
		Short:         "Confirm a pending payment proof",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withOnlineTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) (orders.Order, error) {
				return t.coord.VerifyPayment(ctx, id)
			})
		},
	}
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	UserID string
	Phone  string
}

func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "show <order-id>",
		Short: "Fetch one order from the API",
		Long: `Fetch one order from the API and fold it into the local view.

When the order cannot be read directly, --user or --phone look it up in
that diner's order history instead.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withOnlineTerminal(cmd, rootOpts, func(ctx context.Context, t *terminal) (orders.Order, error) {
				if !t.monitor.Online() {
					return orders.Order{}, syncer.ErrOffline
				}
				t.api.UserID, t.api.Phone = opts.UserID, opts.Phone
				o, err := t.api.GetOrder(ctx, id)
				if err != nil {
					return orders.Order{}, err
				}
				return t.cache.Upsert(orders.PatchFrom(o)), nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id for the order history lookup")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number for the order history lookup")
	return cmd
}

func withTerminal(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, t *terminal) error) error {
	t, err := openTerminal(opts)
	if err != nil {
		return err
	}
	defer t.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, t)
}

// withOnlineTerminal runs an online-only order command and prints its result.
func withOnlineTerminal(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, t *terminal) (orders.Order, error)) error {
	return withTerminal(cmd, opts, func(ctx context.Context, t *terminal) error {
		t.monitor.Check(ctx)
		o, err := fn(ctx, t)
		if err != nil {
			return commandError("request failed", err)
		}
		return outputFor(cmd, opts).order(o)
	})
}

func commandError(msg string, err error) error {
	switch {
	case errors.Is(err, syncer.ErrOffline):
		return WrapExitError(ExitOffline, msg, err)
	case errors.Is(err, orders.ErrInvalidInput):
		return WrapExitError(ExitCommandError, msg, err)
	case apiclient.IsTransient(err):
		return WrapExitError(ExitOffline, msg, err)
	}
	return WrapExitError(ExitFailure, msg, err)
}

func outputFor(cmd *cobra.Command, opts *RootOptions) output {
	return output{format: opts.Format, w: cmd.OutOrStdout()}
}

func parseOrderID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid order id %q", s), err)
	}
	return id, nil
}

func readNewOrder(stdin io.Reader, path string) (orders.NewOrder, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return orders.NewOrder{}, err
	}
	var n orders.NewOrder
	if err := json.Unmarshal(data, &n); err != nil {
		return orders.NewOrder{}, err
	}
	if t, ok := orders.ParseOrderType(string(n.Type)); ok {
		n.Type = t
	}
	return n, nil
}
