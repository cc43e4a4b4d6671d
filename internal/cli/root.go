// Package cli is the command line of an order terminal: the long-running
// sync loop plus one-shot commands that share its local database.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Verbose bool
	Format  string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "terminal",
		Short: "Restaurant order terminal",
		Long:  "Keeps a terminal's order list in sync with the order API and queues orders while offline.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to terminal YAML config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewPayCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewGuestCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
