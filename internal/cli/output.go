package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the backend refused the request
	ExitCommandError = 2 // bad flags, unreadable config or database
	ExitOffline      = 3
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

type output struct {
	format string
	w      io.Writer
}

// print writes v as indented JSON, or through text when the format is text.
func (o output) print(v any, text func(w io.Writer)) error {
	if o.format == "json" {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(o.w)
	return nil
}

func (o output) orders(list []orders.Order) error {
	return o.print(list, func(w io.Writer) {
		for _, ord := range list {
			writeOrderLine(w, ord)
		}
	})
}

func (o output) order(ord orders.Order) error {
	return o.print(ord, func(w io.Writer) { writeOrderLine(w, ord) })
}

func writeOrderLine(w io.Writer, o orders.Order) {
	id := strconv.FormatInt(o.ID, 10)
	if o.Local() {
		id = "local"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d items\t%s\n",
		id, o.Status, o.PaymentStatus, o.Type, len(o.Items), formatCents(o.TotalCents))
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
