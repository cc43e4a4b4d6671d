package orders

import "errors"

var (
	ErrNotFound          = errors.New("orders: order not found")
	ErrConflict          = errors.New("orders: order is no longer open")
	ErrInvalidTransition = errors.New("orders: invalid status transition")
	ErrInvalidInput      = errors.New("orders: invalid input")
	ErrMalformed         = errors.New("orders: malformed order payload")
)
