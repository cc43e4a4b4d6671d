package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConflict = errors.New("apiclient: order is no longer open")
	ErrNotFound = errors.New("apiclient: not found")
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsTransient reports whether err may succeed on retry: network failures,
// timeouts, 5xx and 429. Other 4xx responses are rejections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
