// Package apiclient talks to the order REST backend. Every response body is
// decoded through orders.DecodeWire.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBody = 4 << 20

type Client struct {
	base string
	http *http.Client

	// Identity is used by the my-orders fallback of GetOrder.
	UserID string
	Phone  string
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) ListOrders(ctx context.Context, tenantID int64) ([]orders.Order, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders?tenant_id="+strconv.FormatInt(tenantID, 10), nil)
	if err != nil {
		return nil, err
	}
	return orders.DecodeWireList(body)
}

// GetOrder fetches one order. When the direct fetch fails with a rejection
// and an identity is set, it falls back to the caller's my-orders list.
func (c *Client) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	o, err := c.decodeOrder(c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatInt(id, 10), nil))
	if err == nil || IsTransient(err) || (c.UserID == "" && c.Phone == "") {
		return o, err
	}

	q := url.Values{}
	if c.UserID != "" {
		q.Set("user_id", c.UserID)
	}
	if c.Phone != "" {
		q.Set("phone", c.Phone)
	}
	body, ferr := c.do(ctx, http.MethodGet, "/orders/my-orders?"+q.Encode(), nil)
	if ferr != nil {
		return orders.Order{}, err
	}
	list, ferr := orders.DecodeWireList(body)
	if ferr != nil {
		return orders.Order{}, err
	}
	for _, o := range list {
		if o.ID == id {
			return o, nil
		}
	}
	return orders.Order{}, err
}

func (c *Client) CreateOrder(ctx context.Context, in orders.NewOrder) (orders.Order, error) {
	return c.decodeOrder(c.do(ctx, http.MethodPost, "/orders", in))
}

func (c *Client) UpdateOrder(ctx context.Context, o orders.Order) (orders.Order, error) {
	return c.decodeOrder(c.do(ctx, http.MethodPut, "/orders/"+strconv.FormatInt(o.ID, 10), o))
}

func (c *Client) UpdateStatus(ctx context.Context, id int64, status orders.Status) (orders.Order, error) {
	path := fmt.Sprintf("/orders/%d/status?status=%s", id, url.QueryEscape(string(status)))
	return c.decodeOrder(c.do(ctx, http.MethodPatch, path, nil))
}

func (c *Client) Pay(ctx context.Context, id int64, in orders.PaymentInput) (orders.Order, error) {
	return c.decodeOrder(c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/pay", id), in))
}

func (c *Client) VerifyPayment(ctx context.Context, id int64) (orders.Order, error) {
	return c.decodeOrder(c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/verify-payment", id), nil))
}

// TrackGuest resolves a guest secret. ErrNotFound means unknown or expired,
// ErrConflict means the order is no longer open.
func (c *Client) TrackGuest(ctx context.Context, secret string) (orders.Order, error) {
	return c.decodeOrder(c.do(ctx, http.MethodGet, "/orders/track/"+url.PathEscape(secret), nil))
}

func (c *Client) AppendGuest(ctx context.Context, secret string, items []orders.OrderItem) (orders.Order, error) {
	body := struct {
		Items []orders.OrderItem `json:"items"`
	}{items}
	return c.decodeOrder(c.do(ctx, http.MethodPost, "/orders/track/"+url.PathEscape(secret)+"/items", body))
}

func (c *Client) decodeOrder(body []byte, err error) (orders.Order, error) {
	if err != nil {
		return orders.Order{}, err
	}
	return orders.DecodeWireOrder(body)
}

func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// IsRejection reports whether err is a 4xx other than conflict.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !IsTransient(err) && apiErr.StatusCode != http.StatusConflict
}
