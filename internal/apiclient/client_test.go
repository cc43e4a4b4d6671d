package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, routes func(r chi.Router)) *Client {
	t.Helper()
	r := chi.NewRouter()
	routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client())
}

func TestListOrdersNormalizesAliases(t *testing.T) {
	c := newTestClient(t, func(r chi.Router) {
		r.Get("/orders", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "7", r.URL.Query().Get("tenant_id"))
			_, _ = w.Write([]byte(`{"data":[{"order_id":"5","restaurant_id":7,"order_status":"preparing",
				"total":"500","orderItems":[{"itemId":12,"name":"Dal","qty":2,"unitPrice":250}]}]}`))
		})
	})

	list, err := c.ListOrders(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	o := list[0]
	assert.Equal(t, int64(5), o.ID)
	assert.Equal(t, int64(7), o.TenantID)
	assert.Equal(t, orders.StatusPreparing, o.Status)
	assert.Equal(t, int64(500), o.TotalCents)
	require.Len(t, o.Items, 1)
	assert.Equal(t, orders.OrderItem{MenuItemID: "12", Name: "Dal", Quantity: 2, PriceCents: 250, KitchenStatus: orders.ItemPreparing}, o.Items[0])
}

func TestCreateOrderSendsClientRef(t *testing.T) {
	c := newTestClient(t, func(r chi.Router) {
		r.Post("/orders", func(w http.ResponseWriter, r *http.Request) {
			var in orders.NewOrder
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "ref-1", in.ClientRef)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":31,"clientRef":"ref-1","tenantId":7,"status":"PENDING","totalAmount":500,"guestSecret":"sek"}`))
		})
	})

	o, err := c.CreateOrder(context.Background(), orders.NewOrder{ClientRef: "ref-1", TenantID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(31), o.ID)
	assert.Equal(t, "sek", o.GuestSecret)
}

func TestErrorsAreClassified(t *testing.T) {
	c := newTestClient(t, func(r chi.Router) {
		r.Get("/orders/track/{secret}", func(w http.ResponseWriter, r *http.Request) {
			switch chi.URLParam(r, "secret") {
			case "closed":
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":"order is no longer open"}`))
			case "gone":
				w.WriteHeader(http.StatusNotFound)
			default:
				w.WriteHeader(http.StatusBadGateway)
			}
		})
	})
	ctx := context.Background()

	_, err := c.TrackGuest(ctx, "closed")
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, IsTransient(err))
	assert.False(t, IsRejection(err))
	assert.Contains(t, err.Error(), "no longer open")

	_, err = c.TrackGuest(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsRejection(err))

	_, err = c.TrackGuest(ctx, "flaky")
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(&APIError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsTransient(&APIError{StatusCode: http.StatusServiceUnavailable}))
	assert.False(t, IsTransient(&APIError{StatusCode: http.StatusBadRequest}))
}

func TestUnreachableServerIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := New(srv.URL, srv.Client())
	srv.Close()

	_, err := c.ListOrders(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestGetOrderFallsBackToMyOrders(t *testing.T) {
	c := newTestClient(t, func(r chi.Router) {
		r.Get("/orders/my-orders", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "u-1", r.URL.Query().Get("user_id"))
			_, _ = w.Write([]byte(`[{"id":1,"status":"PENDING"},{"id":2,"status":"READY"}]`))
		})
		r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	})
	ctx := context.Background()

	_, err := c.GetOrder(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound, "no identity, no fallback")

	c.UserID = "u-1"
	o, err := c.GetOrder(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReady, o.Status)

	_, err = c.GetOrder(ctx, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusAndAppend(t *testing.T) {
	c := newTestClient(t, func(r chi.Router) {
		r.Patch("/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "CANCELLED", r.URL.Query().Get("status"))
			_, _ = w.Write([]byte(`{"id":4,"status":"CANCELLED"}`))
		})
		r.Post("/orders/track/{secret}/items", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Items []orders.OrderItem `json:"items"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Items, 1)
			_, _ = w.Write([]byte(`{"id":4,"status":"CONFIRMED","items":[{"menuItemId":"m","quantity":1,"price":100}]}`))
		})
	})
	ctx := context.Background()

	o, err := c.UpdateStatus(ctx, 4, orders.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)

	o, err = c.AppendGuest(ctx, "s", []orders.OrderItem{{MenuItemID: "m", Quantity: 1, PriceCents: 100}})
	require.NoError(t, err)
	assert.Len(t, o.Items, 1)
}
