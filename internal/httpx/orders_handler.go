package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	kafkax "github.com/ariefcatur/go-restaurant-orders/internal/kafka"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// OrderStore is satisfied by *orders.Repo.
type OrderStore interface {
	CreateOrderTx(ctx context.Context, in orders.NewOrder) (orders.Order, bool, error)
	GetOrder(ctx context.Context, id int64) (orders.Order, error)
	ListOrders(ctx context.Context, tenantID int64) ([]orders.Order, error)
	ListByCustomer(ctx context.Context, userID, phone string) ([]orders.Order, error)
	UpdateOrder(ctx context.Context, in orders.Order) (orders.Order, error)
	UpdateStatus(ctx context.Context, id int64, to orders.Status) (orders.Order, error)
	AppendItems(ctx context.Context, id int64, items []orders.OrderItem) (orders.Order, error)
	Pay(ctx context.Context, id int64, in orders.PaymentInput) (orders.Order, error)
	VerifyPayment(ctx context.Context, id int64) (orders.Order, error)
}

// GuestTokens is satisfied by *redisx.GuestTokens.
type GuestTokens interface {
	Issue(ctx context.Context, secret string, orderID int64) error
	Resolve(ctx context.Context, secret string) (int64, bool, error)
	SecretFor(ctx context.Context, orderID int64) (string, bool, error)
	Revoke(ctx context.Context, secret string, orderID int64) error
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrdersHandler struct {
	Store    OrderStore
	Tokens   GuestTokens
	Producer Publisher
	Service  string
}

type appendItemsReq struct {
	Items []orders.OrderItem `json:"items"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/my-orders", h.myOrders)
	r.Get("/orders/track/{secret}", h.trackGuest)
	r.Post("/orders/track/{secret}/items", h.appendGuestItems)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}", h.updateOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Post("/orders/{id}/pay", h.pay)
	r.Post("/orders/{id}/verify-payment", h.verifyPayment)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeStoreErr maps domain errors onto HTTP statuses.
func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, orders.ErrConflict), errors.Is(err, orders.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, orders.ErrInvalidInput):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("store error: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func orderID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.NewOrder
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if t, ok := orders.ParseOrderType(string(req.Type)); ok {
		req.Type = t
	}
	if err := req.Validate(); err != nil {
		writeStoreErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, existed, err := h.Store.CreateOrderTx(ctx, req)
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	// unauthenticated submissions get a capability secret; a replay gets the same one back
	if req.UserID == "" && h.Tokens != nil {
		secret, err := h.guestSecret(ctx, o.ID, existed)
		if err != nil {
			log.Printf("guest token order=%d: %v", o.ID, err)
			writeErr(w, http.StatusInternalServerError, "internal error")
			return
		}
		o.GuestSecret = secret
	}

	code := http.StatusCreated
	if existed {
		code = http.StatusOK
		w.Header().Set("Idempotent-Replay", "true")
	} else {
		h.publish(r, orders.EventOrderCreated, o, withoutSecret(o))
	}
	writeJSON(w, code, o)
}

func (h *OrdersHandler) guestSecret(ctx context.Context, id int64, existed bool) (string, error) {
	if existed {
		secret, ok, err := h.Tokens.SecretFor(ctx, id)
		if err != nil || ok {
			return secret, err
		}
		// expired since the first attempt: the replay does not resurrect it
		return "", nil
	}
	secret := uuid.NewString()
	if err := h.Tokens.Issue(ctx, secret, id); err != nil {
		return "", err
	}
	return secret, nil
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		writeErr(w, http.StatusBadRequest, "missing tenant_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Store.ListOrders(ctx, tenantID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	phone := r.URL.Query().Get("phone")
	if userID == "" && phone == "" {
		writeErr(w, http.StatusBadRequest, "missing user_id or phone")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Store.ListByCustomer(ctx, userID, phone)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req orders.Order
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.ID = id

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.UpdateOrder(ctx, req)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	h.publish(r, orders.EventOrderUpdated, o, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	to, ok := orders.ParseStatus(r.URL.Query().Get("status"))
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid status")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.UpdateStatus(ctx, id, to)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if to.Terminal() {
		h.revokeGuest(ctx, o.ID)
	}
	h.publish(r, orders.EventOrderStatusChanged, o, orders.StatusChangedPayload{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		UpdatedAt:     o.UpdatedAt,
	})
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) pay(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req orders.PaymentInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.Pay(ctx, id, req)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	h.publish(r, orders.EventPaymentSubmitted, o, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Store.VerifyPayment(ctx, id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	// a settled bill no longer accepts guest appends
	h.revokeGuest(ctx, o.ID)
	h.publish(r, orders.EventPaymentVerified, o, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) trackGuest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, ok := h.resolveGuest(ctx, w, chi.URLParam(r, "secret"))
	if !ok {
		return
	}
	if !orders.IsOpen(o) {
		h.revokeGuest(ctx, o.ID)
		writeErr(w, http.StatusConflict, "order is no longer open")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) appendGuestItems(w http.ResponseWriter, r *http.Request) {
	var req appendItemsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cur, ok := h.resolveGuest(ctx, w, chi.URLParam(r, "secret"))
	if !ok {
		return
	}
	o, err := h.Store.AppendItems(ctx, cur.ID, req.Items)
	if errors.Is(err, orders.ErrConflict) {
		h.revokeGuest(ctx, cur.ID)
	}
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	h.publish(r, orders.EventItemsAppended, o, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) resolveGuest(ctx context.Context, w http.ResponseWriter, secret string) (orders.Order, bool) {
	if secret == "" || h.Tokens == nil {
		writeErr(w, http.StatusNotFound, "unknown guest session")
		return orders.Order{}, false
	}
	id, ok, err := h.Tokens.Resolve(ctx, secret)
	if err != nil {
		log.Printf("guest resolve: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
		return orders.Order{}, false
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown guest session")
		return orders.Order{}, false
	}
	o, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		writeStoreErr(w, err)
		return orders.Order{}, false
	}
	return o, true
}

func (h *OrdersHandler) revokeGuest(ctx context.Context, id int64) {
	if h.Tokens == nil {
		return
	}
	secret, ok, err := h.Tokens.SecretFor(ctx, id)
	if err != nil || !ok {
		return
	}
	if err := h.Tokens.Revoke(ctx, secret, id); err != nil {
		log.Printf("guest revoke order=%d: %v", id, err)
	}
}

func (h *OrdersHandler) publish(r *http.Request, eventType string, o orders.Order, payload any) {
	if h.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TenantID:      o.TenantID,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: strconv.FormatInt(o.ID, 10),
		Payload:       kafkax.MustMarshal(payload),
	}
	h.Producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// withoutSecret keeps capability secrets out of the broadcast stream.
func withoutSecret(o orders.Order) orders.Order {
	o.GuestSecret = ""
	return o
}
