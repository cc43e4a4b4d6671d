package guest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ariefcatur/go-restaurant-orders/internal/apiclient"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
)

// API is the token-scoped part of *apiclient.Client.
type API interface {
	TrackGuest(ctx context.Context, secret string) (orders.Order, error)
	AppendGuest(ctx context.Context, secret string, items []orders.OrderItem) (orders.Order, error)
}

// Submitter is satisfied by *syncer.Coordinator.
type Submitter interface {
	Submit(ctx context.Context, n orders.NewOrder) (orders.Order, error)
}

// Upserter is satisfied by *cache.Cache.
type Upserter interface {
	Upsert(p orders.Patch) orders.Order
}

// Resolution is what checkout shows a returning guest. CanAppend is set only
// when the stored session still points at an open order.
type Resolution struct {
	Session   Session
	Order     orders.Order
	CanAppend bool
}

// Linker decides whether a guest checkout appends to the open bill or starts a
// new order.
type Linker struct {
	store  *Store
	api    API
	submit Submitter
	cache  Upserter
	logger *slog.Logger
}

// NewLinker wires a linker. cache may be nil.
func NewLinker(store *Store, api API, submit Submitter, cache Upserter, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: store, api: api, submit: submit, cache: cache, logger: logger}
}

// Resolve looks up the order behind the stored session. A session whose
// order is gone or closed is cleared. Transport failures keep the session.
func (l *Linker) Resolve(ctx context.Context) (Resolution, error) {
	sess, ok, err := l.store.Load(ctx)
	if err != nil || !ok {
		return Resolution{}, err
	}
	o, err := l.api.TrackGuest(ctx, sess.Secret)
	if closed(err) {
		l.logger.Info("guest order closed, clearing session", telemetry.LabelOrderID.L(sess.OrderID), telemetry.LabelError.L(err))
		return Resolution{}, l.store.Clear(ctx)
	}
	if err != nil {
		return Resolution{Session: sess}, err
	}
	if !orders.IsOpen(o) {
		l.logger.Info("guest order no longer open, clearing session", telemetry.LabelOrderID.L(o.ID))
		return Resolution{}, l.store.Clear(ctx)
	}
	l.upsert(o)
	return Resolution{Session: sess, Order: o, CanAppend: true}, nil
}

// Checkout appends n's items to the guest's open order when appendToExisting
// is set and a valid session exists. If the bill was closed in the meantime
// the session is dropped and a new order is created instead. The stored
// token is never retried after a conflict.
func (l *Linker) Checkout(ctx context.Context, n orders.NewOrder, appendToExisting bool) (orders.Order, error) {
	if appendToExisting && n.UserID == "" {
		sess, ok, err := l.store.Load(ctx)
		if err != nil {
			return orders.Order{}, err
		}
		if ok {
			if err := orders.ValidateItems(n.Items); err != nil {
				return orders.Order{}, err
			}
			o, err := l.api.AppendGuest(ctx, sess.Secret, n.Items)
			switch {
			case err == nil:
				l.upsert(o)
				return o, nil
			case closed(err):
				l.logger.Info("guest bill closed, creating a new order", telemetry.LabelOrderID.L(sess.OrderID))
				if err := l.store.Clear(ctx); err != nil {
					return orders.Order{}, err
				}
			default:
				return orders.Order{}, err
			}
		}
	}
	return l.submit.Submit(ctx, n)
}

// HandleCreated stores the session of a newly created guest order. Orders of
// signed-in users and orders without a secret are ignored, as is a replayed
// response for the order already stored.
func (l *Linker) HandleCreated(ctx context.Context, o orders.Order) {
	if o.Local() || o.GuestSecret == "" || o.UserID != "" {
		return
	}
	cur, ok, err := l.store.Load(ctx)
	if err == nil && ok && cur.OrderID == o.ID {
		return
	}
	if err := l.store.Save(ctx, Session{OrderID: o.ID, Secret: o.GuestSecret}); err != nil {
		l.logger.Error("save guest session", telemetry.LabelOrderID.L(o.ID), telemetry.LabelError.L(err))
	}
}

// Complete ends the session after the guest has settled the bill.
func (l *Linker) Complete(ctx context.Context) error {
	return l.store.Clear(ctx)
}

// HandOff drops the guest token once the diner signs in and returns the order
// the user account should claim.
func (l *Linker) HandOff(ctx context.Context, userID string) (int64, bool, error) {
	sess, ok, err := l.store.Load(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	if err := l.store.Clear(ctx); err != nil {
		return 0, false, err
	}
	l.logger.Info("guest session handed off", telemetry.LabelOrderID.L(sess.OrderID), slog.String("user_id", userID))
	return sess.OrderID, true, nil
}

func (l *Linker) upsert(o orders.Order) {
	if l.cache != nil {
		l.cache.Upsert(orders.PatchFrom(o))
	}
}

// closed reports whether the server says the token no longer grants access.
func closed(err error) bool {
	return errors.Is(err, apiclient.ErrConflict) || errors.Is(err, apiclient.ErrNotFound)
}
