package guest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/apiclient"
	"github.com/ariefcatur/go-restaurant-orders/internal/cache"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	track      func(secret string) (orders.Order, error)
	appendFn   func(secret string, items []orders.OrderItem) (orders.Order, error)
	appendCall []string
}

func (f *fakeAPI) TrackGuest(_ context.Context, secret string) (orders.Order, error) {
	return f.track(secret)
}

func (f *fakeAPI) AppendGuest(_ context.Context, secret string, items []orders.OrderItem) (orders.Order, error) {
	f.appendCall = append(f.appendCall, secret)
	return f.appendFn(secret, items)
}

type fakeSubmitter struct {
	submitted []orders.NewOrder
	result    orders.Order
}

func (f *fakeSubmitter) Submit(_ context.Context, n orders.NewOrder) (orders.Order, error) {
	f.submitted = append(f.submitted, n)
	return f.result, nil
}

var (
	errConflict = &apiclient.APIError{StatusCode: http.StatusConflict, Message: "order closed"}
	errGone     = &apiclient.APIError{StatusCode: http.StatusNotFound}
)

func newTestLinker(t *testing.T, api *fakeAPI) (*Linker, *Store, *fakeSubmitter, *cache.Cache) {
	t.Helper()
	s, _, _ := createTestStore(t)
	sub := &fakeSubmitter{result: orders.Order{ID: 77, Status: orders.StatusPending}}
	c := cache.New()
	return NewLinker(s, api, sub, c, nil), s, sub, c
}

func cart() orders.NewOrder {
	return orders.NewOrder{
		TenantID:    1,
		Type:        orders.TypeDineIn,
		TableNumber: "3",
		Items:       []orders.OrderItem{{MenuItemID: "m9", Name: "Lassi", Quantity: 2, PriceCents: 150}},
	}
}

func TestResolveOffersAppendForOpenOrder(t *testing.T) {
	api := &fakeAPI{track: func(secret string) (orders.Order, error) {
		assert.Equal(t, "tok", secret)
		return orders.Order{ID: 5, Status: orders.StatusPreparing, PaymentStatus: orders.PaymentPending}, nil
	}}
	l, s, _, c := newTestLinker(t, api)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Session{OrderID: 5, Secret: "tok"}))

	res, err := l.Resolve(ctx)
	require.NoError(t, err)
	assert.True(t, res.CanAppend)
	assert.Equal(t, int64(5), res.Order.ID)
	_, ok := c.Get(5)
	assert.True(t, ok)
}

func TestResolveClearsClosedSessions(t *testing.T) {
	cases := map[string]func(string) (orders.Order, error){
		"conflict":  func(string) (orders.Order, error) { return orders.Order{}, errConflict },
		"not found": func(string) (orders.Order, error) { return orders.Order{}, errGone },
		"delivered": func(string) (orders.Order, error) {
			return orders.Order{ID: 5, Status: orders.StatusDelivered}, nil
		},
		"paid": func(string) (orders.Order, error) {
			return orders.Order{ID: 5, Status: orders.StatusReady, PaymentStatus: orders.PaymentPaid}, nil
		},
	}
	for name, track := range cases {
		t.Run(name, func(t *testing.T) {
			l, s, _, _ := newTestLinker(t, &fakeAPI{track: track})
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, Session{OrderID: 5, Secret: "tok"}))

			res, err := l.Resolve(ctx)
			require.NoError(t, err)
			assert.False(t, res.CanAppend)

			_, ok, err := s.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "session cleared")
		})
	}
}

func TestResolveKeepsSessionOnNetworkFailure(t *testing.T) {
	api := &fakeAPI{track: func(string) (orders.Order, error) {
		return orders.Order{}, errors.New("dial tcp: connection refused")
	}}
	l, s, _, _ := newTestLinker(t, api)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Session{OrderID: 5, Secret: "tok"}))

	_, err := l.Resolve(ctx)
	require.Error(t, err)
	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveWithoutSession(t *testing.T) {
	l, _, _, _ := newTestLinker(t, &fakeAPI{track: func(string) (orders.Order, error) {
		t.Fatal("no session, no lookup")
		return orders.Order{}, nil
	}})
	res, err := l.Resolve(context.Background())
	require.NoError(t, err)
	assert.False(t, res.CanAppend)
}

func TestCheckoutAppendsWithStoredToken(t *testing.T) {
	api := &fakeAPI{appendFn: func(_ string, items []orders.OrderItem) (orders.Order, error) {
		return orders.Order{ID: 5, Status: orders.StatusPending, Items: items}, nil
	}}
	l, s, sub, _ := newTestLinker(t, api)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Session{OrderID: 5, Secret: "tok"}))

	o, err := l.Checkout(ctx, cart(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(5), o.ID)
	assert.Equal(t, []string{"tok"}, api.appendCall)
	assert.Empty(t, sub.submitted)

	sess, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", sess.Secret, "append never replaces the token")
}

func TestCheckoutConflictFallsBackToNewOrder(t *testing.T) {
	api := &fakeAPI{appendFn: func(string, []orders.OrderItem) (orders.Order, error) {
		return orders.Order{}, errConflict
	}}
	l, s, sub, _ := newTestLinker(t, api)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Session{OrderID: 5, Secret: "tok"}))

	o, err := l.Checkout(ctx, cart(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(77), o.ID)
	assert.Len(t, api.appendCall, 1, "the closed token is not retried")
	assert.Len(t, sub.submitted, 1)

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckoutSurfacesOtherAppendErrors(t *testing.T) {
	api := &fakeAPI{appendFn: func(string, []orders.OrderItem) (orders.Order, error) {
		return orders.Order{}, &apiclient.APIError{StatusCode: http.StatusBadRequest, Message: "bad qty"}
	}}
	l, s, sub, _ := newTestLinker(t, api)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Session{OrderID: 5, Secret: "tok"}))

	_, err := l.Checkout(ctx, cart(), true)
	require.Error(t, err)
	assert.Empty(t, sub.submitted)
	_, ok, _ := s.Load(ctx)
	assert.True(t, ok)
}

func TestCheckoutWithExpiredSessionCreates(t *testing.T) {
	api := &fakeAPI{}
	l, s, sub, _ := newTestLinker(t, api)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Session{OrderID: 5, Secret: "tok"}))
	clock := s.now().Add(DefaultTTL + time.Minute)
	s.now = func() time.Time { return clock }

	_, err := l.Checkout(ctx, cart(), true)
	require.NoError(t, err)
	assert.Empty(t, api.appendCall)
	assert.Len(t, sub.submitted, 1)
}

func TestHandleCreatedSavesFirstGuestOrderOnly(t *testing.T) {
	l, s, _, _ := newTestLinker(t, &fakeAPI{})
	ctx := context.Background()

	l.HandleCreated(ctx, orders.Order{ID: 9, GuestSecret: "s9", UserID: "u1"})
	l.HandleCreated(ctx, orders.Order{ID: 9})
	l.HandleCreated(ctx, orders.Order{ID: -3, GuestSecret: "s"})
	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	l.HandleCreated(ctx, orders.Order{ID: 9, GuestSecret: "s9"})
	first, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), first.OrderID)

	clock := s.now().Add(time.Hour)
	s.now = func() time.Time { return clock }
	l.HandleCreated(ctx, orders.Order{ID: 9, GuestSecret: "s9"})
	again, _, _ := s.Load(ctx)
	assert.Equal(t, first.IssuedAt.Unix(), again.IssuedAt.Unix(), "replayed response keeps the issue time")
}

func TestCompleteAndHandOff(t *testing.T) {
	l, s, _, _ := newTestLinker(t, &fakeAPI{})
	ctx := context.Background()

	_, ok, err := l.HandOff(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, Session{OrderID: 12, Secret: "s"}))
	id, ok, err := l.HandOff(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)
	_, ok, _ = s.Load(ctx)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, Session{OrderID: 13, Secret: "s"}))
	require.NoError(t, l.Complete(ctx))
	_, ok, _ = s.Load(ctx)
	assert.False(t, ok)
}
