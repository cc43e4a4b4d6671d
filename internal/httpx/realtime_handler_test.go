package httpx

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/fanout"
	"github.com/ariefcatur/go-restaurant-orders/internal/hub"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealtimeEndToEnd(t *testing.T) {
	h := hub.New()
	srv := httptest.NewServer(NewRealtimeRouter(NewRealtimeHandler(h, 16)))
	defer srv.Close()

	ch := realtime.New(realtime.WebsocketURL(srv.URL), realtime.Options{Backoff: 50 * time.Millisecond})
	defer ch.Close()
	updates, cancel := ch.Subscribe("restaurant/7")
	defer cancel()

	frame, err := json.Marshal(fanout.Frame{
		Topic:     "restaurant/7",
		Type:      orders.EventOrderStatusChanged,
		Payload:   json.RawMessage(`{"orderId":"31","orderStatus":"preparing"}`),
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	// the subscribe frame races the first broadcast
	require.Eventually(t, func() bool {
		return h.Broadcast("restaurant/7", frame) > 0
	}, 3*time.Second, 20*time.Millisecond)

	select {
	case p := <-updates:
		assert.Equal(t, int64(31), p.ID)
		require.NotNil(t, p.Status)
		assert.Equal(t, orders.StatusPreparing, *p.Status)
		assert.Nil(t, p.Items)
	case <-time.After(3 * time.Second):
		t.Fatal("no update delivered")
	}

	assert.Zero(t, h.Broadcast("restaurant/8", frame), "other tenants are not subscribed")
}
