package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWireAliases(t *testing.T) {
	p, err := DecodeWire([]byte(`{"orderId":"12","restaurantId":7,"orderStatus":"preparing",
		"payment_status":"verification_pending","orderItems":[{"itemId":3,"name":"Dal","qty":2,"unitPrice":150}]}`))
	require.NoError(t, err)

	assert.Equal(t, int64(12), p.ID)
	require.NotNil(t, p.TenantID)
	assert.Equal(t, int64(7), *p.TenantID)
	require.NotNil(t, p.Status)
	assert.Equal(t, StatusPreparing, *p.Status)
	require.NotNil(t, p.PaymentStatus)
	assert.Equal(t, PaymentVerificationPending, *p.PaymentStatus)
	require.NotNil(t, p.Items)
	require.Len(t, *p.Items, 1)
	assert.Equal(t, OrderItem{MenuItemID: "3", Name: "Dal", Quantity: 2, PriceCents: 150}, (*p.Items)[0])
}

func TestDecodeWireCanonicalWinsOverAlias(t *testing.T) {
	p, err := DecodeWire([]byte(`{"id":1,"status":"READY","orderStatus":"PENDING"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusReady, *p.Status)
}

func TestDecodeWireRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `nope`},
		{"missing id", `{"status":"READY"}`},
		{"unknown status", `{"id":1,"status":"bogus"}`},
		{"unknown payment status", `{"id":1,"paymentStatus":"REFUNDED"}`},
		{"unknown order type", `{"id":1,"orderType":"drone"}`},
		{"bad total", `{"id":1,"totalAmount":"lots"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWire([]byte(tt.in))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeWireIgnoresNullsAndUnknownKeys(t *testing.T) {
	p, err := DecodeWire([]byte(`{"id":4,"status":null,"loyaltyPoints":12}`))
	require.NoError(t, err)
	assert.Nil(t, p.Status)
}

func TestDecodeWireListWrapped(t *testing.T) {
	list, err := DecodeWireList([]byte(`{"orders":[{"id":1,"status":"PENDING"},{"id":2,"status":"CANCELLED"}]}`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, StatusCancelled, list[1].Status)
}
