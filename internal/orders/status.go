package orders

import "strings"

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"

	// StatusQueued is client-only: an order buffered in the local outbox that the
	// server has not seen yet. Never sent over the wire.
	StatusQueued Status = "QUEUED"
)

type PaymentStatus string

const (
	PaymentPending             PaymentStatus = "PENDING"
	PaymentVerificationPending PaymentStatus = "VERIFICATION_PENDING"
	PaymentPaid                PaymentStatus = "PAID"
	PaymentFailed              PaymentStatus = "FAILED"
)

// Kitchen status of a single line item.
const (
	ItemPending   = "pending"
	ItemPreparing = "preparing"
	ItemReady     = "ready"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:      {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing:      {StatusReady: true, StatusCancelled: true},
	StatusReady:          {StatusOutForDelivery: true, StatusDelivered: true, StatusCancelled: true},
	StatusOutForDelivery: {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:             {PaymentVerificationPending: true, PaymentPaid: true},
	PaymentVerificationPending: {PaymentPaid: true, PaymentFailed: true},
	PaymentFailed:              {PaymentVerificationPending: true, PaymentPaid: true},
	PaymentPaid:                {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validNext[st]; ok {
		return st, true
	}
	return "", false
}

func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	ps := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validPaymentNext[ps]; ok {
		return ps, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsOpen reports whether items may still be appended to the order's bill.
func IsOpen(o Order) bool {
	switch o.Status {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusOutForDelivery:
		return o.PaymentStatus != PaymentPaid
	}
	return false
}

// BridgeItems propagates an order-level kitchen stage to its items. The backend
// enforces the same rule when staff move an order along.
func BridgeItems(status Status, items []OrderItem) []OrderItem {
	if len(items) == 0 {
		return items
	}
	out := make([]OrderItem, len(items))
	copy(out, items)
	switch status {
	case StatusReady, StatusOutForDelivery, StatusDelivered:
		for i := range out {
			out[i].KitchenStatus = ItemReady
		}
	case StatusPreparing:
		for i := range out {
			if out[i].KitchenStatus == "" || out[i].KitchenStatus == ItemPending {
				out[i].KitchenStatus = ItemPreparing
			}
		}
	default:
		for i := range out {
			if out[i].KitchenStatus == "" {
				out[i].KitchenStatus = ItemPending
			}
		}
	}
	return out
}
