package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderUpdated       = "OrderUpdated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventItemsAppended      = "OrderItemsAppended"
	EventPaymentSubmitted   = "PaymentSubmitted"
	EventPaymentVerified    = "PaymentVerified"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TenantID      int64           `json:"tenant_id"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`                  // order snapshot
}

// StatusChangedPayload is the narrow push emitted by kitchen/staff transitions.
// Receivers merge it without touching the item list.
type StatusChangedPayload struct {
	OrderID       int64         `json:"id"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
