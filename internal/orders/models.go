package orders

import (
	"fmt"
	"strings"
	"time"
)

type OrderType string

const (
	TypeDineIn   OrderType = "DINE_IN"
	TypeDelivery OrderType = "DELIVERY"
	TypePickup   OrderType = "PICKUP"
	TypeTakeaway OrderType = "TAKEAWAY"
)

func ParseOrderType(s string) (OrderType, bool) {
	t := OrderType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	switch t {
	case TypeDineIn, TypeDelivery, TypePickup, TypeTakeaway:
		return t, true
	}
	return "", false
}

// Order is the client and server shape of an order. ID is negative for records that
// exist only on the client (optimistic or queued).
type Order struct {
	ID               int64         `json:"id"`
	ClientRef        string        `json:"clientRef,omitempty"`
	TenantID         int64         `json:"tenantId"`
	CustomerName     string        `json:"customerName,omitempty"`
	CustomerPhone    string        `json:"customerPhone,omitempty"`
	CustomerEmail    string        `json:"customerEmail,omitempty"`
	UserID           string        `json:"userId,omitempty"`
	Type             OrderType     `json:"orderType"`
	TableNumber      string        `json:"tableNumber,omitempty"`
	DeliveryAddress  string        `json:"deliveryAddress,omitempty"`
	Pincode          string        `json:"pincode,omitempty"`
	Items            []OrderItem   `json:"items"`
	DeliveryFeeCents int64         `json:"deliveryFee"`
	TotalCents       int64         `json:"totalAmount"`
	Status           Status        `json:"status"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	PaymentMethod    string        `json:"paymentMethod,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	PaidAt           *time.Time    `json:"paidAt,omitempty"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	GuestSecret      string        `json:"guestSecret,omitempty"`
}

// Local reports whether the order has not been assigned a server id yet.
func (o Order) Local() bool { return o.ID < 0 }

// OrderItem snapshots the menu item name and price at order time so historical
// orders stay correct after menu edits.
type OrderItem struct {
	MenuItemID    string `json:"menuItemId"`
	Name          string `json:"itemName"`
	Quantity      int    `json:"quantity"`
	PriceCents    int64  `json:"price"`
	KitchenStatus string `json:"status,omitempty"`
}

// NewOrder is the create payload. ClientRef doubles as the server-side
// idempotency key, so replaying the same NewOrder never creates a second order.
type NewOrder struct {
	ClientRef        string      `json:"clientRef"`
	TenantID         int64       `json:"tenantId"`
	CustomerName     string      `json:"customerName,omitempty"`
	CustomerPhone    string      `json:"customerPhone,omitempty"`
	CustomerEmail    string      `json:"customerEmail,omitempty"`
	UserID           string      `json:"userId,omitempty"`
	Type             OrderType   `json:"orderType"`
	TableNumber      string      `json:"tableNumber,omitempty"`
	DeliveryAddress  string      `json:"deliveryAddress,omitempty"`
	Pincode          string      `json:"pincode,omitempty"`
	Items            []OrderItem `json:"items"`
	DeliveryFeeCents int64       `json:"deliveryFee"`
	TotalCents       int64       `json:"totalAmount"`
}

func (n NewOrder) Validate() error {
	if n.TenantID <= 0 {
		return fmt.Errorf("%w: tenant id required", ErrInvalidInput)
	}
	if _, ok := ParseOrderType(string(n.Type)); !ok {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidInput, n.Type)
	}
	if n.Type == TypeDelivery && strings.TrimSpace(n.DeliveryAddress) == "" {
		return fmt.Errorf("%w: delivery address required", ErrInvalidInput)
	}
	if n.Type == TypeDineIn && strings.TrimSpace(n.TableNumber) == "" {
		return fmt.Errorf("%w: table number required", ErrInvalidInput)
	}
	if n.DeliveryFeeCents < 0 {
		return fmt.Errorf("%w: negative delivery fee", ErrInvalidInput)
	}
	return ValidateItems(n.Items)
}

func ValidateItems(items []OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrInvalidInput)
	}
	for _, it := range items {
		if it.MenuItemID == "" {
			return fmt.Errorf("%w: item without menu reference", ErrInvalidInput)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: invalid qty for item %s", ErrInvalidInput, it.MenuItemID)
		}
		if it.PriceCents < 0 {
			return fmt.Errorf("%w: invalid price for item %s", ErrInvalidInput, it.MenuItemID)
		}
	}
	return nil
}

// Pending builds the optimistic client-side record for a submission.
func (n NewOrder) Pending(tempID int64, now time.Time) Order {
	return Order{
		ID:               tempID,
		ClientRef:        n.ClientRef,
		TenantID:         n.TenantID,
		CustomerName:     n.CustomerName,
		CustomerPhone:    n.CustomerPhone,
		CustomerEmail:    n.CustomerEmail,
		UserID:           n.UserID,
		Type:             n.Type,
		TableNumber:      n.TableNumber,
		DeliveryAddress:  n.DeliveryAddress,
		Pincode:          n.Pincode,
		Items:            BridgeItems(StatusPending, n.Items),
		DeliveryFeeCents: n.DeliveryFeeCents,
		TotalCents:       ComputeTotal(n.Items, n.DeliveryFeeCents),
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ComputeTotal returns sum(qty * unit price) plus the delivery fee.
func ComputeTotal(items []OrderItem, deliveryFeeCents int64) int64 {
	total := deliveryFeeCents
	for _, it := range items {
		total += int64(it.Quantity) * it.PriceCents
	}
	return total
}

type PaymentMethod string

const (
	PaymentUPI  PaymentMethod = "upi"
	PaymentCard PaymentMethod = "card"
	PaymentCash PaymentMethod = "cash"
)

// PaymentInput is either proof of an online payment or an intent to pay at the
// counter.
type PaymentInput struct {
	Method    PaymentMethod `json:"method"`
	Reference string        `json:"reference,omitempty"`
	Proof     string        `json:"proof,omitempty"`
}

func (p PaymentInput) Validate() error {
	switch p.Method {
	case PaymentUPI, PaymentCard:
		if p.Reference == "" && p.Proof == "" {
			return fmt.Errorf("%w: payment proof required", ErrInvalidInput)
		}
	case PaymentCash:
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, p.Method)
	}
	return nil
}
