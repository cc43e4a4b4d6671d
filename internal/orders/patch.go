package orders

import "time"

// Patch is a partial Order. Nil fields were absent from the payload and are left
// untouched by Apply, so a status-only push never clobbers the item list.
type Patch struct {
	ID               int64
	ClientRef        *string
	TenantID         *int64
	CustomerName     *string
	CustomerPhone    *string
	CustomerEmail    *string
	UserID           *string
	Type             *OrderType
	TableNumber      *string
	DeliveryAddress  *string
	Pincode          *string
	Items            *[]OrderItem
	DeliveryFeeCents *int64
	TotalCents       *int64
	Status           *Status
	PaymentStatus    *PaymentStatus
	PaymentMethod    *string
	CreatedAt        *time.Time
	PaidAt           *time.Time
	UpdatedAt        *time.Time
	GuestSecret      *string
}

// PatchFrom returns a Patch carrying every field of o.
func PatchFrom(o Order) Patch {
	items := append([]OrderItem(nil), o.Items...)
	p := Patch{
		ID:               o.ID,
		ClientRef:        &o.ClientRef,
		TenantID:         &o.TenantID,
		CustomerName:     &o.CustomerName,
		CustomerPhone:    &o.CustomerPhone,
		CustomerEmail:    &o.CustomerEmail,
		UserID:           &o.UserID,
		Type:             &o.Type,
		TableNumber:      &o.TableNumber,
		DeliveryAddress:  &o.DeliveryAddress,
		Pincode:          &o.Pincode,
		Items:            &items,
		DeliveryFeeCents: &o.DeliveryFeeCents,
		TotalCents:       &o.TotalCents,
		Status:           &o.Status,
		PaymentStatus:    &o.PaymentStatus,
		PaymentMethod:    &o.PaymentMethod,
		CreatedAt:        &o.CreatedAt,
		PaidAt:           o.PaidAt,
		UpdatedAt:        &o.UpdatedAt,
		GuestSecret:      &o.GuestSecret,
	}
	return p
}

// StatusPatch is the narrow form pushed by kitchen/staff status events.
func StatusPatch(id int64, status Status) Patch {
	return Patch{ID: id, Status: &status}
}

// Apply merges the present fields of p over o and returns the result. o is not
// modified.
func (p Patch) Apply(o Order) Order {
	if p.ID != 0 {
		o.ID = p.ID
	}
	setString(&o.ClientRef, p.ClientRef)
	if p.TenantID != nil {
		o.TenantID = *p.TenantID
	}
	setString(&o.CustomerName, p.CustomerName)
	setString(&o.CustomerPhone, p.CustomerPhone)
	setString(&o.CustomerEmail, p.CustomerEmail)
	setString(&o.UserID, p.UserID)
	if p.Type != nil {
		o.Type = *p.Type
	}
	setString(&o.TableNumber, p.TableNumber)
	setString(&o.DeliveryAddress, p.DeliveryAddress)
	setString(&o.Pincode, p.Pincode)
	if p.Items != nil {
		o.Items = append([]OrderItem(nil), (*p.Items)...)
	}
	if p.DeliveryFeeCents != nil {
		o.DeliveryFeeCents = *p.DeliveryFeeCents
	}
	if p.TotalCents != nil {
		o.TotalCents = *p.TotalCents
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	setString(&o.PaymentMethod, p.PaymentMethod)
	if p.CreatedAt != nil {
		o.CreatedAt = *p.CreatedAt
	}
	if p.PaidAt != nil {
		t := *p.PaidAt
		o.PaidAt = &t
	}
	if p.UpdatedAt != nil {
		o.UpdatedAt = *p.UpdatedAt
	}
	setString(&o.GuestSecret, p.GuestSecret)
	o.Items = BridgeItems(o.Status, o.Items)
	return o
}

// Order materialises a Patch that arrived for an unknown id.
func (p Patch) Order() Order {
	return p.Apply(Order{})
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
