package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire field correspondence. Every inbound order payload (REST responses and
// realtime pushes) is decoded here and nowhere else.
//
//	canonical        accepted aliases
//	id               orderId, order_id
//	clientRef        client_ref, externalId, external_id
//	tenantId         restaurantId, tenant_id, restaurant_id
//	customerName     customer_name, name
//	customerPhone    customer_phone, phone
//	customerEmail    customer_email, email
//	userId           user_id
//	orderType        type, order_type
//	tableNumber      table, table_number
//	deliveryAddress  address, delivery_address
//	pincode          pinCode, zip
//	items            orderItems, order_items
//	deliveryFee      deliveryCharge, delivery_fee
//	totalAmount      total, totalCents, total_cents
//	status           orderStatus, order_status
//	paymentStatus    payment_status
//	paymentMethod    payment_method
//	createdAt        created_at
//	paidAt           paid_at
//	updatedAt        updated_at
//	guestSecret      secretKey, accessToken, guest_secret
//
// Item fields:
//
//	menuItemId  itemId, menu_item_id, productId
//	itemName    name, item_name
//	quantity    qty
//	price       unitPrice, priceCents, price_cents
//	status      kitchenStatus, kitchen_status
var orderAliases = map[string]string{
	"orderId": "id", "order_id": "id",
	"client_ref": "clientRef", "externalId": "clientRef", "external_id": "clientRef",
	"restaurantId": "tenantId", "tenant_id": "tenantId", "restaurant_id": "tenantId",
	"customer_name": "customerName", "name": "customerName",
	"customer_phone": "customerPhone", "phone": "customerPhone",
	"customer_email": "customerEmail", "email": "customerEmail",
	"user_id": "userId",
	"type": "orderType", "order_type": "orderType",
	"table": "tableNumber", "table_number": "tableNumber",
	"address": "deliveryAddress", "delivery_address": "deliveryAddress",
	"pinCode": "pincode", "zip": "pincode",
	"orderItems": "items", "order_items": "items",
	"deliveryCharge": "deliveryFee", "delivery_fee": "deliveryFee",
	"total": "totalAmount", "totalCents": "totalAmount", "total_cents": "totalAmount",
	"orderStatus": "status", "order_status": "status",
	"payment_status": "paymentStatus",
	"payment_method": "paymentMethod",
	"created_at": "createdAt",
	"paid_at": "paidAt",
	"updated_at": "updatedAt",
	"secretKey": "guestSecret", "accessToken": "guestSecret", "guest_secret": "guestSecret",
}

var itemAliases = map[string]string{
	"itemId": "menuItemId", "menu_item_id": "menuItemId", "productId": "menuItemId",
	"name": "itemName", "item_name": "itemName",
	"qty":       "quantity",
	"unitPrice": "price", "priceCents": "price", "price_cents": "price",
	"kitchenStatus": "status", "kitchen_status": "status",
}

type fieldSetter func(p *Patch, raw json.RawMessage) error

var orderFields = map[string]fieldSetter{
	"id": func(p *Patch, raw json.RawMessage) error {
		v, err := decodeInt(raw)
		p.ID = v
		return err
	},
	"clientRef":     stringField(func(p *Patch, v *string) { p.ClientRef = v }),
	"customerName":  stringField(func(p *Patch, v *string) { p.CustomerName = v }),
	"customerPhone": stringField(func(p *Patch, v *string) { p.CustomerPhone = v }),
	"customerEmail": stringField(func(p *Patch, v *string) { p.CustomerEmail = v }),
	"userId":        stringField(func(p *Patch, v *string) { p.UserID = v }),
	"tableNumber":   stringField(func(p *Patch, v *string) { p.TableNumber = v }),
	"deliveryAddress": stringField(func(p *Patch, v *string) {
		p.DeliveryAddress = v
	}),
	"pincode":       stringField(func(p *Patch, v *string) { p.Pincode = v }),
	"paymentMethod": stringField(func(p *Patch, v *string) { p.PaymentMethod = v }),
	"guestSecret":   stringField(func(p *Patch, v *string) { p.GuestSecret = v }),
	"tenantId": func(p *Patch, raw json.RawMessage) error {
		v, err := decodeInt(raw)
		p.TenantID = &v
		return err
	},
	"orderType": func(p *Patch, raw json.RawMessage) error {
		s, err := decodeString(raw)
		if err != nil {
			return err
		}
		t, ok := ParseOrderType(s)
		if !ok {
			return fmt.Errorf("unknown order type %q", s)
		}
		p.Type = &t
		return nil
	},
	"items": func(p *Patch, raw json.RawMessage) error {
		items, err := decodeItems(raw)
		p.Items = &items
		return err
	},
	"deliveryFee": func(p *Patch, raw json.RawMessage) error {
		v, err := decodeInt(raw)
		p.DeliveryFeeCents = &v
		return err
	},
	"totalAmount": func(p *Patch, raw json.RawMessage) error {
		v, err := decodeInt(raw)
		p.TotalCents = &v
		return err
	},
	"status": func(p *Patch, raw json.RawMessage) error {
		s, err := decodeString(raw)
		if err != nil {
			return err
		}
		st, ok := ParseStatus(s)
		if !ok {
			return fmt.Errorf("unknown status %q", s)
		}
		p.Status = &st
		return nil
	},
	"paymentStatus": func(p *Patch, raw json.RawMessage) error {
		s, err := decodeString(raw)
		if err != nil {
			return err
		}
		ps, ok := ParsePaymentStatus(s)
		if !ok {
			return fmt.Errorf("unknown payment status %q", s)
		}
		p.PaymentStatus = &ps
		return nil
	},
	"createdAt": timeField(func(p *Patch, v *time.Time) { p.CreatedAt = v }),
	"paidAt":    timeField(func(p *Patch, v *time.Time) { p.PaidAt = v }),
	"updatedAt": timeField(func(p *Patch, v *time.Time) { p.UpdatedAt = v }),
}

// DecodeWire maps one JSON order object onto a Patch. Unknown keys are ignored,
// null values are treated as absent, and a payload without an id is malformed.
func DecodeWire(data []byte) (Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var p Patch
	for key, val := range raw {
		canonical := key
		if alias, ok := orderAliases[key]; ok {
			if _, dup := raw[alias]; dup {
				continue
			}
			canonical = alias
		}
		set, ok := orderFields[canonical]
		if !ok || isNull(val) {
			continue
		}
		if err := set(&p, val); err != nil {
			return Patch{}, fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
		}
	}
	if p.ID == 0 {
		return Patch{}, fmt.Errorf("%w: missing order id", ErrMalformed)
	}
	return p, nil
}

// DecodeWireOrder decodes a full order.
func DecodeWireOrder(data []byte) (Order, error) {
	p, err := DecodeWire(data)
	if err != nil {
		return Order{}, err
	}
	return p.Order(), nil
}

// DecodeWireList decodes a JSON array of orders, or an object wrapping one under
// "orders" or "data".
func DecodeWireList(data []byte) ([]Order, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		inner, ok := wrapper["orders"]
		if !ok {
			inner, ok = wrapper["data"]
		}
		if !ok {
			return nil, fmt.Errorf("%w: expected order list", ErrMalformed)
		}
		trimmed = inner
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]Order, 0, len(raws))
	for _, r := range raws {
		o, err := DecodeWireOrder(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func decodeItems(raw json.RawMessage) ([]OrderItem, error) {
	var rawItems []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, err
	}
	items := make([]OrderItem, 0, len(rawItems))
	for _, ri := range rawItems {
		var it OrderItem
		for key, val := range ri {
			canonical := key
			if alias, ok := itemAliases[key]; ok {
				if _, dup := ri[alias]; dup {
					continue
				}
				canonical = alias
			}
			if isNull(val) {
				continue
			}
			var err error
			switch canonical {
			case "menuItemId":
				it.MenuItemID, err = decodeIDString(val)
			case "itemName":
				it.Name, err = decodeString(val)
			case "quantity":
				var q int64
				q, err = decodeInt(val)
				it.Quantity = int(q)
			case "price":
				it.PriceCents, err = decodeInt(val)
			case "status":
				var s string
				s, err = decodeString(val)
				it.KitchenStatus = strings.ToLower(s)
			}
			if err != nil {
				return nil, fmt.Errorf("item field %q: %w", key, err)
			}
		}
		items = append(items, it)
	}
	return items, nil
}

func stringField(set func(*Patch, *string)) fieldSetter {
	return func(p *Patch, raw json.RawMessage) error {
		s, err := decodeString(raw)
		if err != nil {
			return err
		}
		set(p, &s)
		return nil
	}
}

func timeField(set func(*Patch, *time.Time)) fieldSetter {
	return func(p *Patch, raw json.RawMessage) error {
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		set(p, &t)
		return nil
	}
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	err := json.Unmarshal(raw, &s)
	return s, err
}

// decodeIDString accepts both "42" and 42.
func decodeIDString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// decodeInt accepts a JSON number or a numeric string.
func decodeInt(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.ParseInt(n.String(), 10, 64)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
