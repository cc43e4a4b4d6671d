package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `id, client_ref, tenant_id, customer_name, customer_phone, customer_email,
	user_id, order_type, table_number, delivery_address, pincode, delivery_fee_cents,
	total_cents, status, payment_status, payment_method, created_at, paid_at, updated_at`

// CreateOrderTx is idempotent via client_ref: a replay returns the existing order
// with existed=true.
func (r *Repo) CreateOrderTx(ctx context.Context, in NewOrder) (o Order, existed bool, err error) {
	if in.ClientRef != "" {
		o, err = r.getByClientRef(ctx, r.DB, in.ClientRef)
		if err == nil {
			return o, true, nil
		} else if !errors.Is(err, ErrNotFound) {
			return Order{}, false, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// the server figure is authoritative; the client total is only a hint
	total := ComputeTotal(in.Items, in.DeliveryFeeCents)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(client_ref, tenant_id, customer_name, customer_phone, customer_email,
			user_id, order_type, table_number, delivery_address, pincode, delivery_fee_cents,
			total_cents, status, payment_status)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (client_ref) DO NOTHING
		RETURNING id`,
		in.ClientRef, in.TenantID, in.CustomerName, in.CustomerPhone, in.CustomerEmail,
		in.UserID, string(in.Type), in.TableNumber, in.DeliveryAddress, in.Pincode,
		in.DeliveryFeeCents, total, string(StatusPending), string(PaymentPending),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// lost a race with a concurrent replay of the same submission
		_ = tx.Rollback(ctx)
		o, err = r.getByClientRef(ctx, r.DB, in.ClientRef)
		return o, err == nil, err
	}
	if err != nil {
		return Order{}, false, err
	}

	if err := insertItems(ctx, tx, id, 0, BridgeItems(StatusPending, in.Items)); err != nil {
		return Order{}, false, err
	}
	o, err = r.getOrder(ctx, tx, id, false)
	if err != nil {
		return Order{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	return o, false, nil
}

func (r *Repo) GetOrder(ctx context.Context, id int64) (Order, error) {
	return r.getOrder(ctx, r.DB, id, false)
}

func (r *Repo) ListOrders(ctx context.Context, tenantID int64) ([]Order, error) {
	return r.listWhere(ctx, `WHERE tenant_id = $1`, tenantID)
}

// ListByCustomer backs GET /orders/my-orders.
func (r *Repo) ListByCustomer(ctx context.Context, userID, phone string) ([]Order, error) {
	if userID != "" {
		return r.listWhere(ctx, `WHERE user_id = $1`, userID)
	}
	return r.listWhere(ctx, `WHERE customer_phone = $1`, phone)
}

// UpdateOrder replaces customer, delivery and item fields. Only orders the kitchen
// has not accepted yet can be edited.
func (r *Repo) UpdateOrder(ctx context.Context, in Order) (Order, error) {
	if err := ValidateItems(in.Items); err != nil {
		return Order{}, err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := r.getOrder(ctx, tx, in.ID, true)
	if err != nil {
		return Order{}, err
	}
	if cur.Status != StatusPending {
		return Order{}, fmt.Errorf("%w: order %d is %s", ErrConflict, cur.ID, cur.Status)
	}

	total := ComputeTotal(in.Items, in.DeliveryFeeCents)
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET customer_name=$2, customer_phone=$3, customer_email=$4,
			order_type=$5, table_number=$6, delivery_address=$7, pincode=$8,
			delivery_fee_cents=$9, total_cents=$10, updated_at=now()
		WHERE id=$1`,
		in.ID, in.CustomerName, in.CustomerPhone, in.CustomerEmail, string(in.Type),
		in.TableNumber, in.DeliveryAddress, in.Pincode, in.DeliveryFeeCents, total,
	); err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, in.ID); err != nil {
		return Order{}, err
	}
	if err := insertItems(ctx, tx, in.ID, 0, BridgeItems(StatusPending, in.Items)); err != nil {
		return Order{}, err
	}
	out, err := r.getOrder(ctx, tx, in.ID, false)
	if err != nil {
		return Order{}, err
	}
	return out, tx.Commit(ctx)
}

// UpdateStatus locks the row, validates the transition and bridges the kitchen
// status of every item.
func (r *Repo) UpdateStatus(ctx context.Context, id int64, to Status) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := r.getOrder(ctx, tx, id, true)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(cur.Status, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, string(to)); err != nil {
		return Order{}, err
	}
	if err := updateItemStatuses(ctx, tx, id, BridgeItems(to, cur.Items)); err != nil {
		return Order{}, err
	}
	out, err := r.getOrder(ctx, tx, id, false)
	if err != nil {
		return Order{}, err
	}
	return out, tx.Commit(ctx)
}

// AppendItems adds items to an open bill. ErrConflict when the bill is closed.
func (r *Repo) AppendItems(ctx context.Context, id int64, items []OrderItem) (Order, error) {
	if err := ValidateItems(items); err != nil {
		return Order{}, err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := r.getOrder(ctx, tx, id, true)
	if err != nil {
		return Order{}, err
	}
	if !IsOpen(cur) {
		return Order{}, fmt.Errorf("%w: order %d is %s/%s", ErrConflict, id, cur.Status, cur.PaymentStatus)
	}
	if err := insertItems(ctx, tx, id, len(cur.Items), BridgeItems(cur.Status, items)); err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET total_cents = total_cents + $2, updated_at=now() WHERE id=$1`,
		id, ComputeTotal(items, 0),
	); err != nil {
		return Order{}, err
	}
	out, err := r.getOrder(ctx, tx, id, false)
	if err != nil {
		return Order{}, err
	}
	return out, tx.Commit(ctx)
}

func (r *Repo) getByClientRef(ctx context.Context, q querier, ref string) (Order, error) {
	var id int64
	err := q.QueryRow(ctx, `SELECT id FROM orders WHERE client_ref=$1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return r.getOrder(ctx, q, id, false)
}

func (r *Repo) getOrder(ctx context.Context, q querier, id int64, forUpdate bool) (Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	items, err := loadItems(ctx, q, []int64{id})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *Repo) listWhere(ctx context.Context, where string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	var ids []int64
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Order{}, nil
	}
	items, err := loadItems(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o         Order
		clientRef *string
		orderType string
		status    string
		payStatus string
		paidAt    *time.Time
	)
	err := row.Scan(&o.ID, &clientRef, &o.TenantID, &o.CustomerName, &o.CustomerPhone,
		&o.CustomerEmail, &o.UserID, &orderType, &o.TableNumber, &o.DeliveryAddress,
		&o.Pincode, &o.DeliveryFeeCents, &o.TotalCents, &status, &payStatus,
		&o.PaymentMethod, &o.CreatedAt, &paidAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if clientRef != nil {
		o.ClientRef = *clientRef
	}
	o.Type = OrderType(orderType)
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(payStatus)
	o.PaidAt = paidAt
	return o, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, menu_item_id, name, qty, price_cents, kitchen_status
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID int64
			it      OrderItem
		)
		if err := rows.Scan(&orderID, &it.MenuItemID, &it.Name, &it.Quantity, &it.PriceCents, &it.KitchenStatus); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func insertItems(ctx context.Context, q querier, orderID int64, offset int, items []OrderItem) error {
	for i, it := range items {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_items(order_id, position, menu_item_id, name, qty, price_cents, kitchen_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			orderID, offset+i, it.MenuItemID, it.Name, it.Quantity, it.PriceCents, it.KitchenStatus,
		); err != nil {
			return err
		}
	}
	return nil
}

func updateItemStatuses(ctx context.Context, q querier, orderID int64, items []OrderItem) error {
	for i, it := range items {
		if _, err := q.Exec(ctx, `
			UPDATE order_items SET kitchen_status=$3 WHERE order_id=$1 AND position=$2`,
			orderID, i, it.KitchenStatus,
		); err != nil {
			return err
		}
	}
	return nil
}
