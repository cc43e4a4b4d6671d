package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Pay records a payment attempt. Online methods carry proof and wait for staff
// verification; cash is an intent to pay at the counter.
func (r *Repo) Pay(ctx context.Context, id int64, in PaymentInput) (Order, error) {
	if err := in.Validate(); err != nil {
		return Order{}, err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer tx.Rollback(ctx)

	cur, err := r.getOrder(ctx, tx, id, true)
	if err != nil {
		return Order{}, err
	}
	if cur.Status == StatusCancelled || cur.PaymentStatus == PaymentPaid {
		return Order{}, fmt.Errorf("%w: order %d is %s/%s", ErrConflict, id, cur.Status, cur.PaymentStatus)
	}

	next := PaymentVerificationPending
	if in.Method == PaymentCash {
		next = PaymentPending
	}
	if next != cur.PaymentStatus && !CanTransitionPayment(cur.PaymentStatus, next) {
		return Order{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, cur.PaymentStatus, next)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, method, reference, proof, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), id, string(in.Method), in.Reference, in.Proof, cur.TotalCents, string(next),
	); err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET payment_status=$2, payment_method=$3, updated_at=now() WHERE id=$1`,
		id, string(next), string(in.Method),
	); err != nil {
		return Order{}, err
	}
	out, err := r.getOrder(ctx, tx, id, false)
	if err != nil {
		return Order{}, err
	}
	return out, tx.Commit(ctx)
}

// VerifyPayment is the staff confirmation: payment becomes PAID and a PENDING
// order moves to CONFIRMED.
func (r *Repo) VerifyPayment(ctx context.Context, id int64) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer tx.Rollback(ctx)

	cur, err := r.getOrder(ctx, tx, id, true)
	if err != nil {
		return Order{}, err
	}
	if !CanTransitionPayment(cur.PaymentStatus, PaymentPaid) {
		return Order{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, cur.PaymentStatus, PaymentPaid)
	}
	status := cur.Status
	if status == StatusPending {
		status = StatusConfirmed
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payments SET status=$2 WHERE order_id=$1 AND status=$3`,
		id, string(PaymentPaid), string(PaymentVerificationPending),
	); err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET payment_status=$2, status=$3, paid_at=now(), updated_at=now() WHERE id=$1`,
		id, string(PaymentPaid), string(status),
	); err != nil {
		return Order{}, err
	}
	out, err := r.getOrder(ctx, tx, id, false)
	if err != nil {
		return Order{}, err
	}
	return out, tx.Commit(ctx)
}
