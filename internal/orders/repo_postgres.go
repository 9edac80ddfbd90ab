package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// PostgresRepo persists orders plus their append-only status history.
// History lives in order_status_history; Transition inserts only the
// entries the callback appended, under the row lock that serializes the
// status change itself.
type PostgresRepo struct{ DB *pgxpool.Pool }

const orderColumns = `id, checkout_id, merchant_id, merchant_order_id, status,
	customer, shipping_address, billing_address, items, subtotal_cents,
	tax_cents, shipping_cents, total_cents, currency, tracking_number,
	carrier, cancel_reason, cancelled_by, refund_cents, refund_reason,
	created_at, updated_at, confirmed_at, shipped_at, delivered_at,
	cancelled_at, refunded_at`

const historyColumns = `from_status, to_status, reason, actor, created_at`

func (r *PostgresRepo) Create(ctx context.Context, o *Order) error {
	customer, shipping, billing, items, err := marshalOrderJSON(o)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27)
		ON CONFLICT (checkout_id) DO NOTHING`,
		o.ID, o.CheckoutID, o.MerchantID, o.MerchantOrderID, string(o.Status),
		customer, shipping, billing, items, o.SubtotalCents,
		o.TaxCents, o.ShippingCents, o.TotalCents, o.Currency, o.TrackingNumber,
		o.Carrier, o.CancelReason, o.CancelledBy, o.RefundCents, o.RefundReason,
		o.CreatedAt, o.UpdatedAt, o.ConfirmedAt, o.ShippedAt, o.DeliveredAt,
		o.CancelledAt, o.RefundedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	if err := insertHistory(ctx, tx, o.ID, o.History); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Order, error) {
	return r.getWhere(ctx, `id=$1`, []any{id},
		apperr.NotFound(apperr.CodeOrderNotFound, "order", id))
}

func (r *PostgresRepo) GetByCheckoutID(ctx context.Context, checkoutID string) (*Order, error) {
	return r.getWhere(ctx, `checkout_id=$1`, []any{checkoutID},
		apperr.NotFound(apperr.CodeOrderNotFound, "order for checkout", checkoutID))
}

func (r *PostgresRepo) GetByMerchantOrderID(ctx context.Context, merchantID, merchantOrderID string) (*Order, error) {
	return r.getWhere(ctx, `merchant_id=$1 AND merchant_order_id=$2 AND merchant_order_id <> ''`,
		[]any{merchantID, merchantOrderID},
		apperr.NotFound(apperr.CodeOrderNotFound, "order for merchant order", merchantOrderID))
}

func (r *PostgresRepo) getWhere(ctx context.Context, where string, args []any, notFound error) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	if o.History, err = loadHistory(ctx, r.DB, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]*Order, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.MerchantID != "" {
		args = append(args, f.MerchantID)
		where = append(where, fmt.Sprintf("merchant_id=$%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	args = append(args, size, (page-1)*size)
	rows, err := r.DB.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM orders%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		orderColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []*Order{}
	byID := map[string]*Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
		byID[o.ID] = o
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(out) == 0 {
		return out, total, nil
	}

	ids := make([]string, 0, len(out))
	for _, o := range out {
		ids = append(ids, o.ID)
	}
	hrows, err := r.DB.Query(ctx, `
		SELECT order_id, `+historyColumns+`
		FROM order_status_history WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, 0, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var (
			orderID string
			h       HistoryEntry
		)
		if err := hrows.Scan(&orderID, &h.From, &h.To, &h.Reason, &h.Actor, &h.CreatedAt); err != nil {
			return nil, 0, err
		}
		byID[orderID].History = append(byID[orderID].History, h)
	}
	if err := hrows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PostgresRepo) Transition(ctx context.Context, id string, fn func(o *Order) error) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order", id)
	}
	if err != nil {
		return nil, err
	}
	if o.History, err = loadHistory(ctx, tx, id); err != nil {
		return nil, err
	}
	before := len(o.History)

	if err := fn(o); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET merchant_order_id=$2, status=$3, tracking_number=$4, carrier=$5,
			cancel_reason=$6, cancelled_by=$7, refund_cents=$8, refund_reason=$9,
			updated_at=$10, confirmed_at=$11, shipped_at=$12, delivered_at=$13,
			cancelled_at=$14, refunded_at=$15
		WHERE id=$1`,
		o.ID, o.MerchantOrderID, string(o.Status), o.TrackingNumber, o.Carrier,
		o.CancelReason, o.CancelledBy, o.RefundCents, o.RefundReason,
		o.UpdatedAt, o.ConfirmedAt, o.ShippedAt, o.DeliveredAt,
		o.CancelledAt, o.RefundedAt)
	if err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, o.ID, o.History[before:]); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// querier lets history load from either the pool or an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadHistory(ctx context.Context, q querier, orderID string) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT `+historyColumns+`
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.From, &h.To, &h.Reason, &h.Actor, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID string, entries []HistoryEntry) error {
	for _, h := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_status_history (order_id, `+historyColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			orderID, string(h.From), string(h.To), h.Reason, h.Actor, h.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func marshalOrderJSON(o *Order) (customer, shipping, billing, items []byte, err error) {
	if customer, err = json.Marshal(o.Customer); err != nil {
		return nil, nil, nil, nil, err
	}
	if o.ShippingAddress != nil {
		if shipping, err = json.Marshal(o.ShippingAddress); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if o.BillingAddress != nil {
		if billing, err = json.Marshal(o.BillingAddress); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if items, err = json.Marshal(o.Items); err != nil {
		return nil, nil, nil, nil, err
	}
	return customer, shipping, billing, items, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o        Order
		customer []byte
		shipping []byte
		billing  []byte
		items    []byte
	)
	err := row.Scan(&o.ID, &o.CheckoutID, &o.MerchantID, &o.MerchantOrderID, &o.Status,
		&customer, &shipping, &billing, &items, &o.SubtotalCents,
		&o.TaxCents, &o.ShippingCents, &o.TotalCents, &o.Currency, &o.TrackingNumber,
		&o.Carrier, &o.CancelReason, &o.CancelledBy, &o.RefundCents, &o.RefundReason,
		&o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt,
		&o.CancelledAt, &o.RefundedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, err
	}
	if len(shipping) > 0 {
		o.ShippingAddress = &Address{}
		if err := json.Unmarshal(shipping, o.ShippingAddress); err != nil {
			return nil, err
		}
	}
	if len(billing) > 0 {
		o.BillingAddress = &Address{}
		if err := json.Unmarshal(billing, o.BillingAddress); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, err
	}
	return &o, nil
}

var _ Repo = (*PostgresRepo)(nil)
