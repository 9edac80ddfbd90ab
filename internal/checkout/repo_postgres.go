package checkout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// PostgresRepo persists checkouts in the checkouts table. Items, the
// frozen receipt and the audit trail ride along as JSONB. Transition
// holds a row lock for the duration of the callback, so concurrent
// mutations of one checkout serialize the same way the memory repo's
// per-id mutex does.
type PostgresRepo struct{ DB *pgxpool.Pool }

const checkoutColumns = `id, offer_id, merchant_id, status, items, customer_email,
	currency, subtotal_cents, tax_cents, shipping_cents, total_cents,
	frozen_receipt, merchant_checkout_id, merchant_order_id, approved_by,
	approved_at, confirmed_at, failure_reason, idempotency_key, expires_at,
	audit_trail, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, c *Checkout) error {
	items, receipt, audit, err := marshalCheckoutJSON(c)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO checkouts (`+checkoutColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		c.ID, c.OfferID, c.MerchantID, string(c.Status), items, c.CustomerEmail,
		c.Currency, c.SubtotalCents, c.TaxCents, c.ShippingCents, c.TotalCents,
		receipt, c.MerchantCheckoutID, c.MerchantOrderID, c.ApprovedBy,
		c.ApprovedAt, c.ConfirmedAt, c.FailureReason, c.IdempotencyKey, c.ExpiresAt,
		audit, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Checkout, error) {
	c, err := scanCheckout(r.DB.QueryRow(ctx,
		`SELECT `+checkoutColumns+` FROM checkouts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeCheckoutNotFound, "checkout", id)
	}
	return c, err
}

func (r *PostgresRepo) Transition(ctx context.Context, id string, fn func(c *Checkout) error) (*Checkout, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := scanCheckout(tx.QueryRow(ctx,
		`SELECT `+checkoutColumns+` FROM checkouts WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeCheckoutNotFound, "checkout", id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(c); err != nil {
		return nil, err
	}

	items, receipt, audit, err := marshalCheckoutJSON(c)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE checkouts
		SET status=$2, items=$3, customer_email=$4, currency=$5, subtotal_cents=$6,
			tax_cents=$7, shipping_cents=$8, total_cents=$9, frozen_receipt=$10,
			merchant_checkout_id=$11, merchant_order_id=$12, approved_by=$13,
			approved_at=$14, confirmed_at=$15, failure_reason=$16, audit_trail=$17,
			updated_at=$18
		WHERE id=$1`,
		c.ID, string(c.Status), items, c.CustomerEmail, c.Currency, c.SubtotalCents,
		c.TaxCents, c.ShippingCents, c.TotalCents, receipt,
		c.MerchantCheckoutID, c.MerchantOrderID, c.ApprovedBy,
		c.ApprovedAt, c.ConfirmedAt, c.FailureReason, audit,
		c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func marshalCheckoutJSON(c *Checkout) (items, receipt, audit []byte, err error) {
	if items, err = json.Marshal(c.Items); err != nil {
		return nil, nil, nil, err
	}
	if c.Receipt != nil {
		if receipt, err = json.Marshal(c.Receipt); err != nil {
			return nil, nil, nil, err
		}
	}
	if audit, err = json.Marshal(c.Audit); err != nil {
		return nil, nil, nil, err
	}
	return items, receipt, audit, nil
}

func scanCheckout(row pgx.Row) (*Checkout, error) {
	var (
		c       Checkout
		items   []byte
		receipt []byte
		audit   []byte
	)
	err := row.Scan(&c.ID, &c.OfferID, &c.MerchantID, &c.Status, &items, &c.CustomerEmail,
		&c.Currency, &c.SubtotalCents, &c.TaxCents, &c.ShippingCents, &c.TotalCents,
		&receipt, &c.MerchantCheckoutID, &c.MerchantOrderID, &c.ApprovedBy,
		&c.ApprovedAt, &c.ConfirmedAt, &c.FailureReason, &c.IdempotencyKey, &c.ExpiresAt,
		&audit, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, err
	}
	if len(receipt) > 0 {
		c.Receipt = &Receipt{}
		if err := json.Unmarshal(receipt, c.Receipt); err != nil {
			return nil, err
		}
	}
	if len(audit) > 0 {
		if err := json.Unmarshal(audit, &c.Audit); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

var _ Repo = (*PostgresRepo)(nil)
