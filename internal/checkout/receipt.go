package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ReceiptTTL is how long a frozen receipt stays valid. The window is
// deliberately short: approval is meant to happen while the price quote
// is still fresh.
const ReceiptTTL = 15 * time.Minute

type ReceiptItem struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// Receipt is the immutable snapshot of priced items taken when approval is
// requested. Its hash is what confirm compares against current merchant
// pricing; any drift means the purchase must be re-approved.
type Receipt struct {
	Items         []ReceiptItem `json:"items"`
	SubtotalCents int64         `json:"subtotal_cents"`
	TaxCents      int64         `json:"tax_cents"`
	ShippingCents int64         `json:"shipping_cents"`
	TotalCents    int64         `json:"total_cents"`
	Currency      string        `json:"currency"`
	Hash          string        `json:"hash"`
	FrozenAt      time.Time     `json:"frozen_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

func (r *Receipt) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r *Receipt) clone() *Receipt {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Items = append([]ReceiptItem(nil), r.Items...)
	return &cp
}

// freezeReceipt snapshots the checkout's current pricing. Items are sorted
// by (product, variant) so the hash is stable regardless of input order.
func freezeReceipt(items []Item, subtotal, tax, shipping, total int64, currency string, now time.Time) *Receipt {
	snap := make([]ReceiptItem, 0, len(items))
	for _, it := range items {
		snap = append(snap, ReceiptItem{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: it.UnitPriceCents * int64(it.Quantity),
		})
	}
	sortReceiptItems(snap)
	return &Receipt{
		Items:         snap,
		SubtotalCents: subtotal,
		TaxCents:      tax,
		ShippingCents: shipping,
		TotalCents:    total,
		Currency:      currency,
		Hash:          ReceiptHash(total, currency, snap),
		FrozenAt:      now,
		ExpiresAt:     now.Add(ReceiptTTL),
	}
}

func sortReceiptItems(items []ReceiptItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProductID != items[j].ProductID {
			return items[i].ProductID < items[j].ProductID
		}
		return items[i].VariantID < items[j].VariantID
	})
}

// ReceiptHash computes the 16-hex-char content hash over the total,
// currency and each priced line, in the fixed
// "total|CUR|product:variant:qty:price|..." layout.
func ReceiptHash(totalCents int64, currency string, items []ReceiptItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s:%s:%d:%d",
			it.ProductID, it.VariantID, it.Quantity, it.UnitPriceCents))
	}
	input := fmt.Sprintf("%d|%s|%s", totalCents, currency, strings.Join(parts, "|"))
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// HashQuote computes the receipt hash a given set of priced items would
// freeze to, without freezing anything. Confirm uses this to compare the
// merchant's current pricing against the stored receipt.
func HashQuote(items []Item, totalCents int64, currency string) string {
	snap := make([]ReceiptItem, 0, len(items))
	for _, it := range items {
		snap = append(snap, ReceiptItem{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	sortReceiptItems(snap)
	return ReceiptHash(totalCents, currency, snap)
}
