package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSnapshotInconsistent indicates snapshot totals do not add up.
var ErrSnapshotInconsistent = errors.New("domain: cart snapshot totals inconsistent")

// CartSnapshot is the immutable copy of a cart taken when a payment is initiated.
// It is serialised as JSON on the payment record.
type CartSnapshot struct {
	CartID          string          `json:"cart_id"`
	UserID          string          `json:"user_id"`
	Currency        string          `json:"currency"`
	Items           []SnapshotLine  `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	ShippingCharge  decimal.Decimal `json:"shipping_charge"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  Address         `json:"billing_address"`
	CapturedAt      time.Time       `json:"captured_at"`
}

// SnapshotLine is a frozen cart line.
type SnapshotLine struct {
	ProductID        string          `json:"product_id"`
	VariantID        *string         `json:"variant_id,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	VariantSurcharge decimal.Decimal `json:"variant_surcharge"`
}

// LineTotal is quantity times the unit price plus variant surcharge.
func (l SnapshotLine) LineTotal() decimal.Decimal {
	return RoundMoney(l.UnitPrice.Add(l.VariantSurcharge).Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// StockKey identifies the stock row a line draws from.
func (l SnapshotLine) StockKey() string {
	return StockKey(l.ProductID, l.VariantID)
}

// StockKey builds the product/variant key used for stock bookkeeping.
func StockKey(productID string, variantID *string) string {
	if variantID == nil || *variantID == "" {
		return productID
	}
	return productID + "#" + *variantID
}

// Validate checks line quantities, that total = subtotal + tax + shipping - discount, and that
// the total is positive.
func (s CartSnapshot) Validate() error {
	if len(s.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrSnapshotInconsistent)
	}
	subtotal := decimal.Zero
	for i, line := range s.Items {
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrSnapshotInconsistent, i)
		}
		if line.UnitPrice.IsNegative() || line.VariantSurcharge.IsNegative() {
			return fmt.Errorf("%w: line %d has a negative price", ErrSnapshotInconsistent, i)
		}
		subtotal = subtotal.Add(line.LineTotal())
	}
	if !subtotal.Equal(s.Subtotal) {
		return fmt.Errorf("%w: subtotal %s does not match lines %s", ErrSnapshotInconsistent, s.Subtotal.StringFixed(2), subtotal.StringFixed(2))
	}
	expected := s.Subtotal.Add(s.Tax).Add(s.ShippingCharge).Sub(s.Discount)
	if !expected.Equal(s.Total) {
		return fmt.Errorf("%w: total %s, expected %s", ErrSnapshotInconsistent, s.Total.StringFixed(2), expected.StringFixed(2))
	}
	if !s.Total.IsPositive() {
		return fmt.Errorf("%w: total %s must be positive", ErrSnapshotInconsistent, s.Total.StringFixed(2))
	}
	return nil
}

// Quantities sums requested quantities per stock key.
func (s CartSnapshot) Quantities() map[string]int {
	out := make(map[string]int, len(s.Items))
	for _, line := range s.Items {
		out[line.StockKey()] += line.Quantity
	}
	return out
}
