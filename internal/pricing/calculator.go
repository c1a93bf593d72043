package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/negotiation/pkg/model"
)

// Order selects where the discount is applied relative to tax.
type Order string

const (
	// TaxThenDiscount taxes the shipped subtotal, then discounts the taxed amount.
	TaxThenDiscount Order = "tax_then_discount"
	// DiscountThenTax discounts the shipped subtotal, then taxes the discounted amount.
	DiscountThenTax Order = "discount_then_tax"
)

// ParseOrder maps a config value onto an Order.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", TaxThenDiscount:
		return TaxThenDiscount, nil
	case DiscountThenTax:
		return DiscountThenTax, nil
	}
	return "", fmt.Errorf("unknown pricing order %q", s)
}

// Inputs are the quotation figures a total is derived from.
// Nil adjustments count as zero.
type Inputs struct {
	UnitPrice       decimal.Decimal
	Quantity        int64
	ShippingCost    *decimal.Decimal
	TaxPercent      *decimal.Decimal
	DiscountPercent *decimal.Decimal
}

// Breakdown is the itemised result. Only Total is rounded.
type Breakdown struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	WithShipping   decimal.Decimal `json:"with_shipping"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
}

// Calculator derives totals. The zero value uses TaxThenDiscount.
type Calculator struct {
	Order Order
}

// TotalPlaces is the number of fraction digits kept on the final total.
const TotalPlaces = 2

var hundred = decimal.NewFromInt(100)

// ComputeTotal prices with the default order.
func ComputeTotal(in Inputs) (Breakdown, error) {
	return Calculator{}.Compute(in)
}

// Compute validates in and derives the breakdown. Intermediate values keep
// full precision; the total is rounded half-up to TotalPlaces at the end.
func (c Calculator) Compute(in Inputs) (Breakdown, error) {
	if err := validate(in); err != nil {
		return Breakdown{}, err
	}

	shipping := orZero(in.ShippingCost)
	taxPct := orZero(in.TaxPercent)
	discPct := orZero(in.DiscountPercent)

	var b Breakdown
	b.Subtotal = in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity))
	b.WithShipping = b.Subtotal.Add(shipping)

	var total decimal.Decimal
	switch c.Order {
	case DiscountThenTax:
		b.DiscountAmount = b.WithShipping.Mul(discPct).Div(hundred)
		afterDiscount := b.WithShipping.Sub(b.DiscountAmount)
		b.TaxAmount = afterDiscount.Mul(taxPct).Div(hundred)
		total = afterDiscount.Add(b.TaxAmount)
	default:
		b.TaxAmount = b.WithShipping.Mul(taxPct).Div(hundred)
		afterTax := b.WithShipping.Add(b.TaxAmount)
		b.DiscountAmount = afterTax.Mul(discPct).Div(hundred)
		total = afterTax.Sub(b.DiscountAmount)
	}
	// Round is half away from zero; total is never negative here.
	b.Total = total.Round(TotalPlaces)
	return b, nil
}

// Apply recomputes the derived fields of bid from its own inputs.
func (c Calculator) Apply(bid *model.Bid) error {
	b, err := c.Compute(Inputs{
		UnitPrice:       bid.UnitPrice,
		Quantity:        bid.Quantity,
		ShippingCost:    &bid.ShippingCost,
		TaxPercent:      &bid.TaxPercent,
		DiscountPercent: &bid.DiscountPercent,
	})
	if err != nil {
		return err
	}
	bid.Subtotal = b.Subtotal
	bid.TaxAmount = b.TaxAmount
	bid.DiscountAmount = b.DiscountAmount
	bid.Total = b.Total
	return nil
}

func validate(in Inputs) error {
	if in.Quantity <= 0 {
		return &model.ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}
	if in.UnitPrice.IsNegative() {
		return &model.ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}
	if in.ShippingCost != nil && in.ShippingCost.IsNegative() {
		return &model.ValidationError{Field: "shipping_cost", Reason: "must not be negative"}
	}
	if err := percent("tax_percent", in.TaxPercent); err != nil {
		return err
	}
	return percent("discount_percent", in.DiscountPercent)
}

func percent(field string, p *decimal.Decimal) error {
	if p == nil {
		return nil
	}
	if p.IsNegative() || p.GreaterThan(hundred) {
		return &model.ValidationError{Field: field, Reason: "must be between 0 and 100"}
	}
	return nil
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
