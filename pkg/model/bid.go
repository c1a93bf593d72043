package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is a vendor quotation against exactly one RFQ. A vendor revises its
// live bid in place; Round counts the revisions.
type Bid struct {
	ID              string          `json:"id"`
	Reference       string          `json:"reference"`
	RFQID           string          `json:"rfq_id"`
	VendorID        string          `json:"vendor_id"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int64           `json:"quantity"`
	LeadTimeDays    int             `json:"lead_time_days"`
	ValidityDays    int             `json:"validity_days"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Status          BidStatus       `json:"status"`
	Round           int             `json:"round"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Total           decimal.Decimal `json:"total"`
	Terms           string          `json:"terms,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	BuyerNotes      string          `json:"buyer_notes,omitempty"`
	DecisionReason  string          `json:"decision_reason,omitempty"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsExpired is true iff now >= ExpiresAt.
func (b *Bid) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// IsActive reports whether the bid is live (draft or sent) and unexpired.
func (b *Bid) IsActive(now time.Time) bool {
	return !b.Status.IsTerminal() && !b.IsExpired(now)
}

// CanBeAccepted reports whether a buyer decision may be taken at now.
func (b *Bid) CanBeAccepted(now time.Time) bool {
	return b.Status == BidSent && !b.IsExpired(now)
}

// TotalAmount is the last derived total. Every mutation of the pricing
// inputs goes through pricing.Apply, which rewrites it.
func (b *Bid) TotalAmount() decimal.Decimal {
	return b.Total
}

// Transition moves the bid to status `to`.
func (b *Bid) Transition(to BidStatus, now time.Time, op string) error {
	if !b.Status.CanTransition(to) {
		return &InvalidStateError{Entity: "bid", ID: b.ID, Status: b.Status.String(), Op: op}
	}
	b.Status = to
	b.UpdatedAt = now
	switch to {
	case BidAccepted, BidRejected:
		t := now
		b.DecidedAt = &t
	}
	return nil
}

// Clone returns a copy safe to hand across the store boundary.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	c := *b
	c.DecidedAt = cloneTime(b.DecidedAt)
	return &c
}
