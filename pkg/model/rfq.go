package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// RFQ is a buyer's request for quotation. It is never deleted; terminal
// records stay for audit.
type RFQ struct {
	ID                    string           `json:"id"`
	Reference             string           `json:"reference"`
	BuyerID               string           `json:"buyer_id"`
	ProductRef            string           `json:"product_ref,omitempty"`
	ProductName           string           `json:"product_name,omitempty"`
	Title                 string           `json:"title"`
	Description           string           `json:"description,omitempty"`
	Quantity              int64            `json:"quantity"`
	Unit                  string           `json:"unit,omitempty"`
	TargetUnitPrice       *decimal.Decimal `json:"target_unit_price,omitempty"`
	Currency              string           `json:"currency"`
	DeliveryLocation      string           `json:"delivery_location,omitempty"`
	DeliveryDate          *time.Time       `json:"delivery_date,omitempty"`
	Category              string           `json:"category,omitempty"`
	Specifications        []string         `json:"specifications,omitempty"`
	SampleRequired        bool             `json:"sample_required"`
	CertificationRequired []string         `json:"certification_required,omitempty"`
	PaymentTerms          string           `json:"payment_terms,omitempty"`
	Status                RFQStatus        `json:"status"`
	Priority              Priority         `json:"priority"`
	ValidUntil            *time.Time       `json:"valid_until,omitempty"`
	BidCount              int              `json:"bid_count"`
	ResponseCount         int              `json:"response_count"`
	Version               int64            `json:"version"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	ClosedAt              *time.Time       `json:"closed_at,omitempty"`
}

// IsExpired reports whether the validity deadline has been reached at now.
// An RFQ without a deadline never expires.
func (r *RFQ) IsExpired(now time.Time) bool {
	return r.ValidUntil != nil && !now.Before(*r.ValidUntil)
}

// IsActive reports whether the RFQ still accepts bids at now.
func (r *RFQ) IsActive(now time.Time) bool {
	return r.Status == RFQOpen && !r.IsExpired(now)
}

// Transition moves the RFQ to status `to`, stamping timestamps.
func (r *RFQ) Transition(to RFQStatus, now time.Time, op string) error {
	if !r.Status.CanTransition(to) {
		return &InvalidStateError{Entity: "rfq", ID: r.ID, Status: r.Status.String(), Op: op}
	}
	r.Status = to
	r.UpdatedAt = now
	if to.IsTerminal() {
		t := now
		r.ClosedAt = &t
	}
	return nil
}

// Validate checks the creation invariants against the creation time.
func (r *RFQ) Validate() error {
	if r.BuyerID == "" {
		return invalid("buyer_id", "is required")
	}
	if r.Title == "" {
		return invalid("title", "is required")
	}
	if r.Quantity <= 0 {
		return invalid("quantity", "must be greater than 0")
	}
	if r.TargetUnitPrice != nil && r.TargetUnitPrice.IsNegative() {
		return invalid("target_unit_price", "must not be negative")
	}
	if r.ValidUntil != nil && r.ValidUntil.Before(r.CreatedAt) {
		return invalid("valid_until", "must not precede creation time")
	}
	return nil
}

// Clone returns a deep copy safe to hand across the store boundary.
func (r *RFQ) Clone() *RFQ {
	if r == nil {
		return nil
	}
	c := *r
	c.Specifications = slices.Clone(r.Specifications)
	c.CertificationRequired = slices.Clone(r.CertificationRequired)
	c.TargetUnitPrice = cloneDecimal(r.TargetUnitPrice)
	c.ValidUntil = cloneTime(r.ValidUntil)
	c.DeliveryDate = cloneTime(r.DeliveryDate)
	c.ClosedAt = cloneTime(r.ClosedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
