package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/negotiation/pkg/model"
)

// CreateRFQRequest is the payload a buyer posts to open an RFQ.
type CreateRFQRequest struct {
	ProductRef            string           `json:"product_ref" example:"SKU-100"`
	ProductName           string           `json:"product_name"`
	Title                 string           `json:"title" example:"M8 steel bolts"`
	Description           string           `json:"description"`
	Quantity              int64            `json:"quantity" example:"100"`
	Unit                  string           `json:"unit" example:"box"`
	TargetUnitPrice       *decimal.Decimal `json:"target_unit_price,omitempty" example:"10.00"`
	Currency              string           `json:"currency" example:"USD"`
	DeliveryLocation      string           `json:"delivery_location"`
	DeliveryDate          *time.Time       `json:"delivery_date,omitempty"`
	Category              string           `json:"category"`
	Specifications        []string         `json:"specifications"`
	SampleRequired        bool             `json:"sample_required"`
	CertificationRequired []string         `json:"certification_required"`
	PaymentTerms          string           `json:"payment_terms"`
	Priority              string           `json:"priority" example:"NORMAL"`
	ValidUntil            *time.Time       `json:"valid_until,omitempty"`
}

// SubmitBidRequest carries a vendor's quotation terms. Posting again for the
// same RFQ revises the vendor's live bid.
type SubmitBidRequest struct {
	UnitPrice       *decimal.Decimal `json:"unit_price" example:"10.00"`
	Quantity        int64            `json:"quantity"`
	LeadTimeDays    int              `json:"lead_time_days" example:"14"`
	ValidityDays    int              `json:"validity_days" example:"30"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	ShippingCost    *decimal.Decimal `json:"shipping_cost,omitempty"`
	TaxPercent      *decimal.Decimal `json:"tax_percent,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	Terms           string           `json:"terms"`
	Notes           string           `json:"notes"`
	Draft           bool             `json:"draft"`
}

// DecisionRequest carries an optional reason for a buyer decision.
type DecisionRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// BidListResponse wraps bid listings.
type BidListResponse struct {
	Items []*model.Bid `json:"items"`
}
