package negotiation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/negotiation/internal/clock"
	"github.com/Checker-Finance/negotiation/internal/pricing"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

// Notifier receives committed state changes. Notify must not block the
// caller; delivery failures are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, ev model.NegotiationEvent)
}

// Catalog resolves product references on RFQ creation.
type Catalog interface {
	Lookup(ctx context.Context, productRef string) (*model.Product, error)
}

// SiblingPolicy decides what happens to the other live bids on an RFQ when
// one bid is accepted.
type SiblingPolicy string

const (
	// SiblingsReject rejects sibling SENT bids and cancels sibling drafts.
	SiblingsReject SiblingPolicy = "reject"
	// SiblingsExpire leaves siblings untouched for the expiry sweeper.
	SiblingsExpire SiblingPolicy = "expire"
)

// ParseSiblingPolicy maps a config value onto a SiblingPolicy.
func ParseSiblingPolicy(s string) (SiblingPolicy, error) {
	switch SiblingPolicy(s) {
	case "", SiblingsReject:
		return SiblingsReject, nil
	case SiblingsExpire:
		return SiblingsExpire, nil
	}
	return "", fmt.Errorf("unknown sibling policy %q", s)
}

const (
	DefaultValidityDays     = 30
	defaultReferenceRetries = 3
	defaultCurrency         = "USD"

	rfqPrefix = "RFQ"
	bidPrefix = "QT"

	siblingRejectedReason = "another bid was accepted"
)

// Options tune a Coordinator. Zero values pick the defaults.
type Options struct {
	SiblingPolicy       SiblingPolicy
	DefaultValidityDays int
	Calculator          pricing.Calculator
	Clock               clock.Clock
	// ReferenceRetries bounds retries when a generated reference collides.
	ReferenceRetries int
}

func (o Options) withDefaults() Options {
	if o.SiblingPolicy == "" {
		o.SiblingPolicy = SiblingsReject
	}
	if o.DefaultValidityDays <= 0 {
		o.DefaultValidityDays = DefaultValidityDays
	}
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	if o.ReferenceRetries <= 0 {
		o.ReferenceRetries = defaultReferenceRetries
	}
	return o
}

// RFQDraft is what a buyer supplies to open an RFQ.
type RFQDraft struct {
	ProductRef            string
	ProductName           string
	Title                 string
	Description           string
	Quantity              int64
	Unit                  string
	TargetUnitPrice       *decimal.Decimal
	Currency              string
	DeliveryLocation      string
	DeliveryDate          *time.Time
	Category              string
	Specifications        []string
	SampleRequired        bool
	CertificationRequired []string
	PaymentTerms          string
	Priority              model.Priority
	ValidUntil            *time.Time
}

// BidTerms is what a vendor supplies when submitting or revising a bid.
type BidTerms struct {
	UnitPrice decimal.Decimal
	// Quantity defaults to the RFQ quantity when zero.
	Quantity     int64
	LeadTimeDays int
	// ValidityDays defaults to Options.DefaultValidityDays when zero.
	ValidityDays int
	// ExpiresAt overrides ValidityDays; it must lie in the future.
	ExpiresAt       *time.Time
	ShippingCost    *decimal.Decimal
	TaxPercent      *decimal.Decimal
	DiscountPercent *decimal.Decimal
	Terms           string
	Notes           string
	// Draft keeps a new bid in DRAFT. It has no effect on a SENT bid.
	Draft bool
}

// RFQFilter narrows ListActiveRFQs.
type RFQFilter struct {
	BuyerID        string
	Category       string
	MinTargetPrice *decimal.Decimal
	MaxTargetPrice *decimal.Decimal
	// PageSize is the store page size used while iterating.
	PageSize int
}
