package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/negotiation/pkg/model"
)

// Store persists RFQs and their bids. Reads return copies; every mutation of
// an existing RFQ or its bids goes through WithinRFQ.
type Store interface {
	CreateRFQ(ctx context.Context, rfq *model.RFQ) error
	GetRFQ(ctx context.Context, id string) (*model.RFQ, error)
	GetBid(ctx context.Context, id string) (*model.Bid, error)

	ListRFQs(ctx context.Context, q RFQQuery) ([]*model.RFQ, error)
	ListBidsByRFQ(ctx context.Context, rfqID string) ([]*model.Bid, error)
	ListBidsByVendor(ctx context.Context, vendorID string, limit int) ([]*model.Bid, error)
	CountBidsByRFQ(ctx context.Context, rfqIDs []string) (map[string]int, error)

	// DueRFQs returns up to limit OPEN RFQs whose deadline is not after now, oldest deadline first.
	DueRFQs(ctx context.Context, now time.Time, limit int) ([]Deadline, error)
	// DueBids returns up to limit DRAFT/SENT bids whose deadline is not after now, oldest deadline first.
	DueBids(ctx context.Context, now time.Time, limit int) ([]Deadline, error)

	// WithinRFQ runs fn against the RFQ and all of its bids under the RFQ's
	// exclusive lock. If fn returns nil every change is committed together;
	// otherwise nothing is.
	WithinRFQ(ctx context.Context, rfqID string, fn func(*Aggregate) error) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// Aggregate is the unit of locking: one RFQ and its bids.
type Aggregate struct {
	RFQ  *model.RFQ
	Bids []*model.Bid
}

// Bid returns the bid with id, or nil.
func (a *Aggregate) Bid(id string) *model.Bid {
	for _, b := range a.Bids {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// LiveBidOf returns the vendor's non-terminal bid, or nil.
func (a *Aggregate) LiveBidOf(vendorID string) *model.Bid {
	for _, b := range a.Bids {
		if b.VendorID == vendorID && !b.Status.IsTerminal() {
			return b
		}
	}
	return nil
}

// AddBid attaches a new bid to the aggregate.
func (a *Aggregate) AddBid(b *model.Bid) {
	a.Bids = append(a.Bids, b)
}

// Cursor is a keyset position in a newest-first RFQ listing.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// RFQQuery filters RFQ listings. Results are ordered created_at DESC, id DESC.
type RFQQuery struct {
	Statuses       []model.RFQStatus
	BuyerID        string
	Category       string
	MinTargetPrice *decimal.Decimal
	MaxTargetPrice *decimal.Decimal
	// ActiveAt drops RFQs whose deadline is not after this instant.
	ActiveAt *time.Time
	After    *Cursor
	Limit    int
}

// Matches applies the filter to a single record.
func (q RFQQuery) Matches(r *model.RFQ) bool {
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, r.Status) {
		return false
	}
	if q.BuyerID != "" && r.BuyerID != q.BuyerID {
		return false
	}
	if q.Category != "" && r.Category != q.Category {
		return false
	}
	if q.MinTargetPrice != nil || q.MaxTargetPrice != nil {
		if r.TargetUnitPrice == nil {
			return false
		}
		if q.MinTargetPrice != nil && r.TargetUnitPrice.LessThan(*q.MinTargetPrice) {
			return false
		}
		if q.MaxTargetPrice != nil && r.TargetUnitPrice.GreaterThan(*q.MaxTargetPrice) {
			return false
		}
	}
	if q.ActiveAt != nil && r.IsExpired(*q.ActiveAt) {
		return false
	}
	if q.After != nil && !olderThan(r, *q.After) {
		return false
	}
	return true
}

func (q RFQQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultListLimit
	}
	return q.Limit
}

// Deadline identifies a record due for expiry.
type Deadline struct {
	RFQID string
	BidID string
	At    time.Time
}

const DefaultListLimit = 100

func containsStatus(list []model.RFQStatus, s model.RFQStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// olderThan reports whether r sorts after c in newest-first order.
func olderThan(r *model.RFQ, c Cursor) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.ID < c.ID
	}
	return r.CreatedAt.Before(c.CreatedAt)
}
