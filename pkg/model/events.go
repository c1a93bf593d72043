package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a negotiation notification. Values double as NATS subject
// suffixes and AMQP routing keys.
type EventType string

const (
	EventRFQCreated   EventType = "rfq.created"
	EventRFQClosed    EventType = "rfq.closed"
	EventRFQFulfilled EventType = "rfq.fulfilled"
	EventRFQExpired   EventType = "rfq.expired"

	EventBidSubmitted EventType = "bid.submitted"
	EventBidRevised   EventType = "bid.revised"
	EventBidFinalized EventType = "bid.finalized"
	EventBidAccepted  EventType = "bid.accepted"
	EventBidRejected  EventType = "bid.rejected"
	EventBidWithdrawn EventType = "bid.withdrawn"
	EventBidCancelled EventType = "bid.cancelled"
	EventBidExpired   EventType = "bid.expired"
)

// NegotiationEvent is the payload fanned out to notification transports.
type NegotiationEvent struct {
	ID           uuid.UUID        `json:"id"`
	Type         EventType        `json:"type"`
	RFQID        string           `json:"rfq_id"`
	RFQReference string           `json:"rfq_reference,omitempty"`
	BidID        string           `json:"bid_id,omitempty"`
	BidReference string           `json:"bid_reference,omitempty"`
	BuyerID      string           `json:"buyer_id,omitempty"`
	VendorID     string           `json:"vendor_id,omitempty"`
	Status       string           `json:"status"`
	Round        int              `json:"round,omitempty"`
	UnitPrice    *decimal.Decimal `json:"unit_price,omitempty"`
	Quantity     int64            `json:"quantity,omitempty"`
	Total        *decimal.Decimal `json:"total,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// NewRFQEvent builds an event describing an RFQ state change.
func NewRFQEvent(t EventType, r *RFQ, at time.Time) NegotiationEvent {
	return NegotiationEvent{
		ID:           uuid.New(),
		Type:         t,
		RFQID:        r.ID,
		RFQReference: r.Reference,
		BuyerID:      r.BuyerID,
		Status:       r.Status.String(),
		Quantity:     r.Quantity,
		Currency:     r.Currency,
		OccurredAt:   at.UTC(),
	}
}

// NewBidEvent builds an event describing a bid state change on r.
func NewBidEvent(t EventType, r *RFQ, b *Bid, at time.Time) NegotiationEvent {
	price := b.UnitPrice
	total := b.Total
	return NegotiationEvent{
		ID:           uuid.New(),
		Type:         t,
		RFQID:        r.ID,
		RFQReference: r.Reference,
		BidID:        b.ID,
		BidReference: b.Reference,
		BuyerID:      r.BuyerID,
		VendorID:     b.VendorID,
		Status:       b.Status.String(),
		Round:        b.Round,
		UnitPrice:    &price,
		Quantity:     b.Quantity,
		Total:        &total,
		Currency:     r.Currency,
		Reason:       b.DecisionReason,
		OccurredAt:   at.UTC(),
	}
}
