package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func TestBid_ExpiryBoundary(t *testing.T) {
	b := &Bid{Status: BidSent, ExpiresAt: now}

	assert.False(t, b.IsExpired(now.Add(-time.Nanosecond)))
	assert.True(t, b.IsExpired(now), "deadline instant counts as expired")
	assert.True(t, b.CanBeAccepted(now.Add(-time.Second)))
	assert.False(t, b.CanBeAccepted(now))

	b.Status = BidDraft
	assert.True(t, b.IsActive(now.Add(-time.Second)))
	assert.False(t, b.CanBeAccepted(now.Add(-time.Second)))
}

func TestBid_Transition(t *testing.T) {
	b := &Bid{ID: "b1", Status: BidSent}

	require.NoError(t, b.Transition(BidAccepted, now, "accept"))
	assert.Equal(t, BidAccepted, b.Status)
	require.NotNil(t, b.DecidedAt)
	assert.Equal(t, now, *b.DecidedAt)

	err := b.Transition(BidRejected, now, "reject")
	var se *InvalidStateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ACCEPTED", se.Status)
	assert.Equal(t, "reject", se.Op)
}

func TestRFQ_ExpiryAndActive(t *testing.T) {
	r := &RFQ{Status: RFQOpen}
	assert.False(t, r.IsExpired(now), "no deadline never expires")

	deadline := now.Add(time.Hour)
	r.ValidUntil = &deadline
	assert.True(t, r.IsActive(now))
	assert.True(t, r.IsExpired(deadline))
	assert.False(t, r.IsActive(deadline))

	r.Status = RFQClosed
	assert.False(t, r.IsActive(now))
}

func TestRFQ_TransitionStampsClosedAt(t *testing.T) {
	r := &RFQ{ID: "r1", Status: RFQOpen}
	require.NoError(t, r.Transition(RFQFulfilled, now, "accept"))
	require.NotNil(t, r.ClosedAt)
	assert.Equal(t, now, r.UpdatedAt)

	err := r.Transition(RFQClosed, now, "cancel")
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestRFQ_Validate(t *testing.T) {
	neg := decimal.NewFromInt(-1)
	past := now.Add(-time.Minute)
	base := func() *RFQ {
		return &RFQ{BuyerID: "buyer", Title: "bolts", Quantity: 10, CreatedAt: now}
	}

	tests := []struct {
		name  string
		mut   func(*RFQ)
		field string
	}{
		{"missing buyer", func(r *RFQ) { r.BuyerID = "" }, "buyer_id"},
		{"missing title", func(r *RFQ) { r.Title = "" }, "title"},
		{"zero quantity", func(r *RFQ) { r.Quantity = 0 }, "quantity"},
		{"negative target", func(r *RFQ) { r.TargetUnitPrice = &neg }, "target_unit_price"},
		{"deadline in past", func(r *RFQ) { r.ValidUntil = &past }, "valid_until"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mut(r)
			var ve *ValidationError
			require.ErrorAs(t, r.Validate(), &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.NoError(t, base().Validate())
}

func TestRFQ_CloneIsDeep(t *testing.T) {
	price := decimal.NewFromInt(5)
	deadline := now.Add(time.Hour)
	r := &RFQ{Specifications: []string{"iso"}, TargetUnitPrice: &price, ValidUntil: &deadline}

	c := r.Clone()
	c.Specifications[0] = "changed"
	*c.ValidUntil = now
	*c.TargetUnitPrice = decimal.Zero

	assert.Equal(t, "iso", r.Specifications[0])
	assert.Equal(t, deadline, *r.ValidUntil)
	assert.True(t, r.TargetUnitPrice.Equal(price))
	assert.Nil(t, (*RFQ)(nil).Clone())
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("accept: %w", &ConflictError{Entity: "rfq", ID: "r1"})

	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindValidation, KindOf(&ValidationError{Field: "x"}))
	assert.Equal(t, KindNotFound, KindOf(&NotFoundError{Entity: "bid"}))
	assert.Equal(t, KindAuthorization, KindOf(&AuthorizationError{}))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("db down")))

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(&InvalidStateError{}))
}

func TestNewBidEvent(t *testing.T) {
	r := &RFQ{ID: "r1", Reference: "RFQ-20261015-000001", BuyerID: "buyer", Currency: "USD"}
	b := &Bid{ID: "b1", VendorID: "vendor", Status: BidAccepted, Round: 2,
		UnitPrice: decimal.RequireFromString("9.5"), Total: decimal.RequireFromString("1121.00")}

	ev := NewBidEvent(EventBidAccepted, r, b, now)
	assert.Equal(t, EventBidAccepted, ev.Type)
	assert.Equal(t, "ACCEPTED", ev.Status)
	assert.Equal(t, "buyer", ev.BuyerID)
	assert.Equal(t, "1121", ev.Total.String())
	assert.NotEqual(t, [16]byte{}, [16]byte(ev.ID))
}
