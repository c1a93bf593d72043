package negotiation

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/clock"
	"github.com/Checker-Finance/negotiation/internal/metrics"
	"github.com/Checker-Finance/negotiation/internal/pricing"
	"github.com/Checker-Finance/negotiation/internal/store"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

// Coordinator performs every state-changing negotiation operation. Each
// operation runs as one store unit of work on the affected RFQ; events are
// handed to the notifier only after the unit of work commits.
type Coordinator struct {
	store    store.Store
	refs     store.ReferenceGenerator
	notifier Notifier
	catalog  Catalog

	calc         pricing.Calculator
	clock        clock.Clock
	policy       SiblingPolicy
	validityDays int
	refRetries   int

	logger *zap.Logger
}

// New wires a Coordinator. notifier and catalog may be nil.
func New(st store.Store, refs store.ReferenceGenerator, notifier Notifier, catalog Catalog, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Coordinator{
		store:        st,
		refs:         refs,
		notifier:     notifier,
		catalog:      catalog,
		calc:         opts.Calculator,
		clock:        opts.Clock,
		policy:       opts.SiblingPolicy,
		validityDays: opts.DefaultValidityDays,
		refRetries:   opts.ReferenceRetries,
		logger:       logger,
	}
}

// Calculator returns the pricing calculator bids are derived with.
func (c *Coordinator) Calculator() pricing.Calculator { return c.calc }

// Clock returns the coordinator's time source.
func (c *Coordinator) Clock() clock.Clock { return c.clock }

// CreateRFQ opens a new RFQ for buyerID.
func (c *Coordinator) CreateRFQ(ctx context.Context, buyerID string, d RFQDraft) (_ *model.RFQ, err error) {
	defer c.observe("create_rfq", time.Now(), &err)

	now := c.clock.Now()
	r := &model.RFQ{
		ID:                    uuid.NewString(),
		BuyerID:               buyerID,
		ProductRef:            d.ProductRef,
		ProductName:           d.ProductName,
		Title:                 d.Title,
		Description:           d.Description,
		Quantity:              d.Quantity,
		Unit:                  d.Unit,
		TargetUnitPrice:       d.TargetUnitPrice,
		Currency:              d.Currency,
		DeliveryLocation:      d.DeliveryLocation,
		DeliveryDate:          d.DeliveryDate,
		Category:              d.Category,
		Specifications:        slices.Clone(d.Specifications),
		SampleRequired:        d.SampleRequired,
		CertificationRequired: slices.Clone(d.CertificationRequired),
		PaymentTerms:          d.PaymentTerms,
		Status:                model.RFQOpen,
		Priority:              model.ParsePriority(string(d.Priority)),
		ValidUntil:            d.ValidUntil,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if r.Currency == "" {
		r.Currency = defaultCurrency
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	c.resolveProduct(ctx, r)

	for attempt := 0; ; attempt++ {
		ref, refErr := c.refs.Next(ctx, rfqPrefix, now)
		if refErr != nil {
			return nil, fmt.Errorf("create rfq: %w", refErr)
		}
		r.Reference = ref

		createErr := c.store.CreateRFQ(ctx, r)
		if createErr == nil {
			break
		}
		if model.IsRetryable(createErr) && attempt < c.refRetries {
			c.logger.Warn("negotiation.reference_collision", zap.String("reference", ref))
			continue
		}
		return nil, createErr
	}

	c.logger.Info("negotiation.rfq_created",
		zap.String("rfq_id", r.ID),
		zap.String("reference", r.Reference),
		zap.String("buyer_id", r.BuyerID),
	)
	c.notify(ctx, model.NewRFQEvent(model.EventRFQCreated, r, now))
	return r.Clone(), nil
}

// resolveProduct fills product details from the catalog. A failed lookup
// only logs.
func (c *Coordinator) resolveProduct(ctx context.Context, r *model.RFQ) {
	if r.ProductRef == "" || c.catalog == nil {
		return
	}
	p, err := c.catalog.Lookup(ctx, r.ProductRef)
	if err != nil {
		metrics.IncError("negotiation", "catalog_lookup")
		c.logger.Warn("negotiation.catalog_lookup_failed",
			zap.String("product_ref", r.ProductRef),
			zap.Error(err),
		)
		return
	}
	if p == nil {
		return
	}
	if r.ProductName == "" {
		r.ProductName = p.Name
	}
	if r.Category == "" {
		r.Category = p.Category
	}
	if r.Unit == "" {
		r.Unit = p.Unit
	}
}

// SubmitBid creates vendorID's bid on rfqID, or revises the vendor's live
// bid in place.
func (c *Coordinator) SubmitBid(ctx context.Context, rfqID, vendorID string, t BidTerms) (_ *model.Bid, err error) {
	defer c.observe("submit_bid", time.Now(), &err)

	if vendorID == "" {
		return nil, &model.ValidationError{Field: "vendor_id", Reason: "is required"}
	}
	if t.ValidityDays < 0 {
		return nil, &model.ValidationError{Field: "validity_days", Reason: "must not be negative"}
	}
	if t.LeadTimeDays < 0 {
		return nil, &model.ValidationError{Field: "lead_time_days", Reason: "must not be negative"}
	}

	var (
		out    *model.Bid
		events []model.NegotiationEvent
	)
	err = c.store.WithinRFQ(ctx, rfqID, func(a *store.Aggregate) error {
		now := c.clock.Now()
		r := a.RFQ
		if r.BuyerID == vendorID {
			return &model.AuthorizationError{ActorID: vendorID, Entity: "rfq", ID: r.ID}
		}
		if err := requireActiveRFQ(r, now, "submit bid on"); err != nil {
			return err
		}

		evType := model.EventBidRevised
		b := a.LiveBidOf(vendorID)
		if b != nil && b.IsExpired(now) {
			// lapsed but not yet swept; close it and start over
			if err := b.Transition(model.BidExpired, now, "expire"); err != nil {
				return err
			}
			events = append(events, model.NewBidEvent(model.EventBidExpired, r, b, now))
			b = nil
		}

		if b == nil {
			ref, err := c.refs.Next(ctx, bidPrefix, now)
			if err != nil {
				return fmt.Errorf("bid reference: %w", err)
			}
			b = &model.Bid{
				ID:        uuid.NewString(),
				Reference: ref,
				RFQID:     r.ID,
				VendorID:  vendorID,
				Status:    model.BidSent,
				Round:     1,
				CreatedAt: now,
			}
			if t.Draft {
				b.Status = model.BidDraft
			}
			if err := c.applyTerms(b, r, t, now); err != nil {
				return err
			}
			a.AddBid(b)
			r.BidCount++
			evType = model.EventBidSubmitted
		} else {
			switch {
			case b.Status == model.BidSent:
				b.Round++
			case !t.Draft:
				if err := b.Transition(model.BidSent, now, "send"); err != nil {
					return err
				}
			}
			if err := c.applyTerms(b, r, t, now); err != nil {
				return err
			}
		}

		r.ResponseCount++
		r.UpdatedAt = now
		out = b.Clone()
		events = append(events, model.NewBidEvent(evType, r, b, now))
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("negotiation.bid_submitted",
		zap.String("rfq_id", rfqID),
		zap.String("bid_id", out.ID),
		zap.String("vendor_id", vendorID),
		zap.String("status", out.Status.String()),
		zap.Int("round", out.Round),
		zap.String("total", out.Total.StringFixed(pricing.TotalPlaces)),
	)
	c.notify(ctx, events...)
	return out, nil
}

// applyTerms copies the vendor's figures onto b and re-derives its totals.
func (c *Coordinator) applyTerms(b *model.Bid, r *model.RFQ, t BidTerms, now time.Time) error {
	b.UnitPrice = t.UnitPrice
	b.Quantity = t.Quantity
	if b.Quantity == 0 {
		b.Quantity = r.Quantity
	}
	b.LeadTimeDays = t.LeadTimeDays
	b.ValidityDays = t.ValidityDays
	if b.ValidityDays == 0 {
		b.ValidityDays = c.validityDays
	}
	b.ShippingCost = orZero(t.ShippingCost)
	b.TaxPercent = orZero(t.TaxPercent)
	b.DiscountPercent = orZero(t.DiscountPercent)
	b.Terms = t.Terms
	b.Notes = t.Notes

	if t.ExpiresAt != nil {
		if !t.ExpiresAt.After(now) {
			return &model.ValidationError{Field: "expires_at", Reason: "must be in the future"}
		}
		b.ExpiresAt = t.ExpiresAt.UTC()
	} else {
		b.ExpiresAt = now.AddDate(0, 0, b.ValidityDays)
	}
	b.SubmittedAt = now
	b.UpdatedAt = now
	return c.calc.Apply(b)
}

// FinalizeBid sends a vendor's DRAFT bid to the buyer.
func (c *Coordinator) FinalizeBid(ctx context.Context, bidID, vendorID string) (_ *model.Bid, err error) {
	defer c.observe("finalize_bid", time.Now(), &err)

	return c.mutateBid(ctx, bidID, func(a *store.Aggregate, b *model.Bid, now time.Time) ([]model.NegotiationEvent, error) {
		if b.VendorID != vendorID {
			return nil, &model.AuthorizationError{ActorID: vendorID, Entity: "bid", ID: b.ID}
		}
		if b.Status != model.BidDraft {
			return nil, &model.InvalidStateError{Entity: "bid", ID: b.ID, Status: b.Status.String(), Op: "finalize"}
		}
		if b.IsExpired(now) {
			return nil, expiredBid(b, "finalize")
		}
		if err := requireActiveRFQ(a.RFQ, now, "finalize bid on"); err != nil {
			return nil, err
		}
		if err := b.Transition(model.BidSent, now, "finalize"); err != nil {
			return nil, err
		}
		b.SubmittedAt = now
		a.RFQ.UpdatedAt = now
		return []model.NegotiationEvent{model.NewBidEvent(model.EventBidFinalized, a.RFQ, b, now)}, nil
	})
}

// WithdrawBid lets a vendor pull its live bid.
func (c *Coordinator) WithdrawBid(ctx context.Context, bidID, vendorID string) (_ *model.Bid, err error) {
	defer c.observe("withdraw_bid", time.Now(), &err)

	return c.mutateBid(ctx, bidID, func(a *store.Aggregate, b *model.Bid, now time.Time) ([]model.NegotiationEvent, error) {
		if b.VendorID != vendorID {
			return nil, &model.AuthorizationError{ActorID: vendorID, Entity: "bid", ID: b.ID}
		}
		if err := b.Transition(model.BidCancelled, now, "withdraw"); err != nil {
			return nil, err
		}
		a.RFQ.UpdatedAt = now
		return []model.NegotiationEvent{model.NewBidEvent(model.EventBidWithdrawn, a.RFQ, b, now)}, nil
	})
}

// AcceptBid accepts a SENT bid on behalf of the RFQ's buyer. The bid, the
// RFQ and the siblings change together or not at all.
func (c *Coordinator) AcceptBid(ctx context.Context, bidID, actorID string) (_ *model.Bid, err error) {
	defer c.observe("accept_bid", time.Now(), &err)

	out, err := c.mutateBid(ctx, bidID, func(a *store.Aggregate, b *model.Bid, now time.Time) ([]model.NegotiationEvent, error) {
		r := a.RFQ
		if r.BuyerID != actorID {
			return nil, &model.AuthorizationError{ActorID: actorID, Entity: "bid", ID: b.ID}
		}
		if b.Status != model.BidSent {
			return nil, &model.InvalidStateError{Entity: "bid", ID: b.ID, Status: b.Status.String(), Op: "accept"}
		}
		if b.IsExpired(now) {
			return nil, expiredBid(b, "accept")
		}
		if err := requireActiveRFQ(r, now, "accept bid on"); err != nil {
			return nil, err
		}

		if err := b.Transition(model.BidAccepted, now, "accept"); err != nil {
			return nil, err
		}
		if err := r.Transition(model.RFQFulfilled, now, "accept"); err != nil {
			return nil, err
		}
		events := []model.NegotiationEvent{
			model.NewBidEvent(model.EventBidAccepted, r, b, now),
			model.NewRFQEvent(model.EventRFQFulfilled, r, now),
		}
		if c.policy == SiblingsReject {
			events = append(events, closeSiblings(a, b.ID, now)...)
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("negotiation.bid_accepted",
		zap.String("rfq_id", out.RFQID),
		zap.String("bid_id", out.ID),
		zap.String("vendor_id", out.VendorID),
		zap.String("total", out.Total.StringFixed(pricing.TotalPlaces)),
	)
	return out, nil
}

// closeSiblings rejects the other SENT bids and cancels the other drafts.
func closeSiblings(a *store.Aggregate, acceptedID string, now time.Time) []model.NegotiationEvent {
	var events []model.NegotiationEvent
	for _, s := range a.Bids {
		if s.ID == acceptedID || s.Status.IsTerminal() {
			continue
		}
		switch s.Status {
		case model.BidSent:
			_ = s.Transition(model.BidRejected, now, "reject")
			s.DecisionReason = siblingRejectedReason
			events = append(events, model.NewBidEvent(model.EventBidRejected, a.RFQ, s, now))
		case model.BidDraft:
			_ = s.Transition(model.BidCancelled, now, "cancel")
			events = append(events, model.NewBidEvent(model.EventBidCancelled, a.RFQ, s, now))
		}
	}
	return events
}

// RejectBid declines a SENT bid on behalf of the RFQ's buyer. The RFQ stays
// open for other bids.
func (c *Coordinator) RejectBid(ctx context.Context, bidID, actorID, reason string) (_ *model.Bid, err error) {
	defer c.observe("reject_bid", time.Now(), &err)

	return c.mutateBid(ctx, bidID, func(a *store.Aggregate, b *model.Bid, now time.Time) ([]model.NegotiationEvent, error) {
		if a.RFQ.BuyerID != actorID {
			return nil, &model.AuthorizationError{ActorID: actorID, Entity: "bid", ID: b.ID}
		}
		if b.Status != model.BidSent {
			return nil, &model.InvalidStateError{Entity: "bid", ID: b.ID, Status: b.Status.String(), Op: "reject"}
		}
		if b.IsExpired(now) {
			return nil, expiredBid(b, "reject")
		}
		if err := b.Transition(model.BidRejected, now, "reject"); err != nil {
			return nil, err
		}
		b.DecisionReason = reason
		a.RFQ.UpdatedAt = now
		return []model.NegotiationEvent{model.NewBidEvent(model.EventBidRejected, a.RFQ, b, now)}, nil
	})
}

// CancelRFQ closes an open RFQ on behalf of its buyer and cancels every
// live bid on it.
func (c *Coordinator) CancelRFQ(ctx context.Context, rfqID, actorID string) (_ *model.RFQ, err error) {
	defer c.observe("cancel_rfq", time.Now(), &err)

	var (
		out    *model.RFQ
		events []model.NegotiationEvent
	)
	err = c.store.WithinRFQ(ctx, rfqID, func(a *store.Aggregate) error {
		now := c.clock.Now()
		r := a.RFQ
		if r.BuyerID != actorID {
			return &model.AuthorizationError{ActorID: actorID, Entity: "rfq", ID: r.ID}
		}
		if err := r.Transition(model.RFQClosed, now, "cancel"); err != nil {
			return err
		}
		for _, b := range a.Bids {
			if b.Status.IsTerminal() {
				continue
			}
			if err := b.Transition(model.BidCancelled, now, "cancel"); err != nil {
				return err
			}
			events = append(events, model.NewBidEvent(model.EventBidCancelled, r, b, now))
		}
		events = append([]model.NegotiationEvent{model.NewRFQEvent(model.EventRFQClosed, r, now)}, events...)
		out = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("negotiation.rfq_cancelled",
		zap.String("rfq_id", out.ID),
		zap.Int("bids_cancelled", len(events)-1),
	)
	c.notify(ctx, events...)
	return out, nil
}

// ListActiveRFQs yields OPEN, unexpired RFQs newest first. Every range
// starts a fresh walk against the clock reading taken when it begins.
func (c *Coordinator) ListActiveRFQs(ctx context.Context, f RFQFilter) iter.Seq2[model.RFQ, error] {
	return func(yield func(model.RFQ, error) bool) {
		now := c.clock.Now()
		q := store.RFQQuery{
			Statuses:       []model.RFQStatus{model.RFQOpen},
			BuyerID:        f.BuyerID,
			Category:       f.Category,
			MinTargetPrice: f.MinTargetPrice,
			MaxTargetPrice: f.MaxTargetPrice,
			ActiveAt:       &now,
			Limit:          f.PageSize,
		}
		for r, err := range store.ScanRFQs(ctx, c.store, q) {
			if !yield(r, err) {
				return
			}
		}
	}
}

// mutateBid locates the bid's RFQ and runs fn on the bid inside that RFQ's
// unit of work. Events returned by fn are published after commit.
func (c *Coordinator) mutateBid(
	ctx context.Context,
	bidID string,
	fn func(a *store.Aggregate, b *model.Bid, now time.Time) ([]model.NegotiationEvent, error),
) (*model.Bid, error) {
	current, err := c.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var (
		out    *model.Bid
		events []model.NegotiationEvent
	)
	err = c.store.WithinRFQ(ctx, current.RFQID, func(a *store.Aggregate) error {
		b := a.Bid(bidID)
		if b == nil {
			return &model.NotFoundError{Entity: "bid", ID: bidID}
		}
		evs, err := fn(a, b, c.clock.Now())
		if err != nil {
			return err
		}
		events = evs
		out = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.notify(ctx, events...)
	return out, nil
}

func (c *Coordinator) notify(ctx context.Context, events ...model.NegotiationEvent) {
	if c.notifier == nil {
		return
	}
	for _, ev := range events {
		c.notifier.Notify(ctx, ev)
	}
}

func (c *Coordinator) observe(op string, start time.Time, errp *error) {
	metrics.ObserveDuration(metrics.OperationDuration, start, op)
	result := "ok"
	if err := *errp; err != nil {
		result = string(model.KindOf(err))
		if model.KindOf(err) == model.KindInternal {
			c.logger.Error("negotiation.operation_failed", zap.String("operation", op), zap.Error(err))
		} else {
			c.logger.Debug("negotiation.operation_refused", zap.String("operation", op), zap.Error(err))
		}
	}
	metrics.IncOperation(op, result)
}

func requireActiveRFQ(r *model.RFQ, now time.Time, op string) error {
	if r.Status != model.RFQOpen {
		return &model.InvalidStateError{Entity: "rfq", ID: r.ID, Status: r.Status.String(), Op: op}
	}
	if r.IsExpired(now) {
		return &model.InvalidStateError{Entity: "rfq", ID: r.ID, Status: model.RFQExpired.String(), Op: op}
	}
	return nil
}

func expiredBid(b *model.Bid, op string) error {
	return &model.InvalidStateError{Entity: "bid", ID: b.ID, Status: model.BidExpired.String(), Op: op}
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
