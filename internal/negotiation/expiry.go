package negotiation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/store"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

// ExpiryResult counts what one ExpireDue call moved to EXPIRED.
type ExpiryResult struct {
	RFQExpired  bool
	BidsExpired int
}

var errNothingDue = errors.New("nothing due")

// ExpireDue expires whatever on rfqID has reached its deadline: the RFQ
// itself, which takes every live bid with it, or individual lapsed bids.
// Records a concurrent operation already closed are left alone.
func (c *Coordinator) ExpireDue(ctx context.Context, rfqID string) (res ExpiryResult, err error) {
	defer c.observe("expire_due", time.Now(), &err)

	var events []model.NegotiationEvent
	err = c.store.WithinRFQ(ctx, rfqID, func(a *store.Aggregate) error {
		res = ExpiryResult{}
		events = nil
		now := c.clock.Now()
		r := a.RFQ

		if r.Status == model.RFQOpen && r.IsExpired(now) {
			if err := r.Transition(model.RFQExpired, now, "expire"); err != nil {
				return err
			}
			res.RFQExpired = true
			events = append(events, model.NewRFQEvent(model.EventRFQExpired, r, now))
		}

		for _, b := range a.Bids {
			if b.Status.IsTerminal() {
				continue
			}
			if !res.RFQExpired && !b.IsExpired(now) {
				continue
			}
			if err := b.Transition(model.BidExpired, now, "expire"); err != nil {
				return err
			}
			res.BidsExpired++
			events = append(events, model.NewBidEvent(model.EventBidExpired, r, b, now))
		}

		if !res.RFQExpired && res.BidsExpired == 0 {
			return errNothingDue
		}
		r.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errNothingDue) {
		return ExpiryResult{}, nil
	}
	if err != nil {
		return ExpiryResult{}, err
	}

	c.logger.Debug("negotiation.expired",
		zap.String("rfq_id", rfqID),
		zap.Bool("rfq_expired", res.RFQExpired),
		zap.Int("bids_expired", res.BidsExpired),
	)
	c.notify(ctx, events...)
	return res, nil
}
