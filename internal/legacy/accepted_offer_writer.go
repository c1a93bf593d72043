package legacy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/metrics"
	"github.com/Checker-Finance/negotiation/pkg/eventbus"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

// Executor is the subset of pgxpool.Pool the writer needs.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AcceptedOfferWriter hands accepted bids to the downstream order system by
// writing them into the legacy activity.t_order intake table.
type AcceptedOfferWriter struct {
	db     Executor
	logger *zap.Logger
	source string
}

// NewAcceptedOfferWriter constructs a writer for activity.t_order.
// source identifies the writing service in s_source.
func NewAcceptedOfferWriter(db Executor, logger *zap.Logger, source string) *AcceptedOfferWriter {
	return &AcceptedOfferWriter{
		db:     db,
		logger: logger,
		source: source,
	}
}

// Subscribe registers the writer for bid.accepted events.
func (w *AcceptedOfferWriter) Subscribe(bus *eventbus.Bus[model.NegotiationEvent]) {
	bus.Subscribe(string(model.EventBidAccepted), func(ctx context.Context, ev model.NegotiationEvent) {
		if err := w.UpsertAcceptedOffer(ctx, ev); err != nil {
			metrics.IncError("legacy", "accepted_offer_sync")
		}
	})
}

const upsertOrderQuery = `
	INSERT INTO activity.t_order (
		s_id_order,
		dec_price,
		dec_quantity,
		dec_total,
		s_currency,
		s_side,
		s_status,
		s_type,
		s_id_client,
		dt_order,
		s_id_rfq,
		s_provider,
		s_source,
		s_source_type,
		s_id_order_external,
		s_id_rfq_external
	)
	VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14, $15, $16
	)
	ON CONFLICT (s_id_order)
	DO UPDATE SET
		dec_price = EXCLUDED.dec_price,
		dec_quantity = EXCLUDED.dec_quantity,
		dec_total = EXCLUDED.dec_total,
		dt_order = EXCLUDED.dt_order,
		s_provider = EXCLUDED.s_provider,
		s_source = EXCLUDED.s_source,
		s_id_order_external = EXCLUDED.s_id_order_external,
		s_id_rfq_external = EXCLUDED.s_id_rfq_external;
`

// UpsertAcceptedOffer writes one accepted bid. Replays of the same event
// update the existing row.
func (w *AcceptedOfferWriter) UpsertAcceptedOffer(ctx context.Context, ev model.NegotiationEvent) error {
	if ev.Type != model.EventBidAccepted || ev.BidID == "" {
		return nil
	}
	if ev.UnitPrice == nil || ev.Total == nil {
		w.logger.Error("legacy.accepted_offer_unpriced",
			zap.String("bid_id", ev.BidID),
			zap.String("rfq_id", ev.RFQID))
		return fmt.Errorf("accepted bid %s carries no price", ev.BidID)
	}

	_, err := w.db.Exec(ctx, upsertOrderQuery,
		ev.BidID,        // s_id_order
		*ev.UnitPrice,   // dec_price
		ev.Quantity,     // dec_quantity
		*ev.Total,       // dec_total
		ev.Currency,     // s_currency
		"BUY",           // s_side
		"PENDING",       // s_status
		"RFQ_AWARD",     // s_type
		ev.BuyerID,      // s_id_client
		ev.OccurredAt,   // dt_order
		ev.RFQID,        // s_id_rfq
		ev.VendorID,     // s_provider
		w.source,        // s_source
		"automated",     // s_source_type
		ev.BidReference, // s_id_order_external
		ev.RFQReference, // s_id_rfq_external
	)
	if err != nil {
		w.logger.Error("legacy.accepted_offer_sync_failed",
			zap.String("bid_id", ev.BidID),
			zap.String("buyer_id", ev.BuyerID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Info("legacy.accepted_offer_upsert",
		zap.String("bid_id", ev.BidID),
		zap.String("rfq_id", ev.RFQID),
		zap.String("buyer_id", ev.BuyerID),
		zap.String("vendor_id", ev.VendorID),
		zap.Time("accepted_at", ev.OccurredAt),
	)
	return nil
}
