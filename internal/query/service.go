package query

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/negotiation"
	"github.com/Checker-Finance/negotiation/internal/pricing"
	"github.com/Checker-Finance/negotiation/internal/store"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

// Service is the read side. Every bid it returns has its totals derived
// again from its inputs, so a listing can never disagree with the
// coordinator's arithmetic.
type Service struct {
	store  store.Store
	coord  *negotiation.Coordinator
	calc   pricing.Calculator
	logger *zap.Logger
}

// New builds a Service that prices with the coordinator's calculator.
func New(st store.Store, coord *negotiation.Coordinator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		coord:  coord,
		calc:   coord.Calculator(),
		logger: logger,
	}
}

// RFQPage is one page of a newest-first RFQ listing.
type RFQPage struct {
	Items      []model.RFQ `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// ActiveRFQs streams every active RFQ matching f.
func (s *Service) ActiveRFQs(ctx context.Context, f negotiation.RFQFilter) iter.Seq2[model.RFQ, error] {
	return s.coord.ListActiveRFQs(ctx, f)
}

// ActiveRFQPage returns at most limit active RFQs after cursor.
func (s *Service) ActiveRFQPage(ctx context.Context, f negotiation.RFQFilter, cursor string, limit int) (RFQPage, error) {
	if limit <= 0 || limit > store.DefaultListLimit {
		limit = store.DefaultListLimit
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return RFQPage{}, err
	}
	now := s.coord.Clock().Now()
	rfqs, err := s.store.ListRFQs(ctx, store.RFQQuery{
		Statuses:       []model.RFQStatus{model.RFQOpen},
		BuyerID:        f.BuyerID,
		Category:       f.Category,
		MinTargetPrice: f.MinTargetPrice,
		MaxTargetPrice: f.MaxTargetPrice,
		ActiveAt:       &now,
		After:          after,
		Limit:          limit,
	})
	if err != nil {
		return RFQPage{}, fmt.Errorf("list active rfqs: %w", err)
	}

	page := RFQPage{Items: make([]model.RFQ, 0, len(rfqs))}
	for _, r := range rfqs {
		page.Items = append(page.Items, *r)
	}
	if len(rfqs) == limit {
		last := rfqs[len(rfqs)-1]
		page.NextCursor = EncodeCursor(store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// GetRFQ returns one RFQ.
func (s *Service) GetRFQ(ctx context.Context, id string) (*model.RFQ, error) {
	return s.store.GetRFQ(ctx, id)
}

// GetBid returns one bid with fresh totals.
func (s *Service) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	b, err := s.store.GetBid(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.reprice(b); err != nil {
		return nil, err
	}
	return b, nil
}

// VendorBids is a vendor's bid history, newest first.
func (s *Service) VendorBids(ctx context.Context, vendorID string, limit int) ([]*model.Bid, error) {
	if vendorID == "" {
		return nil, &model.ValidationError{Field: "vendor_id", Reason: "is required"}
	}
	bids, err := s.store.ListBidsByVendor(ctx, vendorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list vendor bids: %w", err)
	}
	return bids, s.repriceAll(bids)
}

// BidsByPrice lists an RFQ's bids cheapest first. Ties go to the earlier
// submission, then to the lower id.
func (s *Service) BidsByPrice(ctx context.Context, rfqID string) ([]*model.Bid, error) {
	bids, err := s.store.ListBidsByRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if err := s.repriceAll(bids); err != nil {
		return nil, err
	}
	sort.SliceStable(bids, func(i, j int) bool {
		a, b := bids[i], bids[j]
		if c := a.UnitPrice.Cmp(b.UnitPrice); c != 0 {
			return c < 0
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})
	return bids, nil
}

// BidCounts returns the number of bid records per RFQ id.
func (s *Service) BidCounts(ctx context.Context, rfqIDs []string) (map[string]int, error) {
	if len(rfqIDs) == 0 {
		return map[string]int{}, nil
	}
	return s.store.CountBidsByRFQ(ctx, rfqIDs)
}

func (s *Service) repriceAll(bids []*model.Bid) error {
	for _, b := range bids {
		if err := s.reprice(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reprice(b *model.Bid) error {
	if err := s.calc.Apply(b); err != nil {
		s.logger.Error("query.reprice_failed", zap.String("bid_id", b.ID), zap.Error(err))
		return fmt.Errorf("reprice bid %s: %w", b.ID, err)
	}
	return nil
}

// EncodeCursor renders c as an opaque token.
func EncodeCursor(c store.Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token from EncodeCursor. An empty token means the
// first page.
func DecodeCursor(token string) (*store.Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, &model.ValidationError{Field: "cursor", Reason: "malformed"}
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, &model.ValidationError{Field: "cursor", Reason: "malformed"}
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, &model.ValidationError{Field: "cursor", Reason: "malformed"}
	}
	return &store.Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}
