package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/identity"
	"github.com/Checker-Finance/negotiation/internal/metrics"
	"github.com/Checker-Finance/negotiation/internal/negotiation"
	"github.com/Checker-Finance/negotiation/internal/query"
	"github.com/Checker-Finance/negotiation/internal/rate"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

// Commands are the negotiation mutations exposed over HTTP.
type Commands interface {
	CreateRFQ(ctx context.Context, buyerID string, d negotiation.RFQDraft) (*model.RFQ, error)
	CancelRFQ(ctx context.Context, rfqID, actorID string) (*model.RFQ, error)
	SubmitBid(ctx context.Context, rfqID, vendorID string, t negotiation.BidTerms) (*model.Bid, error)
	FinalizeBid(ctx context.Context, bidID, vendorID string) (*model.Bid, error)
	WithdrawBid(ctx context.Context, bidID, vendorID string) (*model.Bid, error)
	AcceptBid(ctx context.Context, bidID, actorID string) (*model.Bid, error)
	RejectBid(ctx context.Context, bidID, actorID, reason string) (*model.Bid, error)
}

// Queries are the read operations exposed over HTTP.
type Queries interface {
	ActiveRFQPage(ctx context.Context, f negotiation.RFQFilter, cursor string, limit int) (query.RFQPage, error)
	GetRFQ(ctx context.Context, id string) (*model.RFQ, error)
	GetBid(ctx context.Context, id string) (*model.Bid, error)
	VendorBids(ctx context.Context, vendorID string, limit int) ([]*model.Bid, error)
	BidsByPrice(ctx context.Context, rfqID string) ([]*model.Bid, error)
}

const actorKey = "actor"

// Handler serves the negotiation API for the presentation tier.
type Handler struct {
	logger   *zap.Logger
	commands Commands
	queries  Queries
	identity identity.Resolver
	// bidLimiter throttles bid submissions per vendor; nil disables it.
	bidLimiter *rate.Manager
}

// NewHandler wires a Handler. bidLimiter is optional.
func NewHandler(logger *zap.Logger, commands Commands, queries Queries, resolver identity.Resolver, bidLimiter *rate.Manager) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = identity.NewHeaderResolver()
	}
	return &Handler{
		logger:     logger,
		commands:   commands,
		queries:    queries,
		identity:   resolver,
		bidLimiter: bidLimiter,
	}
}

// Authenticate resolves the caller from gateway headers.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	actor, err := h.identity.Resolve(func(k string) string { return utils.CopyString(c.Get(k)) })
	if err != nil {
		status := fiber.StatusBadRequest
		if errors.Is(err, identity.ErrUnauthenticated) {
			status = fiber.StatusUnauthorized
		}
		return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
	}
	c.Locals(actorKey, actor)
	return c.Next()
}

// idParam copies the path id out of the request buffer, which fasthttp reuses.
func idParam(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}

func actorOf(c *fiber.Ctx) identity.Actor {
	a, _ := c.Locals(actorKey).(identity.Actor)
	return a
}

func (h *Handler) requireRole(c *fiber.Ctx, r identity.Role) (identity.Actor, bool) {
	a := actorOf(c)
	if a.ID == "" || !a.Is(r) {
		return a, false
	}
	return a, true
}

func forbidden(c *fiber.Ctx, role identity.Role) error {
	return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
		Error: "only a " + string(role) + " may do this",
		Kind:  string(model.KindAuthorization),
	})
}

// CreateRFQ opens an RFQ on behalf of the calling buyer.
func (h *Handler) CreateRFQ(c *fiber.Ctx) error {
	actor, ok := h.requireRole(c, identity.RoleBuyer)
	if !ok {
		return forbidden(c, identity.RoleBuyer)
	}
	var req CreateRFQRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	if err := req.Validate(); err != nil {
		return h.fail(c, "create_rfq", err)
	}

	rfq, err := h.commands.CreateRFQ(c.UserContext(), actor.ID, req.toDraft())
	if err != nil {
		return h.fail(c, "create_rfq", err)
	}
	return c.Status(fiber.StatusCreated).JSON(rfq)
}

// ListRFQs pages through active RFQs newest first.
func (h *Handler) ListRFQs(c *fiber.Ctx) error {
	f, limit, err := rfqFilterFromQuery(c)
	if err != nil {
		return h.fail(c, "list_rfqs", err)
	}
	page, err := h.queries.ActiveRFQPage(c.UserContext(), f, c.Query("cursor"), limit)
	if err != nil {
		return h.fail(c, "list_rfqs", err)
	}
	return c.JSON(page)
}

func (h *Handler) GetRFQ(c *fiber.Ctx) error {
	rfq, err := h.queries.GetRFQ(c.UserContext(), idParam(c))
	if err != nil {
		return h.fail(c, "get_rfq", err)
	}
	return c.JSON(rfq)
}

// CancelRFQ closes an RFQ; only its buyer may do so.
func (h *Handler) CancelRFQ(c *fiber.Ctx) error {
	rfq, err := h.commands.CancelRFQ(c.UserContext(), idParam(c), actorOf(c).ID)
	if err != nil {
		return h.fail(c, "cancel_rfq", err)
	}
	return c.JSON(rfq)
}

// ListRFQBids returns an RFQ's bids cheapest first.
func (h *Handler) ListRFQBids(c *fiber.Ctx) error {
	bids, err := h.queries.BidsByPrice(c.UserContext(), idParam(c))
	if err != nil {
		return h.fail(c, "list_rfq_bids", err)
	}
	return c.JSON(BidListResponse{Items: bids})
}

// SubmitBid creates or revises the calling vendor's bid on an RFQ.
func (h *Handler) SubmitBid(c *fiber.Ctx) error {
	actor, ok := h.requireRole(c, identity.RoleVendor)
	if !ok {
		return forbidden(c, identity.RoleVendor)
	}
	if h.bidLimiter != nil && !h.bidLimiter.Allow(actor.ID) {
		metrics.IncError("api", "rate_limited")
		h.logger.Warn("api.bid_rate_limited", zap.String("vendor", actor.ID))
		return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
			Error:     "too many bid submissions",
			Retryable: true,
		})
	}

	var req SubmitBidRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	if err := req.Validate(); err != nil {
		return h.fail(c, "submit_bid", err)
	}

	bid, err := h.commands.SubmitBid(c.UserContext(), idParam(c), actor.ID, req.toTerms())
	if err != nil {
		return h.fail(c, "submit_bid", err)
	}
	return c.JSON(bid)
}

func (h *Handler) GetBid(c *fiber.Ctx) error {
	bid, err := h.queries.GetBid(c.UserContext(), idParam(c))
	if err != nil {
		return h.fail(c, "get_bid", err)
	}
	return c.JSON(bid)
}

func (h *Handler) FinalizeBid(c *fiber.Ctx) error {
	bid, err := h.commands.FinalizeBid(c.UserContext(), idParam(c), actorOf(c).ID)
	if err != nil {
		return h.fail(c, "finalize_bid", err)
	}
	return c.JSON(bid)
}

func (h *Handler) WithdrawBid(c *fiber.Ctx) error {
	bid, err := h.commands.WithdrawBid(c.UserContext(), idParam(c), actorOf(c).ID)
	if err != nil {
		return h.fail(c, "withdraw_bid", err)
	}
	return c.JSON(bid)
}

func (h *Handler) AcceptBid(c *fiber.Ctx) error {
	bid, err := h.commands.AcceptBid(c.UserContext(), idParam(c), actorOf(c).ID)
	if err != nil {
		return h.fail(c, "accept_bid", err)
	}
	return c.JSON(bid)
}

func (h *Handler) RejectBid(c *fiber.Ctx) error {
	var req DecisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
		}
	}
	bid, err := h.commands.RejectBid(c.UserContext(), idParam(c), actorOf(c).ID, req.Reason)
	if err != nil {
		return h.fail(c, "reject_bid", err)
	}
	return c.JSON(bid)
}

// MyBids lists the calling vendor's bids newest first.
func (h *Handler) MyBids(c *fiber.Ctx) error {
	limit, err := limitParam(c)
	if err != nil {
		return h.fail(c, "vendor_bids", err)
	}
	bids, err := h.queries.VendorBids(c.UserContext(), actorOf(c).ID, limit)
	if err != nil {
		return h.fail(c, "vendor_bids", err)
	}
	return c.JSON(BidListResponse{Items: bids})
}
