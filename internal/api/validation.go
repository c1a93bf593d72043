package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/negotiation/internal/negotiation"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

const maxPageSize = 100

func (r CreateRFQRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return &model.ValidationError{Field: "title", Reason: "is required"}
	}
	if r.Quantity <= 0 {
		return &model.ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}
	if r.Currency != "" && len(r.Currency) != 3 {
		return &model.ValidationError{Field: "currency", Reason: "must be a 3-letter code"}
	}
	return nil
}

func (r SubmitBidRequest) Validate() error {
	if r.UnitPrice == nil {
		return &model.ValidationError{Field: "unit_price", Reason: "is required"}
	}
	if r.Quantity < 0 {
		return &model.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	return nil
}

func (r CreateRFQRequest) toDraft() negotiation.RFQDraft {
	return negotiation.RFQDraft{
		ProductRef:            strings.TrimSpace(r.ProductRef),
		ProductName:           r.ProductName,
		Title:                 strings.TrimSpace(r.Title),
		Description:           r.Description,
		Quantity:              r.Quantity,
		Unit:                  r.Unit,
		TargetUnitPrice:       r.TargetUnitPrice,
		Currency:              strings.ToUpper(r.Currency),
		DeliveryLocation:      r.DeliveryLocation,
		DeliveryDate:          r.DeliveryDate,
		Category:              r.Category,
		Specifications:        r.Specifications,
		SampleRequired:        r.SampleRequired,
		CertificationRequired: r.CertificationRequired,
		PaymentTerms:          r.PaymentTerms,
		Priority:              model.ParsePriority(strings.ToUpper(r.Priority)),
		ValidUntil:            r.ValidUntil,
	}
}

func (r SubmitBidRequest) toTerms() negotiation.BidTerms {
	return negotiation.BidTerms{
		UnitPrice:       *r.UnitPrice,
		Quantity:        r.Quantity,
		LeadTimeDays:    r.LeadTimeDays,
		ValidityDays:    r.ValidityDays,
		ExpiresAt:       r.ExpiresAt,
		ShippingCost:    r.ShippingCost,
		TaxPercent:      r.TaxPercent,
		DiscountPercent: r.DiscountPercent,
		Terms:           r.Terms,
		Notes:           r.Notes,
		Draft:           r.Draft,
	}
}

// rfqFilterFromQuery reads listing filters from the query string.
func rfqFilterFromQuery(c *fiber.Ctx) (negotiation.RFQFilter, int, error) {
	f := negotiation.RFQFilter{
		BuyerID:  c.Query("buyer_id"),
		Category: c.Query("category"),
	}
	var err error
	if f.MinTargetPrice, err = decimalParam(c, "min_target_price"); err != nil {
		return f, 0, err
	}
	if f.MaxTargetPrice, err = decimalParam(c, "max_target_price"); err != nil {
		return f, 0, err
	}
	limit, err := limitParam(c)
	return f, limit, err
}

func decimalParam(c *fiber.Ctx, name string) (*decimal.Decimal, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &model.ValidationError{Field: name, Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	return &d, nil
}

func limitParam(c *fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxPageSize {
		return 0, &model.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", maxPageSize)}
	}
	return n, nil
}
