package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/pkg/model"
)

// PGPoolConfig overrides pgxpool defaults when the fields are positive.
type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// PostgresStore persists negotiation records in the negotiation schema.
// WithinRFQ holds a row lock on the RFQ for the whole unit of work and
// re-checks the version on write.
type PostgresStore struct {
	PG     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pool to pgURL.
func NewPostgres(ctx context.Context, pgURL string, poolCfg PGPoolConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresStore{PG: pool, logger: logger}, nil
}

const rfqColumns = `
	id, reference, buyer_id, COALESCE(product_ref, ''), COALESCE(product_name, ''),
	title, COALESCE(description, ''), quantity, COALESCE(unit, ''), target_unit_price,
	currency, COALESCE(delivery_location, ''), delivery_date, COALESCE(category, ''),
	COALESCE(specifications, '{}'), sample_required, COALESCE(certification_required, '{}'),
	COALESCE(payment_terms, ''), status, priority, valid_until, bid_count, response_count,
	version, created_at, updated_at, closed_at`

const bidColumns = `
	id, reference, rfq_id, vendor_id, unit_price, quantity, lead_time_days, validity_days,
	expires_at, status, round, shipping_cost, tax_percent, discount_percent, subtotal,
	tax_amount, discount_amount, total, COALESCE(terms, ''), COALESCE(notes, ''),
	COALESCE(buyer_notes, ''), COALESCE(decision_reason, ''), submitted_at, decided_at,
	created_at, updated_at`

const insertRFQQuery = `
	INSERT INTO negotiation.rfq (
		id, reference, buyer_id, product_ref, product_name, title, description, quantity,
		unit, target_unit_price, currency, delivery_location, delivery_date, category,
		specifications, sample_required, certification_required, payment_terms, status,
		priority, valid_until, bid_count, response_count, version, created_at, updated_at
	)
	VALUES (
		$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), $8,
		NULLIF($9, ''), $10, $11, NULLIF($12, ''), $13, NULLIF($14, ''),
		$15, $16, $17, NULLIF($18, ''), $19,
		$20, $21, $22, $23, 1, $24, $25
	)`

const updateRFQQuery = `
	UPDATE negotiation.rfq
	SET status = $2,
		bid_count = $3,
		response_count = $4,
		category = NULLIF($5, ''),
		updated_at = $6,
		closed_at = $7,
		version = version + 1
	WHERE id = $1 AND version = $8`

const upsertBidQuery = `
	INSERT INTO negotiation.bid (
		id, reference, rfq_id, vendor_id, unit_price, quantity, lead_time_days, validity_days,
		expires_at, status, round, shipping_cost, tax_percent, discount_percent, subtotal,
		tax_amount, discount_amount, total, terms, notes, buyer_notes, decision_reason,
		submitted_at, decided_at, created_at, updated_at
	)
	VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, NULLIF($19, ''), NULLIF($20, ''), NULLIF($21, ''), NULLIF($22, ''),
		$23, $24, $25, $26
	)
	ON CONFLICT (id)
	DO UPDATE SET
		unit_price = EXCLUDED.unit_price,
		quantity = EXCLUDED.quantity,
		lead_time_days = EXCLUDED.lead_time_days,
		validity_days = EXCLUDED.validity_days,
		expires_at = EXCLUDED.expires_at,
		status = EXCLUDED.status,
		round = EXCLUDED.round,
		shipping_cost = EXCLUDED.shipping_cost,
		tax_percent = EXCLUDED.tax_percent,
		discount_percent = EXCLUDED.discount_percent,
		subtotal = EXCLUDED.subtotal,
		tax_amount = EXCLUDED.tax_amount,
		discount_amount = EXCLUDED.discount_amount,
		total = EXCLUDED.total,
		terms = EXCLUDED.terms,
		notes = EXCLUDED.notes,
		buyer_notes = EXCLUDED.buyer_notes,
		decision_reason = EXCLUDED.decision_reason,
		submitted_at = EXCLUDED.submitted_at,
		decided_at = EXCLUDED.decided_at,
		updated_at = EXCLUDED.updated_at`

const dueRFQsQuery = `
	SELECT id, valid_until
	FROM negotiation.rfq
	WHERE status = 'OPEN'
	  AND valid_until <= $1
	ORDER BY valid_until
	LIMIT $2`

const dueBidsQuery = `
	SELECT rfq_id, id, expires_at
	FROM negotiation.bid
	WHERE status IN ('DRAFT', 'SENT')
	  AND expires_at <= $1
	ORDER BY expires_at
	LIMIT $2`

func (s *PostgresStore) CreateRFQ(ctx context.Context, r *model.RFQ) error {
	_, err := s.PG.Exec(ctx, insertRFQQuery,
		r.ID, r.Reference, r.BuyerID, r.ProductRef, r.ProductName, r.Title, r.Description, r.Quantity,
		r.Unit, nullDecimal(r.TargetUnitPrice), r.Currency, r.DeliveryLocation, r.DeliveryDate, r.Category,
		r.Specifications, r.SampleRequired, r.CertificationRequired, r.PaymentTerms, r.Status,
		r.Priority, r.ValidUntil, r.BidCount, r.ResponseCount, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &model.ConflictError{Entity: "rfq_reference", ID: r.Reference}
		}
		s.logger.Error("store.pg.insert_rfq_failed", zap.String("rfq_id", r.ID), zap.Error(err))
		return fmt.Errorf("insert rfq %s: %w", r.ID, err)
	}
	r.Version = 1
	return nil
}

func (s *PostgresStore) GetRFQ(ctx context.Context, id string) (*model.RFQ, error) {
	if !isUUID(id) {
		return nil, &model.NotFoundError{Entity: "rfq", ID: id}
	}
	r, err := scanRFQ(s.PG.QueryRow(ctx, `SELECT `+rfqColumns+` FROM negotiation.rfq WHERE id = $1`, id))
	if isNoRecord(err) {
		return nil, &model.NotFoundError{Entity: "rfq", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("GetRFQ scan failed: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	if !isUUID(id) {
		return nil, &model.NotFoundError{Entity: "bid", ID: id}
	}
	b, err := scanBid(s.PG.QueryRow(ctx, `SELECT `+bidColumns+` FROM negotiation.bid WHERE id = $1`, id))
	if isNoRecord(err) {
		return nil, &model.NotFoundError{Entity: "bid", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("GetBid scan failed: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListRFQs(ctx context.Context, q RFQQuery) ([]*model.RFQ, error) {
	sql, args := buildRFQListQuery(q)
	rows, err := s.PG.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list rfqs: %w", err)
	}
	defer rows.Close()

	var out []*model.RFQ
	for rows.Next() {
		r, err := scanRFQ(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// buildRFQListQuery renders q as a keyset-paginated SELECT.
func buildRFQListQuery(q RFQQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = st.String()
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if q.BuyerID != "" {
		conds = append(conds, "buyer_id = "+arg(q.BuyerID))
	}
	if q.Category != "" {
		conds = append(conds, "category = "+arg(q.Category))
	}
	if q.MinTargetPrice != nil {
		conds = append(conds, "target_unit_price >= "+arg(*q.MinTargetPrice))
	}
	if q.MaxTargetPrice != nil {
		conds = append(conds, "target_unit_price <= "+arg(*q.MaxTargetPrice))
	}
	if q.ActiveAt != nil {
		conds = append(conds, "(valid_until IS NULL OR valid_until > "+arg(*q.ActiveAt)+")")
	}
	if q.After != nil {
		conds = append(conds, "(created_at, id) < ("+arg(q.After.CreatedAt)+", "+arg(q.After.ID)+"::uuid)")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(rfqColumns)
	b.WriteString(" FROM negotiation.rfq")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ")
	b.WriteString(arg(q.limit()))
	return b.String(), args
}

func (s *PostgresStore) ListBidsByRFQ(ctx context.Context, rfqID string) ([]*model.Bid, error) {
	if _, err := s.GetRFQ(ctx, rfqID); err != nil {
		return nil, err
	}
	rows, err := s.PG.Query(ctx,
		`SELECT `+bidColumns+` FROM negotiation.bid WHERE rfq_id = $1 ORDER BY created_at, id`, rfqID)
	if err != nil {
		return nil, fmt.Errorf("list bids for rfq %s: %w", rfqID, err)
	}
	return collectBids(rows)
}

func (s *PostgresStore) ListBidsByVendor(ctx context.Context, vendorID string, limit int) ([]*model.Bid, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.PG.Query(ctx,
		`SELECT `+bidColumns+` FROM negotiation.bid WHERE vendor_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		vendorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bids for vendor %s: %w", vendorID, err)
	}
	return collectBids(rows)
}

func (s *PostgresStore) CountBidsByRFQ(ctx context.Context, rfqIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(rfqIDs))
	if len(rfqIDs) == 0 {
		return counts, nil
	}
	for _, id := range rfqIDs {
		counts[id] = 0
	}
	rows, err := s.PG.Query(ctx, `
		SELECT rfq_id, COUNT(*)
		FROM negotiation.bid
		WHERE rfq_id = ANY($1::uuid[])
		GROUP BY rfq_id`, rfqIDs)
	if err != nil {
		return nil, fmt.Errorf("count bids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) DueRFQs(ctx context.Context, now time.Time, limit int) ([]Deadline, error) {
	rows, err := s.PG.Query(ctx, dueRFQsQuery, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due rfqs: %w", err)
	}
	defer rows.Close()

	var out []Deadline
	for rows.Next() {
		var d Deadline
		if err := rows.Scan(&d.RFQID, &d.At); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DueBids(ctx context.Context, now time.Time, limit int) ([]Deadline, error) {
	rows, err := s.PG.Query(ctx, dueBidsQuery, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due bids: %w", err)
	}
	defer rows.Close()

	var out []Deadline
	for rows.Next() {
		var d Deadline
		if err := rows.Scan(&d.RFQID, &d.BidID, &d.At); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WithinRFQ(ctx context.Context, rfqID string, fn func(*Aggregate) error) (err error) {
	if !isUUID(rfqID) {
		return &model.NotFoundError{Entity: "rfq", ID: rfqID}
	}
	tx, err := s.PG.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rfq %s: %w", rfqID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	r, err := scanRFQ(tx.QueryRow(ctx, `SELECT `+rfqColumns+` FROM negotiation.rfq WHERE id = $1 FOR UPDATE`, rfqID))
	if isNoRecord(err) {
		return &model.NotFoundError{Entity: "rfq", ID: rfqID}
	}
	if err != nil {
		return fmt.Errorf("lock rfq %s: %w", rfqID, err)
	}

	rows, err := tx.Query(ctx, `SELECT `+bidColumns+` FROM negotiation.bid WHERE rfq_id = $1 ORDER BY created_at, id FOR UPDATE`, rfqID)
	if err != nil {
		return fmt.Errorf("lock bids of rfq %s: %w", rfqID, err)
	}
	bids, err := collectBids(rows)
	if err != nil {
		return err
	}

	agg := &Aggregate{RFQ: r, Bids: bids}
	version := r.Version
	if err = fn(agg); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, updateRFQQuery,
		r.ID, agg.RFQ.Status, agg.RFQ.BidCount, agg.RFQ.ResponseCount, agg.RFQ.Category,
		agg.RFQ.UpdatedAt, agg.RFQ.ClosedAt, version)
	if err != nil {
		return fmt.Errorf("update rfq %s: %w", rfqID, err)
	}
	if tag.RowsAffected() == 0 {
		err = &model.ConflictError{Entity: "rfq", ID: rfqID}
		return err
	}

	for _, b := range agg.Bids {
		if _, err = tx.Exec(ctx, upsertBidQuery, bidArgs(b)...); err != nil {
			if isUniqueViolation(err) {
				err = &model.ConflictError{Entity: "bid", ID: b.ID}
				return err
			}
			return fmt.Errorf("upsert bid %s: %w", b.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rfq %s: %w", rfqID, err)
	}
	agg.RFQ.Version = version + 1
	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.PG == nil {
		return fmt.Errorf("postgres not initialized")
	}
	if err := s.PG.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	return nil
}

func bidArgs(b *model.Bid) []any {
	return []any{
		b.ID, b.Reference, b.RFQID, b.VendorID, b.UnitPrice, b.Quantity, b.LeadTimeDays, b.ValidityDays,
		b.ExpiresAt, b.Status, b.Round, b.ShippingCost, b.TaxPercent, b.DiscountPercent, b.Subtotal,
		b.TaxAmount, b.DiscountAmount, b.Total, b.Terms, b.Notes, b.BuyerNotes, b.DecisionReason,
		b.SubmittedAt, b.DecidedAt, b.CreatedAt, b.UpdatedAt,
	}
}

func scanRFQ(row pgx.Row) (*model.RFQ, error) {
	var (
		r      model.RFQ
		target decimal.NullDecimal
	)
	err := row.Scan(
		&r.ID, &r.Reference, &r.BuyerID, &r.ProductRef, &r.ProductName,
		&r.Title, &r.Description, &r.Quantity, &r.Unit, &target,
		&r.Currency, &r.DeliveryLocation, &r.DeliveryDate, &r.Category,
		&r.Specifications, &r.SampleRequired, &r.CertificationRequired,
		&r.PaymentTerms, &r.Status, &r.Priority, &r.ValidUntil, &r.BidCount, &r.ResponseCount,
		&r.Version, &r.CreatedAt, &r.UpdatedAt, &r.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	if target.Valid {
		r.TargetUnitPrice = &target.Decimal
	}
	return &r, nil
}

func scanBid(row pgx.Row) (*model.Bid, error) {
	var b model.Bid
	err := row.Scan(
		&b.ID, &b.Reference, &b.RFQID, &b.VendorID, &b.UnitPrice, &b.Quantity, &b.LeadTimeDays, &b.ValidityDays,
		&b.ExpiresAt, &b.Status, &b.Round, &b.ShippingCost, &b.TaxPercent, &b.DiscountPercent, &b.Subtotal,
		&b.TaxAmount, &b.DiscountAmount, &b.Total, &b.Terms, &b.Notes,
		&b.BuyerNotes, &b.DecisionReason, &b.SubmittedAt, &b.DecidedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBids(rows pgx.Rows) ([]*model.Bid, error) {
	defer rows.Close()
	var out []*model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Ids are UUID columns; anything else cannot name a stored record.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// isNoRecord also treats 22P02 (invalid_text_representation) as a miss.
func isNoRecord(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
