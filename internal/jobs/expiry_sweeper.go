package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/clock"
	"github.com/Checker-Finance/negotiation/internal/metrics"
	"github.com/Checker-Finance/negotiation/internal/negotiation"
	"github.com/Checker-Finance/negotiation/internal/store"
)

// DueSource lists records whose deadline has passed. store.Store satisfies it.
type DueSource interface {
	DueRFQs(ctx context.Context, now time.Time, limit int) ([]store.Deadline, error)
	DueBids(ctx context.Context, now time.Time, limit int) ([]store.Deadline, error)
}

// Expirer applies expiry to one RFQ and its bids as a single unit of work.
type Expirer interface {
	ExpireDue(ctx context.Context, rfqID string) (negotiation.ExpiryResult, error)
}

// SweeperConfig bounds each sweep.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	Timeout   time.Duration
}

const (
	DefaultSweepInterval  = 5 * time.Minute
	DefaultSweepBatchSize = 500
	DefaultSweepTimeout   = time.Minute
)

// SweepResult summarises one run.
type SweepResult struct {
	Candidates  int
	RFQsExpired int
	BidsExpired int
	Failed      int
}

// ExpirySweeper periodically moves lapsed RFQs and bids to EXPIRED. Each
// run handles at most BatchSize RFQs and gives up when Timeout elapses; the
// rest wait for the next tick.
type ExpirySweeper struct {
	logger   *zap.Logger
	source   DueSource
	expirer  Expirer
	clock    clock.Clock
	cfg      SweeperConfig
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewExpirySweeper constructs the background job.
func NewExpirySweeper(logger *zap.Logger, source DueSource, expirer Expirer, clk clock.Clock, cfg SweeperConfig) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSweepTimeout
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &ExpirySweeper{
		logger:  logger,
		source:  source,
		expirer: expirer,
		clock:   clk,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is done.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("jobs.expiry_sweeper.started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Duration("timeout", s.cfg.Timeout),
	)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("jobs.expiry_sweeper.stopped", zap.String("reason", "manual stop"))
			return
		case <-ctx.Done():
			s.logger.Info("jobs.expiry_sweeper.stopped", zap.String("reason", "context canceled"))
			return
		}
	}
}

// Stop halts the loop. It is safe to call more than once.
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce performs one bounded sweep. A failure on one RFQ is logged and
// the sweep moves on.
func (s *ExpirySweeper) RunOnce(ctx context.Context) SweepResult {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.SweepDuration, start)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var res SweepResult
	ids, err := s.candidates(runCtx)
	if err != nil {
		metrics.IncError("expiry_sweeper", "candidates")
		s.logger.Error("jobs.expiry_sweeper.candidates_failed", zap.Error(err))
		return res
	}
	res.Candidates = len(ids)

	for i, id := range ids {
		if runCtx.Err() != nil {
			s.logger.Warn("jobs.expiry_sweeper.run_timeout",
				zap.Int("remaining", len(ids)-i),
				zap.Error(runCtx.Err()),
			)
			break
		}
		out, err := s.expirer.ExpireDue(runCtx, id)
		if err != nil {
			res.Failed++
			metrics.IncError("expiry_sweeper", "expire")
			s.logger.Warn("jobs.expiry_sweeper.expire_failed", zap.String("rfq_id", id), zap.Error(err))
			continue
		}
		if out.RFQExpired {
			res.RFQsExpired++
		}
		res.BidsExpired += out.BidsExpired
	}

	metrics.IncExpired("rfq", res.RFQsExpired)
	metrics.IncExpired("bid", res.BidsExpired)
	metrics.SetLastSweep(time.Now())

	s.logger.Info("jobs.expiry_sweeper.sweep_complete",
		zap.Int("candidates", res.Candidates),
		zap.Int("rfqs_expired", res.RFQsExpired),
		zap.Int("bids_expired", res.BidsExpired),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

// candidates returns up to BatchSize distinct RFQ ids with something due,
// due RFQs first.
func (s *ExpirySweeper) candidates(ctx context.Context) ([]string, error) {
	now := s.clock.Now()
	limit := s.cfg.BatchSize

	rfqs, err := s.source.DueRFQs(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, limit)
	ids := make([]string, 0, limit)
	add := func(id string) {
		if _, ok := seen[id]; ok || len(ids) >= limit {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, d := range rfqs {
		add(d.RFQID)
	}
	if len(ids) >= limit {
		return ids, nil
	}

	bids, err := s.source.DueBids(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	for _, d := range bids {
		add(d.RFQID)
	}
	return ids, nil
}
