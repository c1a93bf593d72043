package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/pkg/model"
)

// MemoryStore is an in-process Store. Each RFQ has its own lock so
// operations on different RFQs never wait on each other beyond the brief
// map access.
type MemoryStore struct {
	mu           sync.RWMutex
	rfqs         map[string]*model.RFQ
	bids         map[string]*model.Bid
	bidsByRFQ    map[string][]string
	bidsByVendor map[string][]string
	references   map[string]string

	// live deadlines only; terminal records leave these indexes
	rfqDue map[string]time.Time
	bidDue map[string]Deadline

	locksMu sync.Mutex
	locks   map[string]*rfqLock

	logger *zap.Logger
}

// NewMemory constructs an empty in-memory store.
func NewMemory(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		rfqs:         make(map[string]*model.RFQ),
		bids:         make(map[string]*model.Bid),
		bidsByRFQ:    make(map[string][]string),
		bidsByVendor: make(map[string][]string),
		references:   make(map[string]string),
		rfqDue:       make(map[string]time.Time),
		bidDue:       make(map[string]Deadline),
		locks:        make(map[string]*rfqLock),
		logger:       logger,
	}
}

func (s *MemoryStore) CreateRFQ(ctx context.Context, rfq *model.RFQ) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rfqs[rfq.ID]; ok {
		return &model.ConflictError{Entity: "rfq", ID: rfq.ID}
	}
	if _, ok := s.references[rfq.Reference]; ok {
		return &model.ConflictError{Entity: "rfq_reference", ID: rfq.Reference}
	}
	c := rfq.Clone()
	c.Version = 1
	rfq.Version = 1
	s.rfqs[c.ID] = c
	s.references[c.Reference] = c.ID
	s.indexRFQ(c)
	return nil
}

func (s *MemoryStore) GetRFQ(_ context.Context, id string) (*model.RFQ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rfqs[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "rfq", ID: id}
	}
	return r.Clone(), nil
}

func (s *MemoryStore) GetBid(_ context.Context, id string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bids[id]
	if !ok {
		return nil, &model.NotFoundError{Entity: "bid", ID: id}
	}
	return b.Clone(), nil
}

func (s *MemoryStore) ListRFQs(_ context.Context, q RFQQuery) ([]*model.RFQ, error) {
	s.mu.RLock()
	var out []*model.RFQ
	for _, r := range s.rfqs {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if lim := q.limit(); len(out) > lim {
		out = out[:lim]
	}
	return out, nil
}

func (s *MemoryStore) ListBidsByRFQ(_ context.Context, rfqID string) ([]*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rfqs[rfqID]; !ok {
		return nil, &model.NotFoundError{Entity: "rfq", ID: rfqID}
	}
	ids := s.bidsByRFQ[rfqID]
	out := make([]*model.Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.bids[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) ListBidsByVendor(_ context.Context, vendorID string, limit int) ([]*model.Bid, error) {
	s.mu.RLock()
	ids := s.bidsByVendor[vendorID]
	out := make([]*model.Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.bids[id].Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountBidsByRFQ(_ context.Context, rfqIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(rfqIDs))
	for _, id := range rfqIDs {
		counts[id] = len(s.bidsByRFQ[id])
	}
	return counts, nil
}

func (s *MemoryStore) DueRFQs(_ context.Context, now time.Time, limit int) ([]Deadline, error) {
	s.mu.RLock()
	var due []Deadline
	for id, at := range s.rfqDue {
		if !now.Before(at) {
			due = append(due, Deadline{RFQID: id, At: at})
		}
	}
	s.mu.RUnlock()
	return oldestFirst(due, limit), nil
}

func (s *MemoryStore) DueBids(_ context.Context, now time.Time, limit int) ([]Deadline, error) {
	s.mu.RLock()
	var due []Deadline
	for _, d := range s.bidDue {
		if !now.Before(d.At) {
			due = append(due, d)
		}
	}
	s.mu.RUnlock()
	return oldestFirst(due, limit), nil
}

func (s *MemoryStore) WithinRFQ(ctx context.Context, rfqID string, fn func(*Aggregate) error) error {
	unlock, err := s.lock(ctx, rfqID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	current, ok := s.rfqs[rfqID]
	if !ok {
		s.mu.RUnlock()
		return &model.NotFoundError{Entity: "rfq", ID: rfqID}
	}
	agg := &Aggregate{RFQ: current.Clone()}
	for _, id := range s.bidsByRFQ[rfqID] {
		agg.Bids = append(agg.Bids, s.bids[id].Clone())
	}
	version := current.Version
	s.mu.RUnlock()

	if err := fn(agg); err != nil {
		return err
	}
	return s.commit(agg, version)
}

func (s *MemoryStore) commit(agg *Aggregate, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.rfqs[agg.RFQ.ID]
	if stored.Version != version {
		return &model.ConflictError{Entity: "rfq", ID: agg.RFQ.ID}
	}
	for _, b := range agg.Bids {
		if b.RFQID != agg.RFQ.ID {
			return fmt.Errorf("bid %s does not belong to rfq %s", b.ID, agg.RFQ.ID)
		}
		if _, exists := s.bids[b.ID]; !exists {
			if owner, taken := s.references[b.Reference]; taken && owner != b.ID {
				return &model.ConflictError{Entity: "bid_reference", ID: b.Reference}
			}
		}
	}

	agg.RFQ.Version = version + 1
	r := agg.RFQ.Clone()
	s.rfqs[r.ID] = r
	s.indexRFQ(r)

	for _, b := range agg.Bids {
		c := b.Clone()
		if _, exists := s.bids[c.ID]; !exists {
			s.bidsByRFQ[c.RFQID] = append(s.bidsByRFQ[c.RFQID], c.ID)
			s.bidsByVendor[c.VendorID] = append(s.bidsByVendor[c.VendorID], c.ID)
			s.references[c.Reference] = c.ID
		}
		s.bids[c.ID] = c
		s.indexBid(c)
	}
	return nil
}

func (s *MemoryStore) indexRFQ(r *model.RFQ) {
	if r.Status == model.RFQOpen && r.ValidUntil != nil {
		s.rfqDue[r.ID] = *r.ValidUntil
		return
	}
	delete(s.rfqDue, r.ID)
}

func (s *MemoryStore) indexBid(b *model.Bid) {
	if !b.Status.IsTerminal() {
		s.bidDue[b.ID] = Deadline{RFQID: b.RFQID, BidID: b.ID, At: b.ExpiresAt}
		return
	}
	delete(s.bidDue, b.ID)
}

// rfqLock is held by at most one unit of work; refs counts holders and waiters.
type rfqLock struct {
	ch   chan struct{}
	refs int
}

// lock acquires the per-RFQ lock, giving up when ctx ends. The entry is
// dropped once nobody holds or waits on it.
func (s *MemoryStore) lock(ctx context.Context, rfqID string) (func(), error) {
	s.locksMu.Lock()
	l, ok := s.locks[rfqID]
	if !ok {
		l = &rfqLock{ch: make(chan struct{}, 1)}
		s.locks[rfqID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			s.unref(rfqID, l)
		}, nil
	case <-ctx.Done():
		s.unref(rfqID, l)
		return nil, fmt.Errorf("lock rfq %s: %w", rfqID, ctx.Err())
	}
}

func (s *MemoryStore) unref(rfqID string, l *rfqLock) {
	s.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, rfqID)
	}
	s.locksMu.Unlock()
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func oldestFirst(due []Deadline, limit int) []Deadline {
	sort.Slice(due, func(i, j int) bool {
		if due[i].At.Equal(due[j].At) {
			return due[i].BidID+due[i].RFQID < due[j].BidID+due[j].RFQID
		}
		return due[i].At.Before(due[j].At)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}
