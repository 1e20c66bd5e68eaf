// Package referral records hunter outcomes against a persistent store and
// reports tier standing and the leaderboard.
package referral

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wastelandfi/wasteland/internal/hunter"
	"github.com/wastelandfi/wasteland/internal/hunter/store"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/pkg/types"
)

const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

var (
	// ErrInvalidAddress wraps address parse failures.
	ErrInvalidAddress = errors.New("invalid hunter address")
	// ErrInvalidOutcome wraps rejected outcome fields.
	ErrInvalidOutcome = errors.New("invalid outcome")
)

// Metrics receives referral counters.
type Metrics interface {
	ObserveOutcome(successful bool)
	ObserveTierChange(from, to string)
	SetHunters(n int)
}

// TierChanged is published when an outcome moves a hunter to another tier.
type TierChanged struct {
	Address string           `json:"address"`
	From    types.HunterTier `json:"from"`
	To      types.HunterTier `json:"to"`
	Record  hunter.Record    `json:"record"`
	At      time.Time        `json:"at"`
}

// Promotion reports whether the change moved the hunter up.
func (e TierChanged) Promotion() bool {
	return e.To.TierRank() > e.From.TierRank()
}

// Standing is an address's record (nil when it has none) and tier summary.
type Standing struct {
	Address string          `json:"address"`
	Record  *hunter.Record  `json:"record,omitempty"`
	Info    hunter.TierInfo `json:"tier_info"`
}

// Service serialises updates per address; different addresses proceed in
// parallel.
type Service struct {
	engine  atomic.Pointer[hunter.Engine]
	store   store.Store
	metrics Metrics

	locks   sync.Mutex
	perAddr map[string]*addrLock

	subMu sync.RWMutex
	subs  []func(TierChanged)

	countMu sync.Mutex
	count   int
}

type addrLock struct {
	mu   sync.Mutex
	refs int
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires an engine to a store. It lists the store once to seed
// the hunter count.
func NewService(ctx context.Context, engine *hunter.Engine, st store.Store, opts ...Option) (*Service, error) {
	if engine == nil || st == nil {
		return nil, errors.New("referral service needs an engine and a store")
	}
	s := &Service{
		store:   st,
		perAddr: make(map[string]*addrLock),
	}
	s.engine.Store(engine)
	for _, opt := range opts {
		opt(s)
	}

	recs, err := st.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load hunter records: %w", err)
	}
	s.count = len(recs)
	if s.metrics != nil {
		s.metrics.SetHunters(s.count)
	}
	return s, nil
}

// Engine returns the tier engine.
func (s *Service) Engine() *hunter.Engine {
	return s.engine.Load()
}

// SetEngine swaps the tier engine. Existing records are re-tiered lazily on
// their next outcome.
func (s *Service) SetEngine(engine *hunter.Engine) {
	if engine != nil {
		s.engine.Store(engine)
	}
}

// Subscribe registers fn for tier changes. fn runs synchronously on the
// recording goroutine and must not block.
func (s *Service) Subscribe(fn func(TierChanged)) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

// RecordOutcome applies o to the hunter at address and persists the result.
func (s *Service) RecordOutcome(ctx context.Context, address string, o hunter.Outcome) (hunter.Record, error) {
	addr, err := normalize(address)
	if err != nil {
		return hunter.Record{}, err
	}
	if o.Reward != nil && !validAmount(*o.Reward) {
		return hunter.Record{}, fmt.Errorf("%w: reward must be a finite non-negative number, got %v", ErrInvalidOutcome, *o.Reward)
	}
	if o.CompletionSeconds != nil && !validAmount(*o.CompletionSeconds) {
		return hunter.Record{}, fmt.Errorf("%w: completion time must be a finite non-negative number, got %v", ErrInvalidOutcome, *o.CompletionSeconds)
	}

	unlock := s.lock(addr)
	defer unlock()
	engine := s.Engine()

	prev, err := s.store.Get(ctx, addr)
	isNew := errors.Is(err, store.ErrNotFound)
	switch {
	case isNew:
		prev = engine.NewRecord(addr)
	case err != nil:
		return hunter.Record{}, fmt.Errorf("failed to load hunter %s: %w", addr, err)
	}

	next := engine.UpdateHunterPerformance(prev, o)
	if err := s.store.Put(ctx, next); err != nil {
		logging.Audit(logging.AuditEvent{
			Operation: "referral_recorded",
			Target:    addr,
			Result:    "failure",
			Details:   err.Error(),
		})
		return hunter.Record{}, fmt.Errorf("failed to save hunter %s: %w", addr, err)
	}

	result := "failure"
	if o.Successful {
		result = "success"
	}
	logging.Audit(logging.AuditEvent{
		Operation: "referral_recorded",
		Target:    addr,
		Result:    "success",
		Details:   fmt.Sprintf("outcome=%s total=%d tier=%s", result, next.TotalReferrals, next.Tier),
	})

	if s.metrics != nil {
		s.metrics.ObserveOutcome(o.Successful)
	}
	if isNew {
		s.countMu.Lock()
		s.count++
		n := s.count
		s.countMu.Unlock()
		if s.metrics != nil {
			s.metrics.SetHunters(n)
		}
	}

	if next.Tier != prev.Tier {
		ev := TierChanged{Address: addr, From: prev.Tier, To: next.Tier, Record: next, At: next.UpdatedAt}
		logging.Info("hunter tier changed",
			logging.Component("referral"),
			logging.Address(addr),
			"from", prev.Tier,
			"to", next.Tier,
			"promotion", ev.Promotion(),
		)
		if s.metrics != nil {
			s.metrics.ObserveTierChange(string(prev.Tier), string(next.Tier))
		}
		s.publish(ev)
	}
	return next, nil
}

// Standing returns the record and tier summary for address. Unknown
// addresses get the floor tier with no record.
func (s *Service) Standing(ctx context.Context, address string) (Standing, error) {
	addr, err := normalize(address)
	if err != nil {
		return Standing{}, err
	}
	rec, err := s.store.Get(ctx, addr)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Standing{Address: addr, Info: s.Engine().GetHunterTierInfo(nil)}, nil
	case err != nil:
		return Standing{}, fmt.Errorf("failed to load hunter %s: %w", addr, err)
	}
	return Standing{Address: addr, Record: &rec, Info: s.Engine().GetHunterTierInfo(&rec)}, nil
}

// TierInfo returns only the tier summary for address.
func (s *Service) TierInfo(ctx context.Context, address string) (hunter.TierInfo, error) {
	st, err := s.Standing(ctx, address)
	return st.Info, err
}

// Leaderboard returns up to limit records ranked by tier, multiplier,
// successful referrals and earnings. limit <= 0 means the default size.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]hunter.Record, error) {
	switch {
	case limit <= 0:
		limit = DefaultLeaderboardSize
	case limit > MaxLeaderboardSize:
		limit = MaxLeaderboardSize
	}

	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list hunters: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if ra, rb := a.Tier.TierRank(), b.Tier.TierRank(); ra != rb {
			return ra > rb
		}
		if a.RewardMultiplier != b.RewardMultiplier {
			return a.RewardMultiplier > b.RewardMultiplier
		}
		if a.SuccessfulReferrals != b.SuccessfulReferrals {
			return a.SuccessfulReferrals > b.SuccessfulReferrals
		}
		if a.TotalEarned != b.TotalEarned {
			return a.TotalEarned > b.TotalEarned
		}
		return a.Address < b.Address
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Count returns the number of hunters with a record.
func (s *Service) Count() int {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return s.count
}

func (s *Service) publish(ev TierChanged) {
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// lock takes the per-address mutex and returns its release. Entries are
// dropped once nobody holds or waits on them.
func (s *Service) lock(addr string) func() {
	s.locks.Lock()
	l, ok := s.perAddr[addr]
	if !ok {
		l = &addrLock{}
		s.perAddr[addr] = l
	}
	l.refs++
	s.locks.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locks.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.perAddr, addr)
		}
		s.locks.Unlock()
	}
}

func normalize(address string) (string, error) {
	addr, err := store.NormalizeAddress(address)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return addr, nil
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
