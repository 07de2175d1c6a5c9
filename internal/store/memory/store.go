// Package memory implements the auction store in process memory for
// single-node development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// Store implements domain.AuctionStore and domain.SanctionStore. Mutate
// serializes per auction with a dedicated mutex, mirroring the row lock the
// PostgreSQL store takes.
type Store struct {
	mu        sync.RWMutex
	auctions  map[string]domain.Auction
	bids      map[string][]domain.Bid
	locks     map[string]*sync.Mutex
	sanctions map[string]domain.BidderSanction
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		auctions:  make(map[string]domain.Auction),
		bids:      make(map[string][]domain.Bid),
		locks:     make(map[string]*sync.Mutex),
		sanctions: make(map[string]domain.BidderSanction),
	}
}

// Create stores a new auction.
func (s *Store) Create(ctx context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.auctions[a.ID] = cloneAuction(a)
	s.locks[a.ID] = &sync.Mutex{}
	return nil
}

// GetByID returns a copy of the auction.
func (s *Store) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return cloneAuction(a), nil
}

// ListBids returns an auction's bids, newest first.
func (s *Store) ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	s.mu.RLock()
	stored := s.bids[auctionID]
	out := make([]domain.Bid, len(stored))
	for i := range stored {
		out[len(stored)-1-i] = stored[i]
	}
	s.mu.RUnlock()

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ListDue returns auctions whose next lifecycle transition is due at now,
// ordered by the instant it became due.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	s.mu.RLock()
	var due []domain.Auction
	for _, a := range s.auctions {
		if _, ok := dueAt(a, now); ok {
			due = append(due, cloneAuction(a))
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		ti, _ := dueAt(due[i], now)
		tj, _ := dueAt(due[j], now)
		if ti.Equal(tj) {
			return due[i].ID < due[j].ID
		}
		return ti.Before(tj)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func dueAt(a domain.Auction, now time.Time) (time.Time, bool) {
	switch a.Status {
	case domain.AuctionScheduled:
		return a.StartsAt, !a.StartsAt.After(now)
	case domain.AuctionActive:
		return a.EndsAt, !a.EndsAt.After(now)
	default:
		return time.Time{}, false
	}
}

// Mutate runs fn under the auction's lock and applies the staged writes
// only if fn succeeds.
func (s *Store) Mutate(ctx context.Context, auctionID string, fn func(tx domain.AuctionTx) error) error {
	s.mu.RLock()
	lock, ok := s.locks[auctionID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	tx := &auctionTx{store: s, auction: cloneAuction(s.auctions[auctionID])}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.dirty {
		s.auctions[auctionID] = tx.auction
	}
	if tx.newBid != nil {
		bids := s.bids[auctionID]
		for i := range bids {
			bids[i].IsWinning = false
		}
		s.bids[auctionID] = append(bids, *tx.newBid)
	}
	return nil
}

// Put inserts or replaces a bidder sanction.
func (s *Store) Put(ctx context.Context, sn domain.BidderSanction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sanctions[sn.BidderID] = sn
	return nil
}

// Lift removes a bidder sanction.
func (s *Store) Lift(ctx context.Context, bidderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sanctions[bidderID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.sanctions, bidderID)
	return nil
}

// auctionTx stages writes until Mutate decides to apply them.
type auctionTx struct {
	store   *Store
	auction domain.Auction
	dirty   bool
	newBid  *domain.Bid
}

func (t *auctionTx) Auction() domain.Auction {
	return cloneAuction(t.auction)
}

func (t *auctionTx) Sanction(ctx context.Context, bidderID string) (domain.BidderSanction, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	sn, ok := t.store.sanctions[bidderID]
	if !ok {
		return domain.BidderSanction{}, domain.ErrNotFound
	}
	return sn, nil
}

func (t *auctionTx) InsertWinningBid(ctx context.Context, b domain.Bid) error {
	b.IsWinning = true
	t.newBid = &b
	return nil
}

func (t *auctionTx) UpdateAuction(ctx context.Context, a domain.Auction) error {
	t.auction = cloneAuction(a)
	t.dirty = true
	return nil
}

// cloneAuction copies the pointer fields so callers cannot alias stored
// state.
func cloneAuction(a domain.Auction) domain.Auction {
	a.ReservePrice = cloneInt64(a.ReservePrice)
	a.BuyNowPrice = cloneInt64(a.BuyNowPrice)
	a.CurrentBid = cloneInt64(a.CurrentBid)
	if a.CurrentBidderID != nil {
		v := *a.CurrentBidderID
		a.CurrentBidderID = &v
	}
	return a
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Compile-time interface checks.
var (
	_ domain.AuctionStore  = (*Store)(nil)
	_ domain.SanctionStore = (*Store)(nil)
)
