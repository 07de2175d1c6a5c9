package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/alanyoungcy/livebid/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a synchronous domain.EventEmitter. onEmit, when set, runs for
// every event before it is recorded.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	onEmit func(domain.Event)
}

func (r *recorder) Emit(ev domain.Event) {
	if r.onEmit != nil {
		r.onEmit(ev)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) ofType(typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range r.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func decodeNotification(t *testing.T, ev domain.Event) domain.Notification {
	t.Helper()
	var n domain.Notification
	require.NoError(t, json.Unmarshal(ev.Payload, &n))
	return n
}

type stubLimiter struct {
	mu    sync.Mutex
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

// countingStore records Mutate calls and can be told to fail them.
type countingStore struct {
	*memory.Store
	mu       sync.Mutex
	mutates  int
	failWith error
}

func (s *countingStore) Mutate(ctx context.Context, id string, fn func(domain.AuctionTx) error) error {
	s.mu.Lock()
	s.mutates++
	fail := s.failWith
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.Store.Mutate(ctx, id, fn)
}

func (s *countingStore) mutateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutates
}

// fakeRooms records Expire calls.
type fakeRooms struct {
	mu      sync.Mutex
	expires map[string]time.Time
	members map[string][]string
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{expires: map[string]time.Time{}, members: map[string][]string{}}
}

func (f *fakeRooms) Join(ctx context.Context, auctionID, userID string, expireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[auctionID] = append(f.members[auctionID], userID)
	f.expires[auctionID] = expireAt
	return nil
}

func (f *fakeRooms) Leave(ctx context.Context, auctionID, userID string) error { return nil }

func (f *fakeRooms) Members(ctx context.Context, auctionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.members[auctionID]...), nil
}

func (f *fakeRooms) Expire(ctx context.Context, auctionID string, expireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[auctionID] = expireAt
	return nil
}

func (f *fakeRooms) expiry(auctionID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.expires[auctionID]
	return at, ok
}

type fakeLocks struct {
	held bool
	err  error
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

var errStoreDown = errors.New("connection refused")

func int64p(v int64) *int64 { return &v }

// auctionOpts shapes a test auction; zero fields keep the defaults.
type auctionOpts struct {
	status    domain.AuctionStatus
	startsAt  time.Time
	endsAt    time.Time
	seller    string
	reserve   *int64
	buyNow    *int64
	extension time.Duration
}

func seedAuction(t *testing.T, store domain.AuctionStore, id string, o auctionOpts) domain.Auction {
	t.Helper()
	if o.status == "" {
		o.status = domain.AuctionActive
	}
	if o.startsAt.IsZero() {
		o.startsAt = t0
	}
	if o.endsAt.IsZero() {
		o.endsAt = t0.Add(time.Hour)
	}
	a := domain.Auction{
		ID:              id,
		ProductID:       "product-" + id,
		SellerID:        o.seller,
		StartingPrice:   100,
		ReservePrice:    o.reserve,
		BuyNowPrice:     o.buyNow,
		BidIncrement:    5,
		StartsAt:        o.startsAt,
		EndsAt:          o.endsAt,
		ExtensionWindow: o.extension,
		Status:          o.status,
		CreatedAt:       t0.Add(-time.Hour),
		UpdatedAt:       t0.Add(-time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), a))
	return a
}

type ledgerFixture struct {
	store   *countingStore
	events  *recorder
	limiter *stubLimiter
	rooms   *fakeRooms
	ledger  *BidLedger
}

func setupLedger(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		store:   &countingStore{Store: memory.NewStore()},
		events:  &recorder{},
		limiter: &stubLimiter{allow: true},
		rooms:   newFakeRooms(),
	}
	f.ledger = NewBidLedger(f.store, f.limiter, f.events, BidLedgerConfig{
		BidLimit:     5,
		BidWindow:    time.Minute,
		StoreTimeout: 2 * time.Second,
		RoomGrace:    24 * time.Hour,
	}, discardLogger()).WithRoomRegistry(f.rooms)
	return f
}
