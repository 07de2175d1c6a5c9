package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/alanyoungcy/livebid/internal/store/memory"
)

func setupAuctionService(t *testing.T) (*AuctionService, *BidLedger, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	events := &recorder{}
	lc := NewLifecycle(store, events, nil, nil, LifecycleConfig{}, discardLogger())
	ledger := NewBidLedger(store, nil, events, BidLedgerConfig{}, discardLogger())
	return NewAuctionService(store, store, lc, discardLogger()), ledger, store
}

func TestAuctionService_Create(t *testing.T) {
	svc, _, _ := setupAuctionService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateAuctionInput{
		ProductID:     "sku-1",
		SellerID:      "sally",
		StartingPrice: 1000,
		ReservePrice:  int64p(1500),
		BidIncrement:  50,
		StartsAt:      t0.Add(time.Minute),
		EndsAt:        t0.Add(time.Hour),
	}, t0)
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.Equal(t, domain.AuctionScheduled, a.Status)
	require.Nil(t, a.CurrentBid)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a, got)

	_, err = svc.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuctionService_CreateRejectsInvalid(t *testing.T) {
	svc, _, _ := setupAuctionService(t)
	ctx := context.Background()
	valid := CreateAuctionInput{
		ProductID:     "sku-1",
		StartingPrice: 1000,
		BidIncrement:  50,
		StartsAt:      t0,
		EndsAt:        t0.Add(time.Hour),
	}

	for name, mutate := range map[string]func(in *CreateAuctionInput){
		"missing product":   func(in *CreateAuctionInput) { in.ProductID = "" },
		"zero increment":    func(in *CreateAuctionInput) { in.BidIncrement = 0 },
		"zero start price":  func(in *CreateAuctionInput) { in.StartingPrice = 0 },
		"ends before start": func(in *CreateAuctionInput) { in.EndsAt = in.StartsAt },
		"reserve too low":   func(in *CreateAuctionInput) { in.ReservePrice = int64p(10) },
		"already over":      func(in *CreateAuctionInput) { in.StartsAt, in.EndsAt = t0.Add(-2*time.Hour), t0.Add(-time.Hour) },
	} {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := svc.Create(ctx, in, t0)
			require.ErrorIs(t, err, domain.ErrInvalidAuction)
		})
	}
}

func TestAuctionService_ListBidsAndSanctions(t *testing.T) {
	svc, ledger, store := setupAuctionService(t)
	ctx := context.Background()
	seedAuction(t, store, "a1", auctionOpts{})

	_, err := ledger.PlaceBid(ctx, "a1", "x", 100, t0)
	require.NoError(t, err)
	_, err = ledger.PlaceBid(ctx, "a1", "y", 110, t0.Add(time.Second))
	require.NoError(t, err)

	bids, err := svc.ListBids(ctx, "a1", domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, int64(110), bids[0].Amount)

	_, err = svc.ListBids(ctx, "missing", domain.ListOpts{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.Sanction(ctx, "x", "shill bidding", nil, t0))
	_, err = ledger.PlaceBid(ctx, "a1", "x", 200, t0.Add(2*time.Second))
	require.ErrorIs(t, err, domain.ErrBidderIneligible)

	require.NoError(t, svc.LiftSanction(ctx, "x"))
	_, err = ledger.PlaceBid(ctx, "a1", "x", 200, t0.Add(3*time.Second))
	require.NoError(t, err)

	require.ErrorIs(t, svc.Sanction(ctx, "", "", nil, t0), domain.ErrInvalidBid)
}
