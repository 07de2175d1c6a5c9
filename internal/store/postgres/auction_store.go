package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// AuctionStore implements domain.AuctionStore using PostgreSQL. Per-auction
// serialization comes from SELECT ... FOR UPDATE on the auction row.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `id, product_id, seller_id, starting_price,
	reserve_price, buy_now_price, current_bid, current_bidder_id,
	bid_increment, starts_at, ends_at, extension_window_ms, status,
	bid_count, created_at, updated_at`

const bidSelectCols = `id, auction_id, bidder_id, amount, placed_at, is_winning`

func scanAuction(scanner interface{ Scan(dest ...any) error }) (domain.Auction, error) {
	var a domain.Auction
	var status string
	var extensionMS int64

	err := scanner.Scan(
		&a.ID, &a.ProductID, &a.SellerID, &a.StartingPrice,
		&a.ReservePrice, &a.BuyNowPrice, &a.CurrentBid, &a.CurrentBidderID,
		&a.BidIncrement, &a.StartsAt, &a.EndsAt, &extensionMS, &status,
		&a.BidCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	a.ExtensionWindow = time.Duration(extensionMS) * time.Millisecond
	return a, nil
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, product_id, seller_id, starting_price,
			reserve_price, buy_now_price, current_bid, current_bidder_id,
			bid_increment, starts_at, ends_at, extension_window_ms, status,
			bid_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.ProductID, a.SellerID, a.StartingPrice,
		a.ReservePrice, a.BuyNowPrice, a.CurrentBid, a.CurrentBidderID,
		a.BidIncrement, a.StartsAt, a.EndsAt, a.ExtensionWindow.Milliseconds(), string(a.Status),
		a.BidCount, a.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves a single auction.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// ListBids returns an auction's bids, newest first.
func (s *AuctionStore) ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE auction_id = $1 ORDER BY placed_at DESC, amount DESC`
	args := []any{auctionID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.PlacedAt, &b.IsWinning); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids %s rows: %w", auctionID, err)
	}
	return bids, nil
}

// ListDue returns auctions whose next lifecycle transition is due at now.
func (s *AuctionStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + auctionSelectCols + ` FROM auctions
		WHERE (status = 'scheduled' AND starts_at <= $1)
		   OR (status = 'active' AND ends_at <= $1)
		ORDER BY LEAST(
			CASE WHEN status = 'scheduled' THEN starts_at END,
			CASE WHEN status = 'active' THEN ends_at END
		) ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan due auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due auctions rows: %w", err)
	}
	return out, nil
}

// Mutate locks the auction row for the duration of fn. Writes made through
// the AuctionTx are committed only when fn returns nil.
func (s *AuctionStore) Mutate(ctx context.Context, auctionID string, fn func(tx domain.AuctionTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin auction tx %s: %w", auctionID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1 FOR UPDATE`, auctionID)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock auction %s: %w", auctionID, err)
	}

	if err := fn(&auctionTx{tx: tx, auction: a}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit auction tx %s: %w", auctionID, err)
	}
	return nil
}

// auctionTx is the domain.AuctionTx view of an open pgx transaction.
type auctionTx struct {
	tx      pgx.Tx
	auction domain.Auction
}

func (t *auctionTx) Auction() domain.Auction {
	return t.auction
}

func (t *auctionTx) Sanction(ctx context.Context, bidderID string) (domain.BidderSanction, error) {
	var sn domain.BidderSanction
	err := t.tx.QueryRow(ctx,
		`SELECT bidder_id, reason, until, created_at FROM bidder_sanctions WHERE bidder_id = $1`,
		bidderID,
	).Scan(&sn.BidderID, &sn.Reason, &sn.Until, &sn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BidderSanction{}, domain.ErrNotFound
		}
		return domain.BidderSanction{}, fmt.Errorf("postgres: get sanction %s: %w", bidderID, err)
	}
	return sn, nil
}

func (t *auctionTx) InsertWinningBid(ctx context.Context, b domain.Bid) error {
	if _, err := t.tx.Exec(ctx,
		`UPDATE bids SET is_winning = FALSE WHERE auction_id = $1 AND is_winning`,
		b.AuctionID,
	); err != nil {
		return fmt.Errorf("postgres: clear winning bid %s: %w", b.AuctionID, err)
	}

	const query = `
		INSERT INTO bids (id, auction_id, bidder_id, amount, placed_at, is_winning)
		VALUES ($1, $2, $3, $4, $5, TRUE)`
	if _, err := t.tx.Exec(ctx, query, b.ID, b.AuctionID, b.BidderID, b.Amount, b.PlacedAt); err != nil {
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, err)
	}
	return nil
}

func (t *auctionTx) UpdateAuction(ctx context.Context, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			current_bid = $2,
			current_bidder_id = $3,
			ends_at = $4,
			status = $5,
			bid_count = $6,
			updated_at = $7
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query,
		a.ID, a.CurrentBid, a.CurrentBidderID, a.EndsAt, string(a.Status), a.BidCount, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	t.auction = a
	return nil
}

// Compile-time interface checks.
var (
	_ domain.AuctionStore = (*AuctionStore)(nil)
	_ domain.AuctionTx    = (*auctionTx)(nil)
)
