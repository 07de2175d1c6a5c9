package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// SanctionStore implements domain.SanctionStore. A bidder has at most one
// sanction row; Put replaces it.
type SanctionStore struct {
	pool *pgxpool.Pool
}

// NewSanctionStore creates a new SanctionStore backed by the given pool.
func NewSanctionStore(pool *pgxpool.Pool) *SanctionStore {
	return &SanctionStore{pool: pool}
}

// Put inserts or replaces the sanction for s.BidderID.
func (s *SanctionStore) Put(ctx context.Context, sn domain.BidderSanction) error {
	const query = `
		INSERT INTO bidder_sanctions (bidder_id, reason, until, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bidder_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			until = EXCLUDED.until,
			created_at = EXCLUDED.created_at`

	if _, err := s.pool.Exec(ctx, query, sn.BidderID, sn.Reason, sn.Until, sn.CreatedAt); err != nil {
		return fmt.Errorf("postgres: put sanction %s: %w", sn.BidderID, err)
	}
	return nil
}

// Lift removes the bidder's sanction.
func (s *SanctionStore) Lift(ctx context.Context, bidderID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bidder_sanctions WHERE bidder_id = $1`, bidderID)
	if err != nil {
		return fmt.Errorf("postgres: lift sanction %s: %w", bidderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.SanctionStore = (*SanctionStore)(nil)
