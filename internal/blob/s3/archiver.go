package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
)

const archivePageSize = 500

// BidHistory is the read side the archiver needs.
type BidHistory interface {
	GetByID(ctx context.Context, id string) (domain.Auction, error)
	ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// archiveHeader is the first JSONL line of every settlement file.
type archiveHeader struct {
	Kind       string               `json:"kind"`
	Auction    domain.Auction       `json:"auction"`
	Outcome    domain.AuctionStatus `json:"outcome"`
	WinnerID   string               `json:"winnerId,omitempty"`
	WinningBid *int64               `json:"winningBid,omitempty"`
	ArchivedAt time.Time            `json:"archivedAt"`
}

// Archiver writes the full bid history of every ended auction to object
// storage as JSONL. It is an event sink: only auction_ended events are
// acted on, and an auction already archived is skipped.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	history BidHistory
	now     func() time.Time
	logger  *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, history BidHistory, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		history: history,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// Name returns the sink identifier.
func (a *Archiver) Name() string {
	return "s3_archive"
}

// Send archives the auction named by an auction_ended event.
func (a *Archiver) Send(ctx context.Context, ev domain.Event) error {
	if ev.Type != domain.EventAuctionEnded {
		return nil
	}
	var ended domain.AuctionEnded
	if err := json.Unmarshal(ev.Payload, &ended); err != nil {
		return fmt.Errorf("s3blob: decode auction_ended: %w", err)
	}
	_, err := a.Archive(ctx, ended)
	return err
}

// Archive writes archive/auctions/YYYY-MM/<id>.jsonl and returns its path.
// The month is taken from the end instant.
func (a *Archiver) Archive(ctx context.Context, ended domain.AuctionEnded) (string, error) {
	path := ArchivePath(ended.AuctionID, ended.EndedAt)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", ended.AuctionID, err)
		}
		if exists {
			a.logger.DebugContext(ctx, "s3blob: already archived", slog.String("path", path))
			return path, nil
		}
	}

	auction, err := a.history.GetByID(ctx, ended.AuctionID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: load auction: %w", ended.AuctionID, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(archiveHeader{
		Kind:       "auction",
		Auction:    auction,
		Outcome:    ended.Outcome,
		WinnerID:   ended.WinnerID,
		WinningBid: ended.WinningBid,
		ArchivedAt: a.now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: encode header: %w", ended.AuctionID, err)
	}

	count := 0
	for offset := 0; ; offset += archivePageSize {
		bids, err := a.history.ListBids(ctx, ended.AuctionID, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: list bids: %w", ended.AuctionID, err)
		}
		for i := range bids {
			if err := enc.Encode(bids[i]); err != nil {
				return "", fmt.Errorf("s3blob: archive %s: encode bid %d: %w", ended.AuctionID, count, err)
			}
			count++
		}
		if len(bids) < archivePageSize {
			break
		}
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", ended.AuctionID, err)
	}
	a.logger.InfoContext(ctx, "s3blob: auction archived",
		slog.String("auction_id", ended.AuctionID),
		slog.String("path", path),
		slog.Int("bids", count),
	)
	return path, nil
}

// ArchivePath is the object key for an auction's settlement file.
//
//	archive/auctions/2026-03/6f1c….jsonl
func ArchivePath(auctionID string, endedAt time.Time) string {
	return fmt.Sprintf("archive/auctions/%s/%s.jsonl", endedAt.UTC().Format("2006-01"), auctionID)
}
