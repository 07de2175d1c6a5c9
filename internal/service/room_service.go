package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// RoomMembership is the per-connection side of room handling, implemented
// by the fan-out adapter.
type RoomMembership interface {
	JoinRoom(ctx context.Context, connID, roomID string, expireAt time.Time) error
	LeaveRoom(ctx context.Context, connID, roomID string) error
}

// RoomService joins connections to auction rooms. Membership is shared
// across nodes through the RoomRegistry and expires RoomGrace after the
// auction's end.
type RoomService struct {
	auctions domain.AuctionStore
	rooms    domain.RoomRegistry
	members  RoomMembership
	grace    time.Duration
	logger   *slog.Logger
}

// NewRoomService creates a RoomService.
func NewRoomService(
	auctions domain.AuctionStore,
	rooms domain.RoomRegistry,
	members RoomMembership,
	grace time.Duration,
	logger *slog.Logger,
) *RoomService {
	return &RoomService{
		auctions: auctions,
		rooms:    rooms,
		members:  members,
		grace:    grace,
		logger:   logger.With(slog.String("component", "room_service")),
	}
}

// Join subscribes connection connID to the auction's room. Rooms of
// auctions whose grace period has elapsed cannot be joined.
func (s *RoomService) Join(ctx context.Context, connID, auctionID string, now time.Time) error {
	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("room_service: join %s: %w", auctionID, err)
	}

	expireAt := a.EndsAt.Add(s.grace)
	if !now.Before(expireAt) {
		return fmt.Errorf("room_service: join %s: %w", auctionID, domain.ErrAuctionNotActive)
	}

	if err := s.members.JoinRoom(ctx, connID, auctionID, expireAt); err != nil {
		return fmt.Errorf("room_service: join %s: %w", auctionID, err)
	}
	s.logger.DebugContext(ctx, "room_service: joined",
		slog.String("conn_id", connID),
		slog.String("auction_id", auctionID),
	)
	return nil
}

// Leave unsubscribes connection connID from the auction's room.
func (s *RoomService) Leave(ctx context.Context, connID, auctionID string) error {
	if err := s.members.LeaveRoom(ctx, connID, auctionID); err != nil {
		return fmt.Errorf("room_service: leave %s: %w", auctionID, err)
	}
	return nil
}

// Watchers lists the users watching the auction on any node.
func (s *RoomService) Watchers(ctx context.Context, auctionID string) ([]string, error) {
	if _, err := s.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("room_service: watchers %s: %w", auctionID, err)
	}
	members, err := s.rooms.Members(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("room_service: watchers %s: %w", auctionID, err)
	}
	return members, nil
}
