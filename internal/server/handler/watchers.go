package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// WatcherLister lists the users watching an auction across nodes.
type WatcherLister interface {
	Watchers(ctx context.Context, auctionID string) ([]string, error)
}

// WatcherHandler exposes room membership for diagnostics.
type WatcherHandler struct {
	rooms  WatcherLister
	logger *slog.Logger
}

// NewWatcherHandler creates a WatcherHandler.
func NewWatcherHandler(rooms WatcherLister, logger *slog.Logger) *WatcherHandler {
	return &WatcherHandler{rooms: rooms, logger: logger}
}

// ListWatchers GET /api/auctions/{id}/watchers
func (h *WatcherHandler) ListWatchers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	users, err := h.rooms.Watchers(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "list watchers", err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auctionId": id,
		"watchers":  users,
		"count":     len(users),
	})
}
