package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v and writes it with status. If marshaling fails it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CurrentBid *int64 `json:"currentBid,omitempty"`
	MinimumBid int64  `json:"minimumBid,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps err onto a status and a message the UI can render.
// Unexpected errors are logged and reported as 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, msg, reason := classify(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	}

	resp := errorResponse{Error: msg, Reason: reason}
	var rej *domain.BidRejection
	if errors.As(err, &rej) {
		resp.CurrentBid = rej.CurrentBid
		resp.MinimumBid = rej.MinimumBid
		resp.Detail = rej.Detail
	}
	writeJSON(w, status, resp)
}

func classify(err error) (status int, msg, reason string) {
	switch {
	case errors.Is(err, domain.ErrAuctionNotActive) && errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "auction not found", "auction_not_active"
	case errors.Is(err, domain.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid", "invalid_bid"
	case errors.Is(err, domain.ErrInvalidAuction):
		return http.StatusBadRequest, err.Error(), "invalid_auction"
	case errors.Is(err, domain.ErrBidTooLow):
		return http.StatusConflict, "someone just outbid you", "bid_too_low"
	case errors.Is(err, domain.ErrAuctionNotActive):
		return http.StatusConflict, "auction has ended or is not open for bids", "auction_not_active"
	case errors.Is(err, domain.ErrBidderIneligible):
		return http.StatusForbidden, "you are not eligible to bid on this auction", "bidder_ineligible"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "too many attempts, slow down", "rate_limited"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found", ""
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already exists", ""
	case errors.Is(err, domain.ErrInfrastructure):
		return http.StatusServiceUnavailable, "temporarily unavailable, please retry", "infrastructure"
	default:
		return http.StatusInternalServerError, "internal server error", ""
	}
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// parseListOpts extracts pagination from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}
