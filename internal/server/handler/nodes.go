package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// NodeLister lists live nodes.
type NodeLister interface {
	Nodes(ctx context.Context) ([]domain.NodePresence, error)
}

// NodeHandler serves the cluster presence listing.
type NodeHandler struct {
	nodes  NodeLister
	self   string
	logger *slog.Logger
}

// NewNodeHandler creates a NodeHandler. self is this node's id.
func NewNodeHandler(nodes NodeLister, self string, logger *slog.Logger) *NodeHandler {
	return &NodeHandler{nodes: nodes, self: self, logger: logger}
}

// ListNodes returns every node whose presence has not expired.
// GET /api/nodes
func (h *NodeHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.nodes.Nodes(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list nodes failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "presence registry unavailable")
		return
	}
	if nodes == nil {
		nodes = []domain.NodePresence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"self":  h.self,
		"nodes": nodes,
	})
}
