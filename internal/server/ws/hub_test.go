package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/livebid/internal/fanout"
)

type countingRegistry struct {
	mu           sync.Mutex
	registered   int
	unregistered int
}

func (r *countingRegistry) Register(ctx context.Context, c fanout.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered++
}

func (r *countingRegistry) Unregister(ctx context.Context, c fanout.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered++
}

func (r *countingRegistry) Touch(ctx context.Context, userID string) {}

func (r *countingRegistry) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered, r.unregistered
}

type noRooms struct{}

func (noRooms) Join(ctx context.Context, connID, auctionID string, now time.Time) error { return nil }
func (noRooms) Leave(ctx context.Context, connID, auctionID string) error               { return nil }

func setupHub(t *testing.T) (*Hub, *countingRegistry, string) {
	t.Helper()
	reg := &countingRegistry{}
	h := NewHub(Config{}, reg, noRooms{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(ts.Close)
	return h, reg, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user_id=u1"
}

func TestHub_ConnectionBeforeRunEndsOnShutdown(t *testing.T) {
	h, reg, url := setupHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { r, _ := reg.counts(); return r == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop a connection accepted before Run")
	}
	_, unregistered := reg.counts()
	require.Equal(t, 1, unregistered)
}

func TestHub_RefusesAfterShutdown(t *testing.T) {
	h, reg, url := setupHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Run(ctx))

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	registered, _ := reg.counts()
	require.Zero(t, registered)
}
