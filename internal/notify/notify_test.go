package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/livebid/internal/domain"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func soldEvent(t *testing.T) domain.Event {
	t.Helper()
	amount := int64(550)
	ev, err := domain.NewEvent(domain.EventAuctionEnded, "auc-1", domain.AuctionEnded{
		AuctionID:  "auc-1",
		Outcome:    domain.AuctionEndedSold,
		WinnerID:   "bob",
		WinningBid: &amount,
		EndedAt:    testTime,
	}, testTime)
	require.NoError(t, err)
	return ev
}

type recordingSender struct {
	name string
	err  error
	mu   sync.Mutex
	got  []domain.Event
}

func (r *recordingSender) Send(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifier_FiltersAndCollectsErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, []string{"auction_ended", " "}, discardLogger())

	err := n.Send(context.Background(), soldEvent(t))
	require.ErrorContains(t, err, "bad: boom")
	require.Len(t, ok.got, 1, "a failing sender does not block the others")

	bid, err := domain.NewEvent(domain.EventBidAccepted, "auc-1", domain.BidAccepted{AuctionID: "auc-1"}, testTime)
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), bid))
	require.Len(t, ok.got, 1, "filtered types are not forwarded")

	all := NewNotifier([]Sender{ok}, nil, discardLogger())
	require.True(t, all.Allows(domain.EventBidAccepted))
	require.NoError(t, all.Send(context.Background(), bid))
	require.Len(t, ok.got, 2)
}

func TestWebhookSender_PostsEnvelope(t *testing.T) {
	var (
		auth string
		got  domain.Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL, "s3cret").Send(context.Background(), soldEvent(t)))
	require.Equal(t, "Bearer s3cret", auth)
	require.Equal(t, domain.EventAuctionEnded, got.Type)
	require.Equal(t, "auc-1", got.AuctionID)
}

func TestWebhookSender_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "").Send(context.Background(), soldEvent(t))
	require.ErrorContains(t, err, "unexpected status 502")
}

func TestDiscordSender_RendersSummary(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), soldEvent(t)))
	require.Equal(t, "**Auction sold**\nauction auc-1 sold to bob for 550", body["content"])
}

func TestTelegramSender_UsesBotPath(t *testing.T) {
	var (
		path string
		body map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	require.NoError(t, NewTelegramSender(srv.URL+"/", "tok", "42").Send(context.Background(), soldEvent(t)))
	require.Equal(t, "/bottok/sendMessage", path)
	require.Equal(t, "42", body["chat_id"])
	require.Equal(t, "Markdown", body["parse_mode"])
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject, f.data = subject, data
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: EventStream, Sequence: 1}, nil
}

func TestJetStreamSender_PublishesBySubject(t *testing.T) {
	pub := &fakePublisher{}
	s := &JetStreamSender{js: pub}

	require.NoError(t, s.Send(context.Background(), soldEvent(t)))
	require.Equal(t, "auction.events.auction_ended", pub.subject)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(pub.data, &ev))
	require.Equal(t, "auc-1", ev.AuctionID)

	pub.err = errors.New("no responders")
	require.ErrorContains(t, s.Send(context.Background(), soldEvent(t)), "no responders")
}

func TestSummarize(t *testing.T) {
	end := testTime.Add(time.Minute)
	bid, err := domain.NewEvent(domain.EventBidAccepted, "auc-1", domain.BidAccepted{
		AuctionID: "auc-1", BidderID: "amy", Amount: 120, NewEndsAt: &end,
	}, testTime)
	require.NoError(t, err)
	title, msg := Summarize(bid)
	require.Equal(t, "Bid accepted", title)
	require.Equal(t, "auction auc-1: amy bid 120, now ends 2026-03-01 12:01:00Z", msg)

	note, err := domain.NewEvent(domain.EventNotification, "auc-1", domain.Notification{
		Kind: domain.NotifyOutbid, Message: "you were outbid",
	}, testTime)
	require.NoError(t, err)
	title, msg = Summarize(note)
	require.Equal(t, "Notification: outbid", title)
	require.Equal(t, "you were outbid", msg)

	unsold, err := domain.NewEvent(domain.EventAuctionEnded, "auc-2", domain.AuctionEnded{
		AuctionID: "auc-2", Outcome: domain.AuctionEndedUnsold,
	}, testTime)
	require.NoError(t, err)
	_, msg = Summarize(unsold)
	require.Equal(t, "auction auc-2 ended: ended_unsold", msg)
}
