package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alanyoungcy/livebid/internal/domain"
)

const (
	// EventStream is the JetStream stream collaborators consume from.
	EventStream = "AUCTION_EVENTS"
	// EventSubjectPrefix is followed by the event type, e.g.
	// "auction.events.bid_accepted".
	EventSubjectPrefix = "auction.events."
)

// publisher is the subset of jetstream.JetStream the sender needs.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamSender publishes every event onto a persistent JetStream
// stream so downstream services (payments, fulfilment) can replay them.
type JetStreamSender struct {
	js publisher
}

// NewJetStreamSender ensures the event stream exists and returns a sender
// bound to it. maxAge bounds message retention; zero keeps messages until
// the stream limits evict them.
func NewJetStreamSender(ctx context.Context, nc *nats.Conn, maxAge time.Duration) (*JetStreamSender, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: create context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        EventStream,
		Description: "Committed auction events",
		Subjects:    []string{EventSubjectPrefix + ">"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      maxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream: ensure stream %s: %w", EventStream, err)
	}
	return &JetStreamSender{js: js}, nil
}

// Send publishes ev to auction.events.<type>.
func (s *JetStreamSender) Send(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("jetstream: marshal event: %w", err)
	}
	subject := EventSubjectPrefix + string(ev.Type)
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("jetstream: publish %s: %w", subject, err)
	}
	return nil
}

// Name returns the sender identifier.
func (s *JetStreamSender) Name() string {
	return "jetstream"
}
