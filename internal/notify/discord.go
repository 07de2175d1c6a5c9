package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// DiscordSender posts a one-line summary of each event to a Discord
// webhook, typically an operations channel.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Send posts the summary with the title in bold.
func (d *DiscordSender) Send(ctx context.Context, ev domain.Event) error {
	title, message := Summarize(ev)
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}, nil)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
