package notify

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// WebhookSender POSTs the event envelope as JSON to a collaborator URL
// (payments, fulfilment, search indexing).
type WebhookSender struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. A non-empty token is sent as a
// bearer credential.
func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Send posts ev.
func (w *WebhookSender) Send(ctx context.Context, ev domain.Event) error {
	var headers map[string]string
	if w.token != "" {
		headers = map[string]string{"Authorization": "Bearer " + w.token}
	}
	return postJSON(ctx, w.client, "webhook", w.url, ev, headers)
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
