package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
)

// Webhook mirrors run events to an external collector. An empty URL disables
// publishing.
type Webhook struct {
	url        string
	httpClient *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Publish(ctx context.Context, event domain.Event) error {
	if w.url == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID)
	req.Header.Set("X-Event-Type", string(event.Type))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
