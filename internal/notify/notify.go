package notify

import (
	"context"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
)

// Notifier fans run events out to the configured channels. Both sinks are
// best-effort and never block the dispatch loop.
type Notifier struct {
	webhook  *Webhook
	telegram *Telegram
}

func New(webhook *Webhook, telegram *Telegram) *Notifier {
	return &Notifier{webhook: webhook, telegram: telegram}
}

// Event mirrors one event to the webhook asynchronously. Safe on a nil
// receiver so callers need no wiring checks.
func (n *Notifier) Event(event domain.Event) {
	if n == nil || n.webhook == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.webhook.Publish(ctx, event)
	}()
}

// Text sends an operator alert.
func (n *Notifier) Text(ctx context.Context, msg string) {
	if n == nil || n.telegram == nil {
		return
	}
	_ = n.telegram.Notify(ctx, msg)
}
