package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram pushes operator alerts (resets, limit hits, watchdog fires) to a
// chat. Missing credentials disable it.
type Telegram struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *Telegram) Notify(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || text == "" {
		return nil
	}

	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: sendMessage returned %d", resp.StatusCode)
	}
	return nil
}
