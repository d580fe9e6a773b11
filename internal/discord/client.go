package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// RateLimitError signals a server-side rate limit. It is a scheduling signal
// rather than a failure: callers wait RetryAfter and try again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// HTTPError is an unexpected non-success status from the API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.Status, e.Body)
}

// NetworkError is a transport-level failure that survived bounded retries.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after retries: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Client is one identity's authenticated session against the channel API.
// Sessions may be discarded and recreated via Reconnect without affecting
// other identities.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration

	mu         sync.Mutex
	httpClient *http.Client
}

func NewClient(baseURL, token, userAgent string, timeout time.Duration, maxRetries int, retryBase time.Duration) *Client {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		userAgent:  userAgent,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Reconnect discards the underlying session, e.g. after a suspected network
// interface change.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient.CloseIdleConnections()
	c.httpClient = &http.Client{Timeout: c.timeout}
}

func (c *Client) session() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.httpClient
}

type wireAuthor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type wireMessage struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Timestamp string     `json:"timestamp"`
	Author    wireAuthor `json:"author"`
}

func (m wireMessage) toEntry() domain.Entry {
	entry := domain.Entry{
		ID:         m.ID,
		AuthorName: m.Author.Username,
		AuthorID:   m.Author.ID,
		Content:    m.Content,
	}
	if m.Author.Username == "" {
		entry.AuthorName = "unknown"
	}
	if ts, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
		entry.Timestamp = ts
	}
	return entry
}

// FetchSelf resolves the external id behind this session's token.
func (c *Client) FetchSelf(ctx context.Context) (domain.Profile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/users/@me", nil)
	if err != nil {
		return domain.Profile{}, err
	}
	resp, err := c.session().Do(req)
	if err != nil {
		return domain.Profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Profile{}, &HTTPError{Status: resp.StatusCode, Body: readBody(resp.Body)}
	}
	var profile domain.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return domain.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return profile, nil
}

// FetchRecentEntries returns up to limit entries, most recent first. Network
// failures and unexpected statuses are retried with doubling delays; the
// session is recreated before each retry in case the interface changed.
func (c *Client) FetchRecentEntries(ctx context.Context, channelID string, limit int) ([]domain.Entry, error) {
	path := fmt.Sprintf("/channels/%s/messages?limit=%d", url.PathEscape(channelID), limit)

	var lastErr error
	delay := c.retryBase
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
			c.Reconnect()
		}

		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.session().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = &HTTPError{Status: resp.StatusCode, Body: readBody(resp.Body)}
			resp.Body.Close()
			continue
		}
		var messages []wireMessage
		err = json.NewDecoder(resp.Body).Decode(&messages)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("decode messages: %w", err)
			continue
		}
		entries := make([]domain.Entry, 0, len(messages))
		for _, m := range messages {
			entries = append(entries, m.toEntry())
		}
		return entries, nil
	}
	return nil, &NetworkError{Err: lastErr}
}

// PostEntry submits content to the channel. A 429 maps to RateLimitError and
// is never retried here; the dispatcher owns the rate-limit policy. Other
// unexpected statuses map to HTTPError. Transport failures are retried with
// doubling delays before surfacing as NetworkError.
func (c *Client) PostEntry(ctx context.Context, channelID, content string) (domain.Entry, error) {
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	payload, err := json.Marshal(map[string]interface{}{
		"content": content,
		"tts":     false,
	})
	if err != nil {
		return domain.Entry{}, err
	}

	var lastErr error
	delay := c.retryBase
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return domain.Entry{}, err
			}
			delay *= 2
			c.Reconnect()
		}

		req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
		if err != nil {
			return domain.Entry{}, err
		}
		resp, err := c.session().Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var msg wireMessage
			err = json.NewDecoder(resp.Body).Decode(&msg)
			resp.Body.Close()
			if err != nil {
				return domain.Entry{}, fmt.Errorf("decode posted entry: %w", err)
			}
			return msg.toEntry(), nil
		case http.StatusTooManyRequests:
			var body struct {
				RetryAfter float64 `json:"retry_after"`
			}
			err = json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			if err != nil || body.RetryAfter <= 0 {
				body.RetryAfter = 1
			}
			return domain.Entry{}, &RateLimitError{
				RetryAfter: time.Duration(body.RetryAfter * float64(time.Second)),
			}
		default:
			httpErr := &HTTPError{Status: resp.StatusCode, Body: readBody(resp.Body)}
			resp.Body.Close()
			return domain.Entry{}, httpErr
		}
	}
	return domain.Entry{}, &NetworkError{Err: lastErr}
}

// TriggerTyping shows the typing indicator in the channel.
func (c *Client) TriggerTyping(ctx context.Context, channelID string) error {
	path := fmt.Sprintf("/channels/%s/typing", url.PathEscape(channelID))
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.session().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &HTTPError{Status: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func readBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(raw)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
