package scanner

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
	"github.com/korzewarrior/discord-countingbot/internal/identity"
)

const (
	// DefaultWindow is how many recent entries one scan considers.
	DefaultWindow = 30
	// resetScanDepth bounds the reset-detection pass to the newest entries.
	resetScanDepth = 15
	// recencyWindow keeps stale reset notices from re-triggering.
	recencyWindow = 5 * time.Minute

	fixWindow      = 10
	deepScanWindow = 50
)

// Scanner reconstructs counter state from channel history through whichever
// identity can currently read the channel.
type Scanner struct {
	pool   *identity.Pool
	window int
	now    func() time.Time
}

func New(pool *identity.Pool, window int) *Scanner {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Scanner{pool: pool, window: window, now: time.Now}
}

// fetch reads a window of entries via the first identity that returns a
// non-empty batch. This is an availability choice, not a quorum read: any
// working session sees the same append-only history.
func (s *Scanner) fetch(ctx context.Context, channelID string, limit int) ([]domain.Entry, error) {
	for i := 0; i < s.pool.Len(); i++ {
		id, ok := s.pool.Get(i)
		if !ok {
			break
		}
		entries, err := id.Transport.FetchRecentEntries(ctx, channelID, limit)
		if err != nil {
			log.Printf("scan: fetch via %s failed: %v", id.DisplayName, err)
			continue
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
	return nil, errors.New("no entries found in channel")
}

// Scan classifies a window of recent entries into a ScanResult. Reset
// detection runs first and wins over count derivation unconditionally.
func (s *Scanner) Scan(ctx context.Context, channelID string, botNames []string, lastResetAt time.Time) domain.ScanResult {
	entries, err := s.fetch(ctx, channelID, s.window)
	if err != nil {
		return domain.ScanResult{Outcome: domain.ScanFailed, FailureReason: err.Error()}
	}

	cutoff := s.now().Add(-recencyWindow)
	if lastResetAt.After(cutoff) {
		cutoff = lastResetAt
	}

	head := entries
	if len(head) > resetScanDepth {
		head = head[:resetScanDepth]
	}
	var resetAt time.Time
	for _, e := range head {
		// Strictly after: a notice at exactly lastResetAt was already handled.
		if !e.Timestamp.After(cutoff) {
			continue
		}
		if !IsModerator(e.AuthorName, botNames) {
			continue
		}
		if IsResetNotice(e.Content) {
			log.Printf("scan: reset notice from %s: %s", e.AuthorName, excerpt(e.Content))
			if e.Timestamp.After(resetAt) {
				resetAt = e.Timestamp
			}
		}
	}
	if !resetAt.IsZero() {
		return domain.ScanResult{Outcome: domain.ScanResetDetected, ResetAt: resetAt}
	}

	return s.deriveCount(entries, botNames, lastResetAt)
}

// deriveCount picks the newest pure-integer entry posted after the last
// reset by a non-moderator author.
func (s *Scanner) deriveCount(entries []domain.Entry, botNames []string, lastResetAt time.Time) domain.ScanResult {
	var (
		found   bool
		best    domain.Entry
		bestVal int
	)
	for _, e := range entries {
		if !e.Timestamp.IsZero() && !e.Timestamp.After(lastResetAt) {
			continue
		}
		if IsModerator(e.AuthorName, botNames) {
			continue
		}
		content := strings.TrimSpace(e.Content)
		if !isCountLiteral(content) {
			continue
		}
		value, err := strconv.Atoi(content)
		if err != nil {
			continue
		}
		// Entries arrive most-recent-first, so on equal timestamps the
		// earlier hit stays.
		if !found || e.Timestamp.After(best.Timestamp) {
			found = true
			best = e
			bestVal = value
		}
	}
	if !found {
		return domain.ScanResult{Outcome: domain.ScanNoChange}
	}

	index := s.pool.IndexByName(best.AuthorName)
	return domain.ScanResult{
		Outcome:     domain.ScanCountFound,
		Count:       bestVal,
		PosterName:  best.AuthorName,
		PosterID:    best.AuthorID,
		PosterIndex: index,
		External:    index < 0,
		ObservedAt:  best.Timestamp,
	}
}

// FixScan is the emergency re-derivation used to repair a count mismatch: a
// short window, no recency filtering, reset notices still win.
func (s *Scanner) FixScan(ctx context.Context, channelID string, botNames []string) domain.ScanResult {
	entries, err := s.fetch(ctx, channelID, fixWindow)
	if err != nil {
		return domain.ScanResult{Outcome: domain.ScanFailed, FailureReason: err.Error()}
	}
	for _, e := range entries {
		if !IsModerator(e.AuthorName, botNames) {
			continue
		}
		lowered := strings.ToLower(e.Content)
		if strings.Contains(lowered, "next number is 1") || strings.Contains(e.Content, "⚠") {
			log.Printf("fix scan: reset notice: %s", excerpt(e.Content))
			return domain.ScanResult{Outcome: domain.ScanResetDetected, ResetAt: e.Timestamp}
		}
	}
	return s.deriveCount(entries, botNames, time.Time{})
}

// DeepRescan sweeps a larger window for reset notices with the recency
// filter disabled and looser matching. Used when the operator suspects a
// missed reset.
func (s *Scanner) DeepRescan(ctx context.Context, channelID string, botNames []string) domain.ScanResult {
	entries, err := s.fetch(ctx, channelID, deepScanWindow)
	if err != nil {
		return domain.ScanResult{Outcome: domain.ScanFailed, FailureReason: err.Error()}
	}
	for _, e := range entries {
		if !IsModerator(e.AuthorName, botNames) {
			continue
		}
		lowered := strings.ToLower(e.Content)
		if strings.Contains(lowered, "ruined") || strings.Contains(lowered, "reset") || strings.Contains(lowered, "next number is 1") {
			log.Printf("deep rescan: reset notice from %s: %s", e.AuthorName, excerpt(e.Content))
			return domain.ScanResult{Outcome: domain.ScanResetDetected, ResetAt: e.Timestamp}
		}
	}
	return domain.ScanResult{Outcome: domain.ScanNoChange}
}

func excerpt(content string) string {
	if len(content) > 80 {
		return content[:80] + "..."
	}
	return content
}
