package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
	"github.com/korzewarrior/discord-countingbot/internal/identity"
)

type fakeReader struct {
	entries []domain.Entry
	err     error
}

func (f *fakeReader) FetchSelf(ctx context.Context) (domain.Profile, error) {
	return domain.Profile{}, nil
}

func (f *fakeReader) FetchRecentEntries(ctx context.Context, channelID string, limit int) ([]domain.Entry, error) {
	return f.entries, f.err
}

func (f *fakeReader) PostEntry(ctx context.Context, channelID, content string) (domain.Entry, error) {
	return domain.Entry{}, nil
}

func (f *fakeReader) TriggerTyping(ctx context.Context, channelID string) error { return nil }

func (f *fakeReader) Reconnect() {}

var scanNow = time.Date(2024, 3, 1, 2, 30, 0, 0, time.UTC)

func poolWithEntries(t *testing.T, names []string, readers map[string]*fakeReader) *identity.Pool {
	t.Helper()
	records := make([]domain.IdentityRecord, 0, len(names))
	for _, n := range names {
		records = append(records, domain.IdentityRecord{DisplayName: n, Token: "tok-" + n})
	}
	return identity.NewPool(records, func(rec domain.IdentityRecord) identity.Transport {
		return readers[rec.DisplayName]
	})
}

func newTestScanner(t *testing.T, entries []domain.Entry) *Scanner {
	t.Helper()
	pool := poolWithEntries(t, []string{"alpha", "beta"}, map[string]*fakeReader{
		"alpha": {entries: entries},
		"beta":  {entries: entries},
	})
	s := New(pool, 0)
	s.now = func() time.Time { return scanNow }
	return s
}

func entry(author, authorID, content string, age time.Duration) domain.Entry {
	return domain.Entry{
		AuthorName: author,
		AuthorID:   authorID,
		Content:    content,
		Timestamp:  scanNow.Add(-age),
	}
}

func TestScanResetWinsOverCountDerivation(t *testing.T) {
	s := newTestScanner(t, []domain.Entry{
		entry("carol", "u3", "5", 10*time.Second),
		entry("APP", "bot1", "carol RUINED IT AT 5! The next number is **1**.", 20*time.Second),
		entry("dave", "u4", "6", 40*time.Second),
	})
	res := s.Scan(context.Background(), "chan", defaultBotNames, time.Time{})
	if res.Outcome != domain.ScanResetDetected {
		t.Fatalf("Outcome = %s, want RESET_DETECTED", res.Outcome)
	}
	if !res.ResetAt.Equal(scanNow.Add(-20 * time.Second)) {
		t.Fatalf("ResetAt = %s, want reset entry timestamp", res.ResetAt)
	}
}

func TestScanIgnoresStaleResetNotices(t *testing.T) {
	s := newTestScanner(t, []domain.Entry{
		entry("carol", "u3", "17", 30*time.Second),
		entry("APP", "bot1", "RUINED IT AT 9! Next number is 1.", 10*time.Minute),
	})
	res := s.Scan(context.Background(), "chan", defaultBotNames, time.Time{})
	if res.Outcome != domain.ScanCountFound {
		t.Fatalf("Outcome = %s, want COUNT_FOUND", res.Outcome)
	}
	if res.Count != 17 {
		t.Fatalf("Count = %d, want 17", res.Count)
	}
}

func TestScanIgnoresResetNoticesBeforeLastReset(t *testing.T) {
	lastReset := scanNow.Add(-1 * time.Minute)
	s := newTestScanner(t, []domain.Entry{
		entry("APP", "bot1", "Next number is 1.", 2*time.Minute),
	})
	res := s.Scan(context.Background(), "chan", defaultBotNames, lastReset)
	if res.Outcome != domain.ScanNoChange {
		t.Fatalf("Outcome = %s, want NO_CHANGE", res.Outcome)
	}
}

func TestScanPicksNewestCountAndBindsPoolIdentity(t *testing.T) {
	s := newTestScanner(t, []domain.Entry{
		entry("ALPHA", "id-alpha", "12", 5*time.Second),
		entry("carol", "u3", "11", 15*time.Second),
		entry("APP", "bot1", "11", 8*time.Second), // moderator digits never count
	})
	res := s.Scan(context.Background(), "chan", defaultBotNames, time.Time{})
	if res.Outcome != domain.ScanCountFound {
		t.Fatalf("Outcome = %s, want COUNT_FOUND", res.Outcome)
	}
	if res.Count != 12 || res.PosterIndex != 0 || res.External {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestScanMarksExternalPosters(t *testing.T) {
	s := newTestScanner(t, []domain.Entry{
		entry("stranger", "u9", "42", 5*time.Second),
	})
	res := s.Scan(context.Background(), "chan", defaultBotNames, time.Time{})
	if !res.External || res.PosterIndex != -1 || res.PosterID != "u9" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestScanSkipsCountsFromBeforeLastReset(t *testing.T) {
	lastReset := scanNow.Add(-30 * time.Second)
	s := newTestScanner(t, []domain.Entry{
		entry("carol", "u3", "6", 1*time.Minute), // pre-reset, must not count
	})
	res := s.Scan(context.Background(), "chan", defaultBotNames, lastReset)
	if res.Outcome != domain.ScanNoChange {
		t.Fatalf("Outcome = %s, want NO_CHANGE", res.Outcome)
	}
}

func TestScanFailsWhenNoIdentityReturnsEntries(t *testing.T) {
	pool := poolWithEntries(t, []string{"alpha", "beta"}, map[string]*fakeReader{
		"alpha": {err: errors.New("timeout")},
		"beta":  {},
	})
	s := New(pool, 0)
	s.now = func() time.Time { return scanNow }
	res := s.Scan(context.Background(), "chan", defaultBotNames, time.Time{})
	if res.Outcome != domain.ScanFailed {
		t.Fatalf("Outcome = %s, want SCAN_FAILED", res.Outcome)
	}
}

func TestScanFallsBackToNextIdentity(t *testing.T) {
	pool := poolWithEntries(t, []string{"alpha", "beta"}, map[string]*fakeReader{
		"alpha": {err: errors.New("timeout")},
		"beta":  {entries: []domain.Entry{entry("carol", "u3", "3", 5*time.Second)}},
	})
	s := New(pool, 0)
	s.now = func() time.Time { return scanNow }
	res := s.Scan(context.Background(), "chan", defaultBotNames, time.Time{})
	if res.Outcome != domain.ScanCountFound || res.Count != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFixScanRederivesCountIgnoringTimeFilters(t *testing.T) {
	s := newTestScanner(t, []domain.Entry{
		entry("carol", "u3", "88", 3*time.Hour),
	})
	res := s.FixScan(context.Background(), "chan", defaultBotNames)
	if res.Outcome != domain.ScanCountFound || res.Count != 88 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFixScanPrefersResetNotice(t *testing.T) {
	s := newTestScanner(t, []domain.Entry{
		entry("carol", "u3", "88", 10*time.Second),
		entry("APP", "bot1", "⚠️ The next number is **1**.", 20*time.Second),
	})
	res := s.FixScan(context.Background(), "chan", defaultBotNames)
	if res.Outcome != domain.ScanResetDetected {
		t.Fatalf("Outcome = %s, want RESET_DETECTED", res.Outcome)
	}
}

func TestDeepRescanFindsOldResets(t *testing.T) {
	s := newTestScanner(t, []domain.Entry{
		entry("carol", "u3", "88", 10*time.Second),
		entry("APP", "bot1", "carol RUINED IT AT 88!", 6*time.Hour),
	})
	res := s.DeepRescan(context.Background(), "chan", defaultBotNames)
	if res.Outcome != domain.ScanResetDetected {
		t.Fatalf("Outcome = %s, want RESET_DETECTED", res.Outcome)
	}
	res = s.DeepRescan(context.Background(), "chan", nil)
	if res.Outcome != domain.ScanNoChange {
		t.Fatalf("Outcome = %s, want NO_CHANGE with no moderators", res.Outcome)
	}
}
