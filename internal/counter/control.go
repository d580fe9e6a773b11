package counter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
)

// Options carries a partial settings update; nil fields are left unchanged.
type Options struct {
	ChannelID         *string   `json:"channel_id,omitempty"`
	MinDelay          *float64  `json:"min_delay,omitempty"`
	MaxDelay          *float64  `json:"max_delay,omitempty"`
	JitterFactor      *float64  `json:"jitter_factor,omitempty"`
	RunHoursStart     *int      `json:"run_hours_start,omitempty"`
	RunHoursEnd       *int      `json:"run_hours_end,omitempty"`
	CountLimit        *int      `json:"count_limit,omitempty"`
	BotNames          *[]string `json:"bot_usernames,omitempty"`
	SpeedMode         *bool     `json:"speed_mode,omitempty"`
	MessagesPerSecond *float64  `json:"messages_per_second,omitempty"`
	VerifyLastMessage *bool     `json:"verify_last_message,omitempty"`
	AutoRestart       *bool     `json:"auto_restart_after_reset,omitempty"`
	SoloMode          *bool     `json:"solo_mode,omitempty"`

	// SmartSpeed is a preset: high-rate speed mode with verification off.
	SmartSpeed *bool `json:"smart_speed,omitempty"`
}

// Configure applies a partial settings update and persists it. While counting
// is active the pacer is rebuilt, which also resets the adaptive modifier.
func (e *Engine) Configure(opts Options) (domain.Settings, error) {
	e.mu.Lock()
	s := e.settings
	if opts.ChannelID != nil {
		s.ChannelID = *opts.ChannelID
	}
	if opts.MinDelay != nil {
		s.MinDelay = *opts.MinDelay
	}
	if opts.MaxDelay != nil {
		s.MaxDelay = *opts.MaxDelay
	}
	if opts.JitterFactor != nil {
		s.JitterFactor = *opts.JitterFactor
	}
	if opts.RunHoursStart != nil {
		s.RunHoursStart = *opts.RunHoursStart
	}
	if opts.RunHoursEnd != nil {
		s.RunHoursEnd = *opts.RunHoursEnd
	}
	if opts.CountLimit != nil {
		s.CountLimit = *opts.CountLimit
	}
	if opts.BotNames != nil {
		s.BotNames = *opts.BotNames
	}
	if opts.SpeedMode != nil {
		s.SpeedMode = *opts.SpeedMode
	}
	if opts.MessagesPerSecond != nil {
		s.MessagesPerSecond = *opts.MessagesPerSecond
	}
	if opts.VerifyLastMessage != nil {
		s.VerifyLastMessage = *opts.VerifyLastMessage
	}
	if opts.AutoRestart != nil {
		s.AutoRestart = *opts.AutoRestart
	}
	if opts.SoloMode != nil {
		s.SoloMode = *opts.SoloMode
	}
	if opts.SmartSpeed != nil && *opts.SmartSpeed {
		s.SpeedMode = true
		s.MessagesPerSecond = 20.0
		s.VerifyLastMessage = false
	}

	if err := validateSettings(s); err != nil {
		prev := e.settings
		e.mu.Unlock()
		return prev, err
	}

	e.settings = s
	if e.active {
		e.pacer = NewPacer(s)
		log.Printf("settings changed while active, pacing state reset")
	}
	e.mu.Unlock()

	e.persist()
	return s, nil
}

func validateSettings(s domain.Settings) error {
	if s.MinDelay < 0 || s.MaxDelay < s.MinDelay {
		return fmt.Errorf("invalid delay range [%.2f, %.2f]", s.MinDelay, s.MaxDelay)
	}
	if s.JitterFactor < 0 || s.JitterFactor >= 1 {
		return fmt.Errorf("jitter factor %.2f out of range [0, 1)", s.JitterFactor)
	}
	if s.RunHoursStart < 0 || s.RunHoursStart > 23 || s.RunHoursEnd < 0 || s.RunHoursEnd > 23 {
		return errors.New("run hours must be within 0-23")
	}
	if s.SpeedMode && s.MessagesPerSecond <= 0 {
		return errors.New("speed mode needs a positive messages_per_second")
	}
	return nil
}

// IdentityStatus is the public view of one pool identity. Tokens never leave
// the process.
type IdentityStatus struct {
	DisplayName string `json:"display_name"`
	ExternalID  string `json:"external_id,omitempty"`
	SendCount   int    `json:"send_count"`
}

type Status struct {
	Active          bool             `json:"active"`
	CurrentCount    int              `json:"current_count"`
	LastPosterIndex int              `json:"last_poster_index"`
	LastResetAt     time.Time        `json:"last_reset_at"`
	CountsPerformed int              `json:"counts_performed"`
	DelayModifier   float64          `json:"delay_modifier"`
	Settings        domain.Settings  `json:"settings"`
	Identities      []IdentityStatus `json:"identities"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Active:          e.active,
		CurrentCount:    e.state.CurrentCount,
		LastPosterIndex: e.state.LastPosterIndex,
		LastResetAt:     e.state.LastResetAt,
		CountsPerformed: e.state.CountsPerformed,
		DelayModifier:   1.0,
	}
	if e.pacer != nil {
		st.DelayModifier = e.pacer.Modifier()
	}
	st.Settings = e.settings
	e.mu.Unlock()

	for _, rec := range e.pool.Records() {
		st.Identities = append(st.Identities, IdentityStatus{
			DisplayName: rec.DisplayName,
			ExternalID:  rec.ExternalID,
			SendCount:   rec.SendCount,
		})
	}
	return st
}

// FixCount rederives the count from a short history window, ignoring the
// recency filters. It repairs state drift without spawning a restart.
func (e *Engine) FixCount(ctx context.Context) (domain.ScanResult, error) {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()
	if settings.ChannelID == "" {
		return domain.ScanResult{}, ErrNoChannel
	}

	res := e.scanner.FixScan(ctx, settings.ChannelID, settings.BotNames)
	if res.Outcome == domain.ScanFailed {
		return res, errors.New(res.FailureReason)
	}
	e.mu.Lock()
	Apply(&e.state, res, false, e.now())
	count := e.state.CurrentCount
	e.mu.Unlock()
	e.persist()
	log.Printf("fix: count is now %d", count)
	return res, nil
}

// DeepRescan sweeps a large window for missed reset notices.
func (e *Engine) DeepRescan(ctx context.Context) (domain.ScanResult, error) {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()
	if settings.ChannelID == "" {
		return domain.ScanResult{}, ErrNoChannel
	}

	res := e.scanner.DeepRescan(ctx, settings.ChannelID, settings.BotNames)
	if res.Outcome == domain.ScanFailed {
		return res, errors.New(res.FailureReason)
	}
	if res.Outcome == domain.ScanResetDetected {
		e.mu.Lock()
		Apply(&e.state, res, false, e.now())
		e.mu.Unlock()
		e.persist()
		e.emitEvent(domain.EventResetDetected, map[string]interface{}{
			"reset_at": res.ResetAt,
			"source":   "deep_rescan",
		})
	}
	return res, nil
}

func (e *Engine) ReconnectAll() {
	e.pool.ReconnectAll()
}

func (e *Engine) AddIdentity(ctx context.Context, rec domain.IdentityRecord) error {
	if rec.DisplayName == "" || rec.Token == "" {
		return errors.New("identity needs a display name and a token")
	}
	if err := e.pool.Add(rec); err != nil {
		return err
	}
	e.pool.ResolveAll(ctx)
	e.persist()
	return nil
}

func (e *Engine) RemoveIdentity(displayName string) error {
	if err := e.pool.Remove(displayName); err != nil {
		return err
	}
	e.persist()
	return nil
}

func (e *Engine) Events(limit int) []domain.Event {
	return e.store.ListEvents(limit)
}
