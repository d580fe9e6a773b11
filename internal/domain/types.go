package domain

import "time"

// Entry is a single message observed in the counting channel.
type Entry struct {
	ID         string    `json:"id"`
	AuthorName string    `json:"author_name"`
	AuthorID   string    `json:"author_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Profile is the resolved identity behind a posting token.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type ScanOutcome string

const (
	ScanResetDetected ScanOutcome = "RESET_DETECTED"
	ScanCountFound    ScanOutcome = "COUNT_FOUND"
	ScanNoChange      ScanOutcome = "NO_CHANGE"
	ScanFailed        ScanOutcome = "SCAN_FAILED"
)

// ScanResult is produced once per scan cycle and consumed immediately by the
// counting state machine.
type ScanResult struct {
	Outcome ScanOutcome

	// RESET_DETECTED
	ResetAt time.Time

	// COUNT_FOUND
	Count       int
	PosterName  string
	PosterID    string
	PosterIndex int // index into the identity pool, -1 when external
	External    bool
	ObservedAt  time.Time

	// SCAN_FAILED
	FailureReason string
}

type Action string

const (
	ActionContinue    Action = "CONTINUE_COUNTING"
	ActionStopReset   Action = "STOP_AND_RESET"
	ActionAutoRestart Action = "STOP_AND_AUTO_RESTART"
	ActionWaitRetry   Action = "WAIT_AND_RETRY"
)

// CounterState is the in-process view derived from channel history. The
// channel itself remains authoritative; scans rebuild this view.
// LastPosterIndex is -1 when the last poster was external or unknown.
type CounterState struct {
	CurrentCount    int       `json:"current_count"`
	LastPosterIndex int       `json:"last_poster_index"`
	LastPosterID    string    `json:"last_poster_id,omitempty"`
	LastResetAt     time.Time `json:"last_reset_at"`
	CountsPerformed int       `json:"-"`
}

// IdentityRecord is the persisted form of one posting identity.
type IdentityRecord struct {
	DisplayName string `json:"display_name"`
	Token       string `json:"token"`
	UserAgent   string `json:"user_agent,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
	SendCount   int    `json:"send_count"`
}

// Settings holds the runtime-mutable counting configuration. Delays are in
// seconds to keep the persisted form readable.
type Settings struct {
	ChannelID         string   `json:"channel_id"`
	MinDelay          float64  `json:"min_delay"`
	MaxDelay          float64  `json:"max_delay"`
	JitterFactor      float64  `json:"jitter_factor"`
	RunHoursStart     int      `json:"run_hours_start"`
	RunHoursEnd       int      `json:"run_hours_end"`
	CountLimit        int      `json:"count_limit,omitempty"`
	BotNames          []string `json:"bot_usernames"`
	SpeedMode         bool     `json:"speed_mode"`
	MessagesPerSecond float64  `json:"messages_per_second"`
	VerifyLastMessage bool     `json:"verify_last_message"`
	AutoRestart       bool     `json:"auto_restart_after_reset"`
	SoloMode          bool     `json:"solo_mode"`
	// SoloTimeout is persisted for compatibility with older state files but
	// no longer consulted: solo mode always waits for a different poster.
	SoloTimeout int `json:"solo_timeout"`
}

func DefaultSettings() Settings {
	return Settings{
		MinDelay:          1.0,
		MaxDelay:          2.0,
		JitterFactor:      0.2,
		RunHoursStart:     1,
		RunHoursEnd:       5,
		BotNames:          []string{"counting", "Counting", "CountingBot", "APP", "APP counting"},
		MessagesPerSecond: 5.0,
		VerifyLastMessage: true,
		SoloTimeout:       300,
	}
}

// Snapshot is the unit of persistence: counter state, identity pool metadata
// and settings, saved together.
type Snapshot struct {
	State      CounterState     `json:"state"`
	Identities []IdentityRecord `json:"identities"`
	Settings   Settings         `json:"settings"`
}

func DefaultSnapshot() Snapshot {
	return Snapshot{
		State:    CounterState{LastPosterIndex: -1},
		Settings: DefaultSettings(),
	}
}

type EventType string

const (
	EventCountingStarted EventType = "CountingStarted"
	EventCountingStopped EventType = "CountingStopped"
	EventResetDetected   EventType = "ResetDetected"
	EventLimitReached    EventType = "LimitReached"
	EventRateAdjusted    EventType = "RateAdjusted"
	EventWatchdogFired   EventType = "WatchdogFired"
)

type Event struct {
	ID        string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}
