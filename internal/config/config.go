package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr string

	StoreMode          string
	DatabaseURL        string
	StatePath          string
	TokenEncryptionKey string

	AdminUsername string
	AdminPassword string
	JWTSecret     string

	DiscordAPIBaseURL string
	DiscordTimeout    time.Duration
	SendMaxRetries    int
	SendRetryBase     time.Duration

	ScanWindow      int
	WatchdogTimeout time.Duration
	RestartGrace    time.Duration
	SnapshotEvery   int

	WebhookURL       string
	WebhookTimeout   time.Duration
	TelegramBotToken string
	TelegramChatID   string
}

func Load() Config {
	return Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":18090"),
		StoreMode:          getEnv("STORE_MODE", "file"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		StatePath:          getEnv("STATE_PATH", "counter_state.json"),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:          getEnv("JWT_SECRET", "change-this-secret"),
		DiscordAPIBaseURL:  getEnv("DISCORD_API_BASE_URL", "https://discord.com/api/v9"),
		DiscordTimeout:     getDuration("DISCORD_TIMEOUT", 10*time.Second),
		SendMaxRetries:     getInt("SEND_MAX_RETRIES", 3),
		SendRetryBase:      getDuration("SEND_RETRY_BASE", 1*time.Second),
		ScanWindow:         getInt("SCAN_WINDOW", 30),
		WatchdogTimeout:    getDuration("WATCHDOG_TIMEOUT", 60*time.Second),
		RestartGrace:       getDuration("RESTART_GRACE", 3*time.Second),
		SnapshotEvery:      getInt("SNAPSHOT_EVERY", 10),
		WebhookURL:         getEnv("WEBHOOK_URL", ""),
		WebhookTimeout:     getDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:     getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
