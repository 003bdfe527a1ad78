package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string // API bind address, e.g. "127.0.0.1:8080" or ":8080" in a container
	LogDir      string
	LogLevel    string
	LogConsole  bool
	DatabaseURL string // empty means in-memory store

	HistoryCap       int
	MinIntervalMS    int
	DefaultTimeoutMS int
	MaxRetryAttempts int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	TickPolicy       string
	PrivilegedPing   bool
	EventBuffer      int
	MonitorsFile     string

	SlackWebhook    string
	TelegramToken   string
	TelegramChatID  int64
	AlertCooldown   time.Duration
	AlertOnRecovery bool

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
	AllowedOrigins []string
}

func FromEnv() Config {
	return Config{
		Addr:        str("API_ADDR", "127.0.0.1:8080"),
		LogDir:      str("LOG_DIR", "logs"),
		LogLevel:    str("LOG_LEVEL", "info"),
		LogConsole:  boolean("LOG_CONSOLE", false),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		HistoryCap:       positive("HISTORY_CAP", 100),
		MinIntervalMS:    positive("MIN_CHECK_INTERVAL_MS", 5000),
		DefaultTimeoutMS: positive("DEFAULT_TIMEOUT_MS", 10000),
		MaxRetryAttempts: nonNegative("MAX_RETRY_ATTEMPTS", 10),
		RetryBackoff:     millis("RETRY_BACKOFF_MS", 300),
		RetryBackoffMax:  millis("RETRY_BACKOFF_MAX_MS", 5000),
		TickPolicy:       str("TICK_POLICY", "reschedule"),
		PrivilegedPing:   boolean("PING_PRIVILEGED", false),
		EventBuffer:      positive("EVENT_BUFFER", 256),
		MonitorsFile:     os.Getenv("MONITORS_FILE"),

		SlackWebhook:    os.Getenv("SLACK_WEBHOOK_URL"),
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:  int64Env("TELEGRAM_CHAT_ID"),
		AlertCooldown:   millis("ALERT_COOLDOWN_MS", 10*60*1000),
		AlertOnRecovery: boolean("ALERT_ON_RECOVERY", true),

		PublicAPIKeys:  list("PUBLIC_API_KEYS"),
		AdminAPIKeys:   list("ADMIN_API_KEYS"),
		PublicRPM:      positive("PUBLIC_RPM", 60),
		PublicBurst:    positive("PUBLIC_BURST", 20),
		AdminRPM:       positive("ADMIN_RPM", 120),
		AdminBurst:     positive("ADMIN_BURST", 40),
		AllowedOrigins: list("ALLOWED_ORIGINS"),
	}
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positive(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func nonNegative(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n >= 0 {
		return n
	}
	return def
}

func millis(key string, def int) time.Duration {
	return time.Duration(nonNegative(key, def)) * time.Millisecond
}

func int64Env(key string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	return n
}

func boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

// list splits a comma separated value, dropping blanks.
func list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
