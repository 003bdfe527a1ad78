// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg := config.FromEnv()

	if len(cfg.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (admin routes are open).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty (read routes accept admin keys only).")
	}
	for name, v := range map[string]string{
		"ADMIN_API_KEYS":  os.Getenv("ADMIN_API_KEYS"),
		"PUBLIC_API_KEYS": os.Getenv("PUBLIC_API_KEYS"),
	} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; they are trimmed, but key1,key2 is the expected form")
		}
	}

	ok("API_ADDR=" + cfg.Addr)

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty, monitors and history are kept in memory only.")
	} else {
		ok("DATABASE_URL present")
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty, any origin is allowed by CORS.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if _, err := scheduler.ParseTickPolicy(cfg.TickPolicy); err != nil {
		fail("TICK_POLICY: " + err.Error())
	} else {
		ok("TICK_POLICY=" + cfg.TickPolicy)
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoff {
		warn("RETRY_BACKOFF_MAX_MS is below RETRY_BACKOFF_MS; the base backoff is used as the cap.")
	}

	if cfg.SlackWebhook == "" && (cfg.TelegramToken == "" || cfg.TelegramChatID == 0) {
		warn("no Slack webhook or Telegram bot configured, alerts only go to the log.")
	}

	if cfg.MonitorsFile != "" {
		checkSeed(cfg, ok, fail)
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}

// checkSeed validates every seeded monitor the way the API would.
func checkSeed(cfg config.Config, ok, fail func(string)) {
	seed, err := config.LoadSeed(cfg.MonitorsFile)
	if err != nil {
		fail(err.Error())
		return
	}
	limits := domain.Limits{
		MinIntervalMS:    cfg.MinIntervalMS,
		DefaultTimeoutMS: cfg.DefaultTimeoutMS,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
	}
	n := 0
	check := func(sm config.SeedMonitor) {
		m := sm.Monitor(true)
		m.ApplyDefaults(limits)
		if err := m.Validate(limits); err != nil {
			fail(fmt.Sprintf("MONITORS_FILE monitor %q: %v", sm.Name, err))
			return
		}
		n++
	}
	for _, s := range seed.Sites {
		for _, sm := range s.Monitors {
			check(sm)
		}
	}
	for _, sm := range seed.Monitors {
		check(sm)
	}
	ok(fmt.Sprintf("MONITORS_FILE: %d valid monitors", n))
}
