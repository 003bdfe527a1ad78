package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}
	key := os.Getenv("ADMIN_API_KEY")

	reader := bufio.NewReader(os.Stdin)
	ask := func(prompt string) string {
		fmt.Print(prompt)
		s, _ := reader.ReadString('\n')
		return strings.TrimSpace(s)
	}

	raw := ask("Enter a site URL or host:port to monitor (e.g., https://example.com): ")
	monitor, err := buildMonitor(raw)
	if err != nil {
		fmt.Println(err)
		return
	}
	if v := ask("Check interval in seconds [60]: "); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fmt.Println("Invalid interval.")
			return
		}
		monitor["check_interval_ms"] = n * 1000
	}
	monitor["monitoring"] = true

	body, _ := json.Marshal(monitor)
	req, _ := http.NewRequest(http.MethodPost, api+"/api/monitors", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		return
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var created struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(out, &created)
		fmt.Printf("Added %s. Follow it with GET /api/monitors/%s or the /api/events stream.\n", created.ID, created.ID)
	} else {
		fmt.Println("API returned status:", resp.Status, strings.TrimSpace(string(out)))
	}
}

// buildMonitor turns "host:port" into a port monitor and anything else into
// an HTTP monitor, defaulting the scheme to https.
func buildMonitor(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, fmt.Errorf("nothing to monitor")
	}
	if !strings.Contains(raw, "://") {
		if host, port, ok := strings.Cut(raw, ":"); ok {
			if n, err := strconv.Atoi(port); err == nil {
				return map[string]any{
					"type": "port",
					"port": map[string]any{"host": host, "port": n},
				}, nil
			}
		}
		raw = "https://" + raw
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	return map[string]any{
		"type": "http",
		"http": map[string]any{"url": raw, "follow_redirects": true},
	}, nil
}
