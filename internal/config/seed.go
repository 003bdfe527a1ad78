package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Seed is the optional YAML file that bootstraps an empty store.
//
//	sites:
//	  - name: Shop
//	    monitoring: true
//	    monitors:
//	      - name: storefront
//	        type: http
//	        http: {url: "https://shop.example.com"}
type Seed struct {
	Sites    []SeedSite    `yaml:"sites"`
	Monitors []SeedMonitor `yaml:"monitors"`
}

type SeedSite struct {
	Name       string        `yaml:"name"`
	Monitoring bool          `yaml:"monitoring"`
	Monitors   []SeedMonitor `yaml:"monitors"`
}

type SeedMonitor struct {
	Name            string                  `yaml:"name"`
	Type            string                  `yaml:"type"`
	CheckIntervalMS int                     `yaml:"check_interval_ms"`
	TimeoutMS       int                     `yaml:"timeout_ms"`
	RetryAttempts   int                     `yaml:"retry_attempts"`
	Monitoring      *bool                   `yaml:"monitoring"`
	HTTP            *domain.HTTPParams      `yaml:"http"`
	Port            *domain.PortParams      `yaml:"port"`
	Ping            *domain.PingParams      `yaml:"ping"`
	Heartbeat       *domain.HeartbeatParams `yaml:"heartbeat"`
}

// Monitor converts the entry. Monitoring falls back to inherit when unset.
func (s SeedMonitor) Monitor(inherit bool) domain.Monitor {
	monitoring := inherit
	if s.Monitoring != nil {
		monitoring = *s.Monitoring
	}
	return domain.Monitor{
		Name:            s.Name,
		Type:            domain.MonitorType(s.Type),
		HTTP:            s.HTTP,
		Port:            s.Port,
		Ping:            s.Ping,
		Heartbeat:       s.Heartbeat,
		CheckIntervalMS: s.CheckIntervalMS,
		TimeoutMS:       s.TimeoutMS,
		RetryAttempts:   s.RetryAttempts,
		Monitoring:      monitoring,
	}
}

func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &s, nil
}
