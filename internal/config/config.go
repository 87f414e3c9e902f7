// Package config resolves depthwatch settings from the environment, with an
// optional YAML file supplying defaults. Environment variables win.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Venue holds one exchange's connection settings. Markets are pair strings
// in "BASE_QUOTE" form.
type Venue struct {
	WSURL   string   `yaml:"ws_url"`
	APIURL  string   `yaml:"api"`
	APIKey  string   `yaml:"api_key"`
	Markets []string `yaml:"markets"`
}

// Config is the process-wide configuration.
type Config struct {
	DBURL       string           `yaml:"db_url"`
	RedisURL    string           `yaml:"redis_url"`
	MetricsAddr string           `yaml:"metrics_addr"`
	PriceAPI    string           `yaml:"price_api"`
	Venues      map[string]Venue `yaml:"venues"`
}

// Load reads the optional YAML file at path (empty path skips it), then
// applies environment overrides for the given venue names. A missing DB_URL
// is fatal for every command except pure parsing, so callers check it.
func Load(path string, venues []string) (*Config, error) {
	cfg := &Config{Venues: make(map[string]Venue)}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if cfg.Venues == nil {
			cfg.Venues = make(map[string]Venue)
		}
	}

	if v := os.Getenv("DB_URL"); v != "" {
		cfg.DBURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("PRICE_API"); v != "" {
		cfg.PriceAPI = v
	}

	for _, name := range venues {
		venue := cfg.Venues[name]
		prefix := strings.ToUpper(name)
		if v := os.Getenv(prefix + "_WS_URL"); v != "" {
			venue.WSURL = v
		}
		if v := os.Getenv(prefix + "_API"); v != "" {
			venue.APIURL = v
		}
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			venue.APIKey = v
		}
		if v := os.Getenv(prefix + "_MARKETS"); v != "" {
			venue.Markets = splitMarkets(v)
		}
		cfg.Venues[name] = venue
	}

	return cfg, nil
}

// Venue returns the named venue's settings. Unknown venues are a
// configuration error, fatal at startup.
func (c *Config) Venue(name string) (Venue, error) {
	v, ok := c.Venues[name]
	if !ok {
		return Venue{}, fmt.Errorf("no configuration for venue %q", name)
	}
	return v, nil
}

func splitMarkets(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
