// Package config loads the geoquery YAML configuration, merging user values
// over defaults and falling back to environment variables for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Request  RequestConfig  `yaml:"request"`
	DB       DBConfig       `yaml:"db"`
	LLM      LLMConfig      `yaml:"llm"`
	Stac     StacConfig     `yaml:"stac"`
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Cache    CacheConfig    `yaml:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	LLM      LogSettings `yaml:"llm"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// DBConfig holds the sqlite response-cache settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig holds settings for the LLM provider.
type LLMConfig struct {
	Provider string            `yaml:"provider"` // "gemini", "mock"
	Model    string            `yaml:"model"`
	Key      string            `yaml:"key"`
	Profiles map[string]string `yaml:"profiles"` // intent -> model override
	Timeout  Duration          `yaml:"timeout"`
	Fallback FallbackLLM       `yaml:"fallback"`
}

// FallbackLLM configures an optional OpenAI-compatible backup backend that
// the failover chain tries when the primary provider is down. Disabled when
// the key is empty.
type FallbackLLM struct {
	BaseURL  string            `yaml:"base_url"`
	Key      string            `yaml:"key"`
	Model    string            `yaml:"model"`
	Profiles map[string]string `yaml:"profiles"`
}

// StacConfig holds settings for the downstream STAC API.
type StacConfig struct {
	SearchURL      string   `yaml:"search_url"`
	CollectionsURL string   `yaml:"collections_url"`
	Timeout        Duration `yaml:"timeout"`
}

// GeocoderConfig holds per-backend geocoder settings. An empty key disables
// backends that require one; keyless backends are controlled by Enabled.
type GeocoderConfig struct {
	NominatimURL   string   `yaml:"nominatim_url"`
	PhotonURL      string   `yaml:"photon_url"`
	OpenCageKey    string   `yaml:"opencage_key"`
	BackendTimeout Duration `yaml:"backend_timeout"`
	TotalTimeout   Duration `yaml:"total_timeout"`
}

// CacheConfig holds TTLs and capacities for the in-memory caches.
type CacheConfig struct {
	LocationTTL      Duration `yaml:"location_ttl"`
	LocationCapacity int      `yaml:"location_capacity"`
	ResponseTTL      Duration `yaml:"response_ttl"`
}

// PipelineConfig holds the orchestration thresholds and deadlines.
type PipelineConfig struct {
	IntentTimeout   Duration `yaml:"intent_timeout"`
	AgentTimeout    Duration `yaml:"agent_timeout"`
	TurnDeadline    Duration `yaml:"turn_deadline"`
	MinOverlap      float64  `yaml:"min_overlap"`
	DefaultClouds   float64  `yaml:"default_cloud_threshold"`
	PinRadius       Distance `yaml:"pin_radius"`
	DefaultLookback Duration `yaml:"default_lookback"`
}

// SessionConfig holds conversation store settings.
type SessionConfig struct {
	TTL          Duration `yaml:"ttl"`
	MaxMessages  int      `yaml:"max_messages"`
	MaxExchanges int      `yaml:"max_exchanges"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "localhost:8970",
		},
		Log: LogConfig{
			Server:   LogSettings{Path: "./logs/server.log", Level: "INFO"},
			Requests: LogSettings{Path: "./logs/requests.log", Level: "INFO"},
			LLM:      LogSettings{Path: "./logs/llm.log", Level: "INFO"},
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(10 * time.Second),
			},
		},
		DB: DBConfig{
			Path: "./data/geoquery.db",
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash-lite",
			Key:      "",
			Profiles: map[string]string{
				"intent":      "gemini-2.5-flash-lite",
				"collections": "gemini-2.5-flash-lite",
				"location":    "gemini-2.5-flash-lite",
				"datetime":    "gemini-2.5-flash-lite",
				"clouds":      "gemini-2.5-flash-lite",
				"selection":   "gemini-2.5-flash",
				"compose":     "gemini-2.5-flash",
			},
			Timeout: Duration(20 * time.Second),
			Fallback: FallbackLLM{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
		},
		Stac: StacConfig{
			SearchURL:      "https://planetarycomputer.microsoft.com/api/stac/v1/search",
			CollectionsURL: "https://planetarycomputer.microsoft.com/api/stac/v1/collections",
			Timeout:        Duration(30 * time.Second),
		},
		Geocoder: GeocoderConfig{
			NominatimURL:   "https://nominatim.openstreetmap.org/search",
			PhotonURL:      "https://photon.komoot.io/api",
			OpenCageKey:    "",
			BackendTimeout: Duration(10 * time.Second),
			TotalTimeout:   Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			LocationTTL:      Duration(Day),
			LocationCapacity: 500,
			ResponseTTL:      Duration(Week),
		},
		Pipeline: PipelineConfig{
			IntentTimeout:   Duration(20 * time.Second),
			AgentTimeout:    Duration(15 * time.Second),
			TurnDeadline:    Duration(90 * time.Second),
			MinOverlap:      0.1,
			DefaultClouds:   25,
			PinRadius:       Distance(5 * 1609.344), // 5 miles
			DefaultLookback: Duration(60 * Day),
		},
		Session: SessionConfig{
			TTL:          Duration(12 * time.Hour),
			MaxMessages:  20,
			MaxExchanges: 10,
		},
	}
}

// Load loads the configuration from the given path. If the file does not
// exist, defaults are written there. Secrets missing from the file are read
// from the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv fills secrets and endpoint overrides from the environment.
// File values win; env is the fallback, so keys never need to live on disk.
func (c *Config) applyEnv() {
	if c.LLM.Key == "" {
		c.LLM.Key = os.Getenv("GEMINI_API_KEY")
	}
	if c.LLM.Fallback.Key == "" {
		c.LLM.Fallback.Key = os.Getenv("OPENAI_API_KEY")
	}
	if c.Geocoder.OpenCageKey == "" {
		c.Geocoder.OpenCageKey = os.Getenv("OPENCAGE_API_KEY")
	}
	if v := os.Getenv("GEOQUERY_STAC_URL"); v != "" {
		c.Stac.SearchURL = v
	}
	if v := os.Getenv("GEOQUERY_COLLECTIONS_URL"); v != "" {
		c.Stac.CollectionsURL = v
	}
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# GeoQuery Configuration
# ---------------------
# Duration units: ns, us, ms, s, m, h, d (day), w (week)
# Distance units: m, km, mi

`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
