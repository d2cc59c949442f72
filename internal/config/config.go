package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/akaris/globetrack/internal/units"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server  ServerConfig  `toml:"server"`  // HTTP server settings
	Logging LoggingConfig `toml:"logging"` // Application logging settings
	Storage StorageConfig `toml:"storage"` // Data persistence settings
	Spatial SpatialConfig `toml:"spatial"` // Spatial index settings
	Feeds   FeedsConfig   `toml:"feeds"`   // Per-kind feed settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // Primary HTTP port for the server
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for streaming)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts  []int  `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	ElementCachePath string `toml:"element_cache_path"` // SQLite database path for the orbital element-set cache
}

// SpatialConfig contains spatial index configuration
type SpatialConfig struct {
	Resolution       int `toml:"resolution"`          // H3 cell resolution the index is built at
	RebuildMinGapMs  int `toml:"rebuild_min_gap_ms"`  // Minimum wall-clock gap between index rebuilds
	VisibleCacheSize int `toml:"visible_cache_size"`  // LRU size for cached visible-query results
}

// FeedsConfig contains the per-kind feed configuration
type FeedsConfig struct {
	DefaultMode     string  `toml:"default_mode"`     // Startup mode for every kind: "simulated" or "live"
	SpeedMultiplier float64 `toml:"speed_multiplier"` // Global motion speed scale for simulated feeds
	Seed            int64   `toml:"seed"`             // Random seed for simulated feeds (0 = time-derived)

	Ships      FeedConfig `toml:"ships"`
	Aircraft   FeedConfig `toml:"aircraft"`
	Satellites FeedConfig `toml:"satellites"`
	Drones     FeedConfig `toml:"drones"`
}

// FeedConfig contains one kind's feed settings
type FeedConfig struct {
	Enabled      bool       `toml:"enabled"`        // Whether the feed starts at all
	UpdateRateMs int        `toml:"update_rate_ms"` // Tick interval for the feed's update loop
	MaxUnits     int        `toml:"max_units"`      // Unit table capacity; oldest entries evicted beyond this
	Live         LiveConfig `toml:"live"`           // Live source settings; ignored by simulated-only kinds
}

// LiveConfig contains the network source settings for one kind
type LiveConfig struct {
	URL string `toml:"url"` // Provider endpoint (REST, WebSocket, or element-set URL depending on kind)

	// Polling sources (aircraft)
	AuthMode          string `toml:"auth_mode"`            // "", "basic", or "oauth2"; "" polls anonymously
	TokenURL          string `toml:"token_url"`            // OAuth2 client-credentials token endpoint
	ClientID          string `toml:"client_id"`            // OAuth2 client id
	ClientSecret      string `toml:"client_secret"`        // OAuth2 client secret
	BasicUser         string `toml:"basic_user"`           // Basic-auth username
	BasicPass         string `toml:"basic_pass"`           // Basic-auth password
	MinIntervalAuthMs int    `toml:"min_interval_auth_ms"` // Minimum gap between polls when authenticated
	MinIntervalAnonMs int    `toml:"min_interval_anon_ms"` // Minimum gap between polls when anonymous
	DisplayRateMs     int    `toml:"display_rate_ms"`      // Interpolation tick interval (~display refresh)
	TimeoutSecs       int    `toml:"timeout_seconds"`      // Per-request HTTP timeout

	// Streaming sources (ships)
	ReconnectBaseMs  int `toml:"reconnect_base_ms"` // Initial reconnect delay; doubled per consecutive failure
	PingIntervalSecs int `toml:"ping_interval_seconds"`

	// Element-set sources (satellites)
	FetchTimeoutSecs int `toml:"fetch_timeout_seconds"` // Element-set download timeout
	MaxCachedAgeHrs  int `toml:"max_cached_age_hours"`  // Oldest cached element set the feed will fall back to
}

// ByKind returns the feed section for a unit kind.
func (f *FeedsConfig) ByKind(kind units.Kind) FeedConfig {
	switch kind {
	case units.KindShips:
		return f.Ships
	case units.KindAircraft:
		return f.Aircraft
	case units.KindSatellites:
		return f.Satellites
	case units.KindDrones:
		return f.Drones
	}
	return FeedConfig{}
}

// UpdateRate returns the tick interval as a duration.
func (f FeedConfig) UpdateRate() time.Duration {
	return time.Duration(f.UpdateRateMs) * time.Millisecond
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback tries the preferred path, then the conventional
// locations.
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	portsSeen := map[int]bool{c.Server.Port: true}
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Feeds.DefaultMode == "" {
		c.Feeds.DefaultMode = "simulated"
	}
	if c.Feeds.DefaultMode != "simulated" && c.Feeds.DefaultMode != "live" {
		return fmt.Errorf("invalid default feed mode: %s", c.Feeds.DefaultMode)
	}
	if c.Feeds.SpeedMultiplier < 0 {
		return fmt.Errorf("speed_multiplier must not be negative")
	}

	for _, kind := range units.Kinds {
		fc := c.Feeds.ByKind(kind)
		if !fc.Enabled {
			continue
		}
		if fc.UpdateRateMs <= 0 {
			return fmt.Errorf("feed %s: update_rate_ms must be positive", kind)
		}
		if fc.MaxUnits <= 0 {
			return fmt.Errorf("feed %s: max_units must be positive", kind)
		}
	}

	if c.Spatial.Resolution < 0 || c.Spatial.Resolution > 15 {
		return fmt.Errorf("invalid spatial resolution: %d", c.Spatial.Resolution)
	}

	if c.Storage.ElementCachePath == "" {
		c.Storage.ElementCachePath = "globetrack.db"
	}

	return nil
}
