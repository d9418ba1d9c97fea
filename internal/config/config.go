// Package config loads orbitd settings from ORBIT_* environment variables and
// an optional YAML file named by ORBIT_CONFIG. Invalid values are logged and
// replaced by their defaults; only inconsistent auth settings are fatal.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/auth"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/cache"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/overlay"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/stream"
)

// EnvPrefix is prepended to every environment key, e.g. ORBIT_HTTP_ADDR.
const EnvPrefix = "ORBIT"

// Config is the complete server configuration.
type Config struct {
	HTTP     HTTPConfig
	Auth     auth.Config
	Cache    cache.Config
	Stream   stream.Config
	Overlay  OverlayConfig
	Limits   LimitsConfig
	LogLevel slog.Level
}

// HTTPConfig controls the listener.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// OverlayConfig controls the TLE catalog and SGP4 overlay.
type OverlayConfig struct {
	EnableFetch     bool
	SourceURL       string
	RefreshInterval time.Duration
	Workers         int
	ArchiveDir      string
	ArchiveKeep     int
}

// LimitsConfig bounds the work a single synchronous API request may do.
type LimitsConfig struct {
	MaxSamples    int // Samples per propagation or overlay track.
	MaxSatellites int
	MaxRounds     int
	Workers       int // Pool workers for POST /api/v1/optimize.

	MaxWork         int           // (rounds+1) × satellites × samples per synchronous optimize.
	OptimizeTimeout time.Duration // Wall-clock bound on a synchronous optimize.
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Cache: cache.Config{
			MaxEntries: 64,
			TTL:        10 * time.Minute,
		},
		Stream: stream.Config{
			MaxConcurrentPerIP: 4,
			MaxConcurrent:      100,
			KeepaliveInterval:  15 * time.Second,
			Workers:            runtime.NumCPU(),
			MaxRounds:          200,
			MaxSatellites:      500,
		},
		Overlay: OverlayConfig{
			EnableFetch:     true,
			SourceURL:       overlay.DefaultSourceURL,
			RefreshInterval: 6 * time.Hour,
			Workers:         runtime.NumCPU(),
			ArchiveDir:      "/tmp/orbitd/tle",
			ArchiveKeep:     5,
		},
		Limits: LimitsConfig{
			MaxSamples:    20000,
			MaxSatellites: 500,
			MaxRounds:     200,
			Workers:       runtime.NumCPU(),

			MaxWork:         50_000_000,
			OptimizeTimeout: 2 * time.Minute,
		},
		LogLevel: slog.LevelInfo,
	}
}

// New returns a viper instance bound to the ORBIT_ environment. When
// ORBIT_CONFIG names a file it is read as well; environment values win.
func New() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load builds a Config from the process environment.
func Load(logger *slog.Logger) (Config, error) {
	v, err := New()
	if err != nil {
		return Config{}, err
	}
	return FromViper(v, logger)
}

// FromViper reads every known key from v on top of Defaults.
func FromViper(v *viper.Viper, logger *slog.Logger) (Config, error) {
	cfg := Defaults()
	r := reader{v: v, logger: logger}

	cfg.HTTP.Addr = r.str("http.addr", cfg.HTTP.Addr)
	cfg.HTTP.ShutdownTimeout = r.duration("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)

	authCfg, err := loadAuth(v, logger)
	if err != nil {
		return cfg, err
	}
	cfg.Auth = authCfg

	cfg.Cache.MaxEntries = r.positiveInt("cache.max_entries", cfg.Cache.MaxEntries)
	cfg.Cache.TTL = r.duration("cache.ttl", cfg.Cache.TTL)

	cfg.Stream.MaxConcurrentPerIP = r.positiveInt("stream.max_concurrent_per_ip", cfg.Stream.MaxConcurrentPerIP)
	cfg.Stream.MaxConcurrent = r.positiveInt("stream.max_concurrent", cfg.Stream.MaxConcurrent)
	cfg.Stream.KeepaliveInterval = r.duration("stream.keepalive_interval", cfg.Stream.KeepaliveInterval)
	cfg.Stream.TrustProxy = r.boolean("stream.trust_proxy", cfg.Stream.TrustProxy)
	cfg.Stream.Workers = r.positiveInt("stream.workers", cfg.Stream.Workers)
	cfg.Stream.MaxRounds = r.positiveInt("stream.max_rounds", cfg.Stream.MaxRounds)
	cfg.Stream.MaxSatellites = r.positiveInt("stream.max_satellites", cfg.Stream.MaxSatellites)

	cfg.Overlay.EnableFetch = r.boolean("overlay.enable_fetch", cfg.Overlay.EnableFetch)
	cfg.Overlay.SourceURL = r.str("overlay.source_url", cfg.Overlay.SourceURL)
	cfg.Overlay.RefreshInterval = r.duration("overlay.refresh_interval", cfg.Overlay.RefreshInterval)
	cfg.Overlay.Workers = r.positiveInt("overlay.workers", cfg.Overlay.Workers)
	cfg.Overlay.ArchiveDir = r.str("overlay.archive_dir", cfg.Overlay.ArchiveDir)
	cfg.Overlay.ArchiveKeep = r.positiveInt("overlay.archive_keep", cfg.Overlay.ArchiveKeep)

	cfg.Limits.MaxSamples = r.positiveInt("limits.max_samples", cfg.Limits.MaxSamples)
	cfg.Limits.MaxSatellites = r.positiveInt("limits.max_satellites", cfg.Limits.MaxSatellites)
	cfg.Limits.MaxRounds = r.positiveInt("limits.max_rounds", cfg.Limits.MaxRounds)
	cfg.Limits.Workers = r.positiveInt("limits.workers", cfg.Limits.Workers)
	cfg.Limits.MaxWork = r.positiveInt("limits.max_work", cfg.Limits.MaxWork)
	cfg.Limits.OptimizeTimeout = r.duration("limits.optimize_timeout", cfg.Limits.OptimizeTimeout)

	if s := v.GetString("log.level"); s != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(s)); err != nil {
			logger.Warn("invalid log.level value, using default", "value", s, "default", "info")
			cfg.LogLevel = slog.LevelInfo
		}
	}

	logger.Info("config loaded",
		"http_addr", cfg.HTTP.Addr,
		"auth_enabled", cfg.Auth.Enabled,
		"cache_max_entries", cfg.Cache.MaxEntries,
		"cache_ttl_seconds", cfg.Cache.TTL.Seconds(),
		"stream_max_concurrent_per_ip", cfg.Stream.MaxConcurrentPerIP,
		"overlay_fetch_enabled", cfg.Overlay.EnableFetch,
		"overlay_source_url", cfg.Overlay.SourceURL,
		"overlay_archive_dir", cfg.Overlay.ArchiveDir,
		"log_level", cfg.LogLevel.String(),
	)
	return cfg, nil
}

func loadAuth(v *viper.Viper, logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	if s := v.GetString("auth.enabled"); s != "" {
		enabled, err := strconv.ParseBool(s)
		if err != nil {
			return cfg, errors.New("ORBIT_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = v.GetString("auth.token")
		if cfg.Token == "" {
			return cfg, errors.New("ORBIT_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}
	return cfg, nil
}

// reader parses raw strings so a bad value can be reported and skipped
// instead of silently becoming a zero.
type reader struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (r reader) str(key, def string) string {
	if s := r.v.GetString(key); s != "" {
		return s
	}
	return def
}

func (r reader) positiveInt(key string, def int) int {
	s := r.v.GetString(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		r.logger.Warn("invalid config value, using default", "key", key, "value", s, "default", def)
		return def
	}
	return n
}

func (r reader) boolean(key string, def bool) bool {
	s := r.v.GetString(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		r.logger.Warn("invalid config value, using default", "key", key, "value", s, "default", def)
		return def
	}
	return b
}

// duration accepts Go duration strings ("90s", "10m") or a bare number of
// seconds.
func (r reader) duration(key string, def time.Duration) time.Duration {
	s := r.v.GetString(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		n, nerr := strconv.Atoi(s)
		if nerr != nil {
			d = 0
		} else {
			d = time.Duration(n) * time.Second
		}
	}
	if d <= 0 {
		r.logger.Warn("invalid config value, using default", "key", key, "value", s, "default", def.String())
		return def
	}
	return d
}
