package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every process-level setting the supervisor and its
// daemons need, sourced from the environment and a handful of CLI
// flags (wired in cmd/server/main.go).
type Config struct {
	CacheDir string

	APIKey string

	EnableFullSweep  bool
	EnableTip        bool
	EnableSnatchlist bool

	APIMaxCalls int
	APIPeriod   time.Duration

	SiteRate  float64
	SiteBurst int

	SnatchlistPeriod time.Duration
	SnatchlistBlock  int

	HTTPTimeout time.Duration
	WatchPID    int

	HTTPAddr string

	LogLevel  string
	LogFormat string
}

// LoadConfig reads defaults from the environment. Flags in
// cmd/server/main.go override the scraper-enable and quota fields after
// this call returns.
func LoadConfig() Config {
	return Config{
		CacheDir: getEnv("BTN_CACHE_DIR", "."),

		APIKey: getEnv("BTN_API_KEY", ""),

		EnableFullSweep:  getEnvBool("BTN_ENABLE_FULLSWEEP", true),
		EnableTip:        getEnvBool("BTN_ENABLE_TIP", true),
		EnableSnatchlist: getEnvBool("BTN_ENABLE_SNATCHLIST", true),

		APIMaxCalls: int(getEnvInt64("BTN_API_MAX_CALLS", 150)),
		APIPeriod:   getEnvDuration("BTN_API_PERIOD", time.Hour),

		SiteRate:  getEnvFloat("BTN_SITE_RATE", 0.2),
		SiteBurst: int(getEnvInt64("BTN_SITE_BURST", 10)),

		SnatchlistPeriod: getEnvDuration("BTN_SNATCHLIST_PERIOD", time.Hour),
		SnatchlistBlock:  int(getEnvInt64("BTN_SNATCHLIST_BLOCK", 10000)),

		HTTPTimeout: getEnvDuration("BTN_HTTP_TIMEOUT", 60*time.Second),
		WatchPID:    int(getEnvInt64("BTN_WATCH_PID", 0)),

		HTTPAddr: getEnv("BTN_HTTP_ADDR", ":8080"),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
