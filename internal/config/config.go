package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	DBDriver    string // "postgres" or "sqlite"
	DatabaseURL string // DSN for postgres, file path for sqlite

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	WindowDays       int
	SweepInterval    time.Duration
	SweepLookback    time.Duration
	SweepLookahead   time.Duration
	SweepParallelism int
	EndpointStaleTTL time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string
	PushTTL         time.Duration
	PushTimeout     time.Duration
	PushRatePerSec  int

	LogLevel string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		DBDriver: getenv("DB_DRIVER", "postgres"),

		WindowDays:       getenvInt("WINDOW_DAYS", 14),
		SweepInterval:    getenvDuration("SWEEP_INTERVAL", time.Minute),
		SweepLookback:    getenvDuration("SWEEP_LOOKBACK", 30*time.Second),
		SweepLookahead:   getenvDuration("SWEEP_LOOKAHEAD", 90*time.Second),
		SweepParallelism: getenvInt("SWEEP_PARALLELISM", 4),
		EndpointStaleTTL: getenvDuration("ENDPOINT_STALE_TTL", 24*time.Hour),

		VAPIDPublicKey:  mustGetenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: mustGetenv("VAPID_PRIVATE_KEY"),
		PushSubscriber:  getenv("PUSH_SUBSCRIBER", "mailto:ops@localhost"),
		PushTTL:         getenvDuration("PUSH_TTL", 5*time.Minute),
		PushTimeout:     getenvDuration("PUSH_TIMEOUT", 10*time.Second),
		PushRatePerSec:  getenvInt("PUSH_RATE_PER_SEC", 20),

		LogLevel: getenv("LOG_LEVEL", "info"),

		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
	}

	if cfg.DBDriver == "sqlite" {
		cfg.DatabaseURL = getenv("DATABASE_URL", "remindd.db")
	} else {
		cfg.DatabaseURL = mustGetenv("DATABASE_URL")
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}
