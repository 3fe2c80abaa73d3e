package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds process-wide settings loaded from the environment (§6, §10).
type Config struct {
	Port        string
	MetricsPort string // read from METRICS_PORT; not consulted, /metrics is served on Port
	LogLevel    string

	StateDBPath        string // STATE_DB_PATH
	StoreBackend       string // ROUTER_STORE_BACKEND: "sqlite" (default) or "redis"
	RedisAddr          string // only consulted when StoreBackend == "redis"
	ConfigPath         string // CONFIG_PATH: registry + policy YAML
	AdminToken         string
	AllowInsecureResume bool

	ProviderCredentialsFile string

	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string
}

// LoadConfig reads Config from the environment, applying the documented
// defaults for everything optional.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "0"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StateDBPath:  getEnv("STATE_DB_PATH", "data/state.sqlite"),
		StoreBackend: getEnv("ROUTER_STORE_BACKEND", "sqlite"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		ConfigPath:   getEnv("CONFIG_PATH", "config/registry.yaml"),

		AdminToken:          getEnv("ADMIN_TOKEN", ""),
		AllowInsecureResume: getEnvBool("ALLOW_INSECURE_RESUME", false),

		ProviderCredentialsFile: getEnv("PROVIDER_CREDENTIALS_FILE", defaultCredentialsPath()),

		CORSOrigins:    getEnvStringSlice("CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "switchboard"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.StoreBackend != "sqlite" && c.StoreBackend != "redis" {
		return fmt.Errorf("ROUTER_STORE_BACKEND must be \"sqlite\" or \"redis\", got %q", c.StoreBackend)
	}
	if c.StateDBPath == "" {
		return fmt.Errorf("STATE_DB_PATH must not be empty")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

func defaultCredentialsPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".switchboard", "credentials")
	}
	return ""
}
