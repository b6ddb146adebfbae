package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	DBDriver string `yaml:"db_driver"` // sqlite|postgres
	DBDSN    string `yaml:"db_dsn"`

	AuthHMACSecret string        `yaml:"auth_hmac_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text|json

	CORSOrigins []string `yaml:"cors_origins"`

	// NATSURL empty means events are only logged.
	NATSURL             string `yaml:"nats_url"`
	EventsSubjectPrefix string `yaml:"events_subject_prefix"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:            ":8080",
		DBDriver:            "sqlite",
		TokenTTL:            8 * time.Hour,
		LogLevel:            "info",
		LogFormat:           "text",
		CORSOrigins:         []string{"http://localhost:3000"},
		EventsSubjectPrefix: "training",
		MetricsEnabled:      true,
	}
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv() Config {
	c := Defaults()
	c.applyEnv()
	return c
}

// Load reads an optional YAML file over the defaults, then applies the
// environment on top. An empty path skips the file.
func Load(path string) (Config, error) {
	c := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.DBDriver = envOr("DB_DRIVER", c.DBDriver)
	c.DBDSN = envOr("DB_DSN", c.DBDSN)
	c.AuthHMACSecret = envOr("AUTH_HMAC_SECRET", c.AuthHMACSecret)
	c.TokenTTL = envDuration("TOKEN_TTL", c.TokenTTL)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.CORSOrigins = csvOr("CORS_ORIGINS", c.CORSOrigins)
	c.NATSURL = envOr("NATS_URL", c.NATSURL)
	c.EventsSubjectPrefix = envOr("EVENTS_SUBJECT_PREFIX", c.EventsSubjectPrefix)
	c.MetricsEnabled = envBool("METRICS_ENABLED", c.MetricsEnabled)
}

func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("db_driver must be sqlite or postgres, got %q", c.DBDriver))
	}
	if len(c.AuthHMACSecret) < 16 {
		errs = append(errs, errors.New("auth_hmac_secret must be at least 16 bytes"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func csvOr(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
