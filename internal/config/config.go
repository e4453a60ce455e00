// Package config reads relay server settings from the environment. Values
// are parsed and validated once at startup; nothing re-reads them later.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// EnvDevelopment is the only environment where TLS verification of the
	// backend may be relaxed
	EnvDevelopment = "development"

	// EnvProduction is the default environment
	EnvProduction = "production"
)

type Config struct {
	Env     string
	Server  ServerConfig
	Backend BackendConfig

	devInsecureTLS bool
}

type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// RelayPath is where the anti-forgery relay is mounted
	RelayPath string
}

type BackendConfig struct {
	// BaseURL is the backend origin, without a trailing slash
	BaseURL   string
	TokenPath string
	Timeout   time.Duration

	// InsecureTLS asks for certificate checks to be skipped. Honoured only
	// in development.
	InsecureTLS bool
}

// LoadFromEnv builds the configuration from PORTAL_* variables
func LoadFromEnv() (Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(&cfg)
	return normalizeAndValidate(cfg)
}

func defaultConfig() Config {
	return Config{
		Env: EnvProduction,
		Server: ServerConfig{
			Addr:              ":3000",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			RelayPath:         "/api/csrf-token",
		},
		Backend: BackendConfig{
			BaseURL:   "http://localhost:8000",
			TokenPath: "/api/csrf/",
			Timeout:   10 * time.Second,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTAL_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("PORTAL_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PORTAL_RELAY_PATH"); v != "" {
		cfg.Server.RelayPath = v
	}
	if v := os.Getenv("PORTAL_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("PORTAL_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("PORTAL_BACKEND_TOKEN_PATH"); v != "" {
		cfg.Backend.TokenPath = v
	}
	if v := os.Getenv("PORTAL_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("PORTAL_DEV_INSECURE_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Backend.InsecureTLS = b
		}
	}
}

func normalizeAndValidate(cfg Config) (Config, error) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	switch cfg.Env {
	case "dev":
		cfg.Env = EnvDevelopment
	case "prod", "":
		cfg.Env = EnvProduction
	}

	base, err := NormalizeHTTPBaseURL(cfg.Backend.BaseURL, "PORTAL_BACKEND_URL")
	if err != nil {
		return Config{}, err
	}
	if base == "" {
		return Config{}, errors.New("PORTAL_BACKEND_URL must not be empty")
	}
	cfg.Backend.BaseURL = base

	if cfg.Server.Addr == "" {
		return Config{}, errors.New("PORTAL_ADDR must not be empty")
	}
	if !strings.HasPrefix(cfg.Server.RelayPath, "/") {
		return Config{}, errors.Errorf("PORTAL_RELAY_PATH must start with '/': %q", cfg.Server.RelayPath)
	}
	if !strings.HasPrefix(cfg.Backend.TokenPath, "/") {
		cfg.Backend.TokenPath = "/" + cfg.Backend.TokenPath
	}

	if cfg.Backend.InsecureTLS && cfg.Env != EnvDevelopment {
		return Config{}, errors.Errorf("PORTAL_DEV_INSECURE_TLS is only allowed when PORTAL_ENV=%s (got %q)", EnvDevelopment, cfg.Env)
	}
	cfg.devInsecureTLS = cfg.Backend.InsecureTLS && cfg.Env == EnvDevelopment

	return cfg, nil
}

// DevInsecureTLS reports whether backend certificate checks are skipped
func (c Config) DevInsecureTLS() bool {
	return c.devInsecureTLS
}

// IsDevelopment reports whether the relay runs in development mode
func (c Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// TokenURL is the backend anti-forgery endpoint
func (c Config) TokenURL() string {
	return c.Backend.BaseURL + c.Backend.TokenPath
}

// NormalizeHTTPBaseURL trims and validates an http(s) origin. An empty input
// stays empty.
func NormalizeHTTPBaseURL(raw string, field string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "%s is not a valid URL", field)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Errorf("%s must use http or https: %q", field, raw)
	}
	if u.Host == "" {
		return "", errors.Errorf("%s is missing a host: %q", field, raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", errors.Errorf("%s must not carry a query or fragment: %q", field, raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
