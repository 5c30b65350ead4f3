package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddress = "localhost:8080"
	defaultHostURL       = "http://localhost:8080"
	defaultEmailURL      = "https://api.mailjet.com"
	defaultDNSResolver   = "1.1.1.1:53"
	defaultStaticDir     = "./static"

	defaultChainRateLimit  = 6
	defaultChainRateWindow = time.Minute
)

// Config captures the runtime configuration for the relay service.
type Config struct {
	ListenAddress string
	HostURL       *url.URL
	Env           string

	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string

	EmailFromAddress  string
	EmailAPIKey       string
	EmailAPISecretKey string
	EmailURL          *url.URL

	DNSResolver string
	StaticDir   string

	ChainRateLimit  int
	ChainRateWindow time.Duration
}

// FromEnv builds a configuration from environment variables, falling back to
// local development defaults where that is safe.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:     getenvDefault("LISTEN_ADDRESS", defaultListenAddress),
		Env:               strings.TrimSpace(os.Getenv("ENV")),
		DBUser:            getenvDefault("DB_USER", "postgres"),
		DBPassword:        getenvDefault("DB_PASSWORD", "password"),
		DBName:            strings.TrimSpace(os.Getenv("DB_NAME")),
		DBHost:            getenvDefault("DB_HOST", "localhost"),
		EmailFromAddress:  strings.TrimSpace(os.Getenv("EMAIL_FROM_ADDRESS")),
		EmailAPIKey:       strings.TrimSpace(os.Getenv("EMAIL_API_KEY")),
		EmailAPISecretKey: strings.TrimSpace(os.Getenv("EMAIL_API_SECRET_KEY")),
		DNSResolver:       getenvDefault("DNS_RESOLVER", defaultDNSResolver),
		StaticDir:         getenvDefault("STATIC_DIR", defaultStaticDir),
		ChainRateLimit:    defaultChainRateLimit,
		ChainRateWindow:   defaultChainRateWindow,
	}

	hostURL, err := url.Parse(getenvDefault("HOST_URL", defaultHostURL))
	if err != nil {
		return Config{}, fmt.Errorf("parse HOST_URL: %w", err)
	}
	cfg.HostURL = hostURL

	emailURL, err := url.Parse(getenvDefault("EMAIL_URL", defaultEmailURL))
	if err != nil {
		return Config{}, fmt.Errorf("parse EMAIL_URL: %w", err)
	}
	cfg.EmailURL = emailURL

	if raw := strings.TrimSpace(os.Getenv("CHAIN_RATE_LIMIT")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse CHAIN_RATE_LIMIT: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("CHAIN_RATE_LIMIT must be positive")
		}
		cfg.ChainRateLimit = val
	}

	if raw := strings.TrimSpace(os.Getenv("CHAIN_RATE_WINDOW")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse CHAIN_RATE_WINDOW: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("CHAIN_RATE_WINDOW must be positive")
		}
		cfg.ChainRateWindow = dur
	}

	return cfg, nil
}

// DSN renders the postgres connection string for the configured database.
func (c Config) DSN() string {
	parts := []string{
		"host=" + c.DBHost,
		"user=" + c.DBUser,
		"password=" + c.DBPassword,
		"sslmode=disable",
	}
	if c.DBName != "" {
		parts = append(parts, "dbname="+c.DBName)
	}
	return strings.Join(parts, " ")
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
