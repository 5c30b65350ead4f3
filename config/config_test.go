package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Equal(t, "localhost:8080", cfg.ListenAddress)
	require.Equal(t, "http://localhost:8080", cfg.HostURL.String())
	require.Equal(t, "https://api.mailjet.com", cfg.EmailURL.String())
	require.Equal(t, "1.1.1.1:53", cfg.DNSResolver)
	require.Equal(t, "./static", cfg.StaticDir)
	require.Equal(t, 6, cfg.ChainRateLimit)
	require.Equal(t, time.Minute, cfg.ChainRateWindow)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDRESS", "0.0.0.0:9000")
	t.Setenv("HOST_URL", "https://relay.example.com")
	t.Setenv("DB_USER", "relay")
	t.Setenv("DB_PASSWORD", "sekrit")
	t.Setenv("DB_NAME", "ebill")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("CHAIN_RATE_LIMIT", "12")
	t.Setenv("CHAIN_RATE_WINDOW", "30s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddress)
	require.Equal(t, "https://relay.example.com", cfg.HostURL.String())
	require.Equal(t, 12, cfg.ChainRateLimit)
	require.Equal(t, 30*time.Second, cfg.ChainRateWindow)
	require.Contains(t, cfg.DSN(), "host=db.internal")
	require.Contains(t, cfg.DSN(), "user=relay")
	require.Contains(t, cfg.DSN(), "dbname=ebill")
}

func TestFromEnvOmitsEmptyDBName(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.NotContains(t, cfg.DSN(), "dbname=")
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"CHAIN_RATE_LIMIT":  "nope",
		"CHAIN_RATE_WINDOW": "-5s",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}
