package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  price_updated_topic_name: "price.updated"
redis:
  host: "localhost"
  port: 6379
gmail:
  from: "alerts@example.com"
farewatch:
  http_addr: ":8080"
  kafka_consumer_group: "fare-alerts"
  current_record_ttl_seconds: 600
  serpapi_base_url: "https://serpapi.com"
  serpapi_key: "k"
  alert_dry_run: true
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "price.updated", cfg.Kafka.PriceUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.FareWatch.HTTPAddr)
	require.Equal(t, "https://serpapi.com", cfg.FareWatch.SerpAPIBaseURL)
	require.True(t, cfg.FareWatch.AlertDryRun)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
