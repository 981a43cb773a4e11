package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "environment: production\n")

	c, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "production", c.Environment)
	require.Equal(t, 8080, c.Server.Port)
	require.Equal(t, "info", c.Logging.Level)
	require.Equal(t, "HYPE", c.Market.Coin)
	require.Equal(t, 2*time.Second, c.Engine.Cadence)
	require.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, c.Engine.Horizons)
	require.Equal(t, 0.85, c.Engine.CalibrationShrink)
	require.Equal(t, "data/predictions.csv", c.Record.Path)
	require.False(t, c.Kafka.Enabled)
	require.Equal(t, "perpcast.signals", c.Kafka.Topic)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
environment: staging
server:
  port: 9191
market:
  coin: BTC
  depth_levels: 10
engine:
  min_history: 32
  weights:
    hcqr: 2.0
`)

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9191, c.Server.Port)
	require.Equal(t, "BTC", c.Market.Coin)
	require.Equal(t, 10, c.Market.DepthLevels)
	require.Equal(t, 32, c.Engine.MinHistory)
	require.Equal(t, 2.0, c.Engine.Weights.HCQR)
	// Untouched siblings still get their defaults.
	require.Equal(t, 1.0, c.Engine.Weights.LVP)
	require.Equal(t, "/metrics", c.Metrics.Path)
}

func TestLoadRejectsHorizonNotMultipleOfCadence(t *testing.T) {
	// 15s against the default 2s cadence.
	path := writeConfig(t, `
environment: test
engine:
  horizons: [15s]
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a multiple of cadence")
}

func TestLoadRejectsKafkaWithoutBrokers(t *testing.T) {
	path := writeConfig(t, `
environment: test
kafka:
  enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "kafka.brokers")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "environment: test\n")

	t.Setenv("MARKET_COIN", "SOL")
	t.Setenv("RECORD_PATH", "/tmp/other.csv")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	require.Equal(t, "SOL", c.Market.Coin)
	require.Equal(t, "/tmp/other.csv", c.Record.Path)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}
