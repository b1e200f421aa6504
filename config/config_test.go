package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCfg(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeCfg(t, `
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  delivery_reconciled_topic_name: "delivery.reconciled"
redis:
  host: "localhost"
  port: 6379
recon:
  http_addr: ":8080"
  kafka_consumer_group: "recon-api"
  current_status_ttl_seconds: 600
  freshness_seconds: 120
carriers:
  - code: "DELHIVERY"
    api_enabled: true
    auth: "api_key"
    api_key: "k"
    api_endpoint: "https://track.delhivery.test"
  - code: "SHIPROCKET"
    api_enabled: true
    auth: "credentials"
    email: "ops@example.com"
    password: "secret"
    api_endpoint: "https://apiv2.shiprocket.test"
`)

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "delivery.reconciled", cfg.Kafka.DeliveryReconciledTopic)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.Recon.HTTPAddr)
	require.Len(t, cfg.Carriers, 2)
	require.True(t, cfg.Carriers[0].Usable())
}

func TestLoadConfig_MalformedAuthBundle(t *testing.T) {
	p := writeCfg(t, `
carriers:
  - code: "SHIPROCKET"
    api_enabled: true
    auth: "credentials"
    email: "ops@example.com"
    api_endpoint: "https://apiv2.shiprocket.test"
`)
	_, err := LoadConfig(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "password")
}

func TestCarrierConfig_Usable(t *testing.T) {
	c := CarrierConfig{Code: "X", APIEnabled: true, Auth: AuthAPIKey, APIKey: "k"}
	// endpoint отсутствует => интеграция не используется, но это не ошибка
	require.NoError(t, c.Validate())
	require.False(t, c.Usable())

	c.APIEndpoint = "https://x.test"
	require.True(t, c.Usable())

	c.APIEnabled = false
	require.False(t, c.Usable())
}

func TestCarrierConfig_ValidateKinds(t *testing.T) {
	require.Error(t, CarrierConfig{Code: "X", APIEnabled: true, Auth: "oauth"}.Validate())
	require.Error(t, CarrierConfig{Code: "X", APIEnabled: true}.Validate())
	require.Error(t, CarrierConfig{APIEnabled: false}.Validate())
	// disabled carriers may carry incomplete bundles
	require.NoError(t, CarrierConfig{Code: "X", Auth: AuthCredentials}.Validate())
}
