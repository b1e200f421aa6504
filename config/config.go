package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig  `yaml:"database"`
	Kafka    KafkaConfig     `yaml:"kafka"`
	Redis    RedisConfig     `yaml:"redis"`
	Recon    ReconConfig     `yaml:"recon"`
	Carriers []CarrierConfig `yaml:"carriers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	DeliveryReconciledTopic string `yaml:"delivery_reconciled_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ReconConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`
	// Отправления, сверенные моложе этого окна, не дергают перевозчика
	// повторно — отдаём сохранённый статус.
	FreshnessSeconds      int `yaml:"freshness_seconds"`
	AdapterTimeoutSeconds int `yaml:"adapter_timeout_seconds"`

	SweeperHTTPAddr           string `yaml:"sweeper_http_addr"`
	SweeperPollIntervalSeconds int   `yaml:"sweeper_poll_interval_seconds"`
	SweeperBatchSize          int    `yaml:"sweeper_batch_size"`
	SweeperLeaseSeconds       int    `yaml:"sweeper_lease_seconds"`
	SweeperRateLimitPerMinute int    `yaml:"sweeper_rate_limit_per_minute"`

	// Sweeper scheduling (optional). Defaults are prod-like minutes/hours:
	// IN_TRANSIT: 30..120 minutes, OUT_FOR_DELIVERY: 10 minutes,
	// backoff: 5/15/30/60 minutes.
	NextCheckInTransitMinSeconds   int `yaml:"next_check_in_transit_min_seconds"`
	NextCheckInTransitMaxSeconds   int `yaml:"next_check_in_transit_max_seconds"`
	NextCheckOutForDeliverySeconds int `yaml:"next_check_out_for_delivery_seconds"`
	NextCheckDefaultSeconds        int `yaml:"next_check_default_seconds"`
	Backoff1Seconds                int `yaml:"backoff_1_seconds"`
	Backoff2Seconds                int `yaml:"backoff_2_seconds"`
	Backoff3Seconds                int `yaml:"backoff_3_seconds"`
	Backoff4Seconds                int `yaml:"backoff_4_seconds"`
}

// AuthKind — семейство аутентификации интеграции перевозчика.
type AuthKind string

const (
	AuthAPIKey      AuthKind = "api_key"
	AuthCredentials AuthKind = "credentials"
)

type CarrierConfig struct {
	Code       string   `yaml:"code"`
	APIEnabled bool     `yaml:"api_enabled"`
	Auth       AuthKind `yaml:"auth"`

	APIKey   string `yaml:"api_key"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	APIEndpoint        string `yaml:"api_endpoint"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// Usable reports whether the integration may be called at all. Missing
// endpoint always means "not usable", regardless of other fields: the
// reconciler then serves the last stored status instead of erroring.
func (c CarrierConfig) Usable() bool {
	return c.APIEnabled && c.APIEndpoint != ""
}

// Validate catches malformed auth bundles at load time, before any
// reconciliation attempt reaches a network call.
func (c CarrierConfig) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("carrier: code is required")
	}
	switch c.Auth {
	case AuthAPIKey:
		if c.APIEnabled && c.APIKey == "" {
			return fmt.Errorf("carrier %s: api_key is required for auth=api_key", c.Code)
		}
	case AuthCredentials:
		if c.APIEnabled && (c.Email == "" || c.Password == "") {
			return fmt.Errorf("carrier %s: email and password are required for auth=credentials", c.Code)
		}
	case "":
		if c.APIEnabled {
			return fmt.Errorf("carrier %s: auth is required when api_enabled", c.Code)
		}
	default:
		return fmt.Errorf("carrier %s: unknown auth kind %q", c.Code, c.Auth)
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	for _, c := range config.Carriers {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	return &config, nil
}
