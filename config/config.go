package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	ShopTrack ShopTrackConfig `yaml:"shoptrack"`
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
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	OrderChangedTopicName    string `yaml:"order_changed_topic_name"`
	TrackingUpdatedTopicName string `yaml:"tracking_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShopTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	SwaggerPath        string `yaml:"swagger_path"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// "sqlite" (default) | "redis"
	StateBackend string `yaml:"state_backend"`
	StatePath    string `yaml:"state_path"`

	PollIntervalSeconds    int `yaml:"poll_interval_seconds"`
	PollConcurrency        int `yaml:"poll_concurrency"`
	RateLimitPerMinute     int `yaml:"rate_limit_per_minute"`
	OpenOrderLookbackDays  int `yaml:"open_order_lookback_days"`
	OpenOrdersCacheSeconds int `yaml:"open_orders_cache_seconds"`
	SnapshotTTLHours       int `yaml:"snapshot_ttl_hours"`

	// Freshness of a cached snapshot by classified stage. Defaults: 60/60/300/86400.
	FreshInProgressMinSeconds int `yaml:"fresh_in_progress_min_seconds"`
	FreshInProgressMaxSeconds int `yaml:"fresh_in_progress_max_seconds"`
	FreshOnHoldSeconds        int `yaml:"fresh_on_hold_seconds"`
	FreshTerminalSeconds      int `yaml:"fresh_terminal_seconds"`

	ProviderMode           string `yaml:"provider_mode"` // "http" | "track24" | "fake"
	ProviderBaseURL        string `yaml:"provider_base_url"`
	ProviderAPIKey         string `yaml:"provider_api_key"`
	ProviderDomain         string `yaml:"provider_domain"`
	ProviderTimeoutSeconds int    `yaml:"provider_timeout_seconds"`

	WebhookURL            string `yaml:"webhook_url"`
	WebhookTimeoutSeconds int    `yaml:"webhook_timeout_seconds"`
	// Имя переменной окружения с секретом; сам секрет в файле не хранится.
	WebhookSecretEnv string `yaml:"webhook_secret_env"`

	NotificationLogCap int    `yaml:"notification_log_cap"`
	DedupMode          string `yaml:"dedup_mode"` // "order_stage" | "order"
	InitialSweep       *bool  `yaml:"initial_sweep"`
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

	return &config, nil
}

// PostgresDSN builds the connection string of the orders database.
func (c *Config) PostgresDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) KafkaBrokers() []string {
	if c.Kafka.Host == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

func (c *Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// WebhookSecret reads the shared secret from the configured env var.
func (c *Config) WebhookSecret() string {
	name := c.ShopTrack.WebhookSecretEnv
	if name == "" {
		name = "SHOPTRACK_WEBHOOK_SECRET"
	}
	return os.Getenv(name)
}

func (c *Config) InitialSweepEnabled() bool {
	return c.ShopTrack.InitialSweep == nil || *c.ShopTrack.InitialSweep
}
