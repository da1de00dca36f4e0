package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"crypto-risk-intelligence/internal/domain/analytics"
)

// Store backends
const (
	StoreBackendNeo4J  = "neo4j"
	StoreBackendMemory = "memory"
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Neo4J     Neo4JConfig     `mapstructure:"neo4j"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Store     StoreConfig     `mapstructure:"store"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Health    HealthConfig    `mapstructure:"health"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig represents application-specific configuration
type AppConfig struct {
	Env             string        `mapstructure:"env"`
	LogLevel        string        `mapstructure:"log_level"`
	HTTPPort        int           `mapstructure:"http_port"`
	WorkerPoolSize  int           `mapstructure:"worker_pool_size"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL                string        `mapstructure:"url"`
	StreamName         string        `mapstructure:"stream_name"`
	SubjectPrefix      string        `mapstructure:"subject_prefix"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	AlertSubject       string        `mapstructure:"alert_subject"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	MaxPendingMessages int           `mapstructure:"max_pending_messages"`
	Enabled            bool          `mapstructure:"enabled"`
	PublishAlerts      bool          `mapstructure:"publish_alerts"`
}

// Neo4JConfig represents Neo4J configuration
type Neo4JConfig struct {
	URI                          string        `mapstructure:"uri"`
	Username                     string        `mapstructure:"username"`
	Password                     string        `mapstructure:"password"`
	Database                     string        `mapstructure:"database"`
	ConnectTimeout               time.Duration `mapstructure:"connect_timeout"`
	MaxConnectionPoolSize        int           `mapstructure:"max_connection_pool_size"`
	ConnectionAcquisitionTimeout time.Duration `mapstructure:"connection_acquisition_timeout"`
}

// KafkaConfig configures the optional Kafka alert sink
type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	AlertTopic string   `mapstructure:"alert_topic"`
	ClientID   string   `mapstructure:"client_id"`
	MaxRetries int      `mapstructure:"max_retries"`
}

// StoreConfig selects the entity store and how often it retries
type StoreConfig struct {
	Backend        string        `mapstructure:"backend"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// AnalyticsConfig bounds the network analytics requests
type AnalyticsConfig struct {
	LinkLimit          int           `mapstructure:"link_limit"`
	BetweennessTimeout time.Duration `mapstructure:"betweenness_timeout"`
	TemporalTimeout    time.Duration `mapstructure:"temporal_timeout"`
	DefaultWindow      time.Duration `mapstructure:"default_window"`
	MaxWindows         int           `mapstructure:"max_windows"`
	CommunityAlgorithm string        `mapstructure:"community_algorithm"`
	TopN               int           `mapstructure:"top_n"`
}

// ScoringConfig tunes the risk factors
type ScoringConfig struct {
	Lookback           time.Duration      `mapstructure:"lookback"`
	BurstWindow        time.Duration      `mapstructure:"burst_window"`
	ShiftWindow        time.Duration      `mapstructure:"shift_window"`
	Weights            map[string]float64 `mapstructure:"weights"`
	CommunityCap       float64            `mapstructure:"community_cap"`
	CommunityAlgorithm string             `mapstructure:"community_algorithm"`
	NeighborHops       int                `mapstructure:"neighbor_hops"`
	LinkLimit          int                `mapstructure:"link_limit"`
}

// AlertingConfig tunes the alert rules
type AlertingConfig struct {
	SeverityMergePolicy      string             `mapstructure:"severity_merge_policy"`
	CentralityJumpRatio      float64            `mapstructure:"centrality_jump_ratio"`
	UnverifiedBurstThreshold float64            `mapstructure:"unverified_burst_threshold"`
	FactorThresholds         map[string]float64 `mapstructure:"factor_thresholds"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from an optional .env file, environment
// variables and config.yaml
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/risk-intel")

	return load(v)
}

// LoadFile loads configuration from the given YAML file plus the environment
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Environment variables, app.log_level -> APP_LOG_LEVEL
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	_ = v.BindEnv("nats.url", "NATS_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_port", 8080)
	v.SetDefault("app.worker_pool_size", 10)
	v.SetDefault("app.batch_size", 100)
	v.SetDefault("app.batch_timeout", "5s")
	v.SetDefault("app.shutdown_timeout", "15s")

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "TRANSACTIONS")
	v.SetDefault("nats.subject_prefix", "transactions")
	v.SetDefault("nats.consumer_group", "risk-intel")
	v.SetDefault("nats.alert_subject", "risk.alerts")
	v.SetDefault("nats.connect_timeout", "10s")
	v.SetDefault("nats.reconnect_attempts", 5)
	v.SetDefault("nats.reconnect_delay", "2s")
	v.SetDefault("nats.max_pending_messages", 10000)
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.publish_alerts", true)

	// Neo4J defaults
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.connect_timeout", "10s")
	v.SetDefault("neo4j.max_connection_pool_size", 50)
	v.SetDefault("neo4j.connection_acquisition_timeout", "60s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.alert_topic", "risk-alerts")
	v.SetDefault("kafka.client_id", "risk-intel")
	v.SetDefault("kafka.max_retries", 5)

	// Store defaults
	v.SetDefault("store.backend", StoreBackendNeo4J)
	v.SetDefault("store.retry_attempts", 3)
	v.SetDefault("store.retry_base_delay", "100ms")
	v.SetDefault("store.retry_max_delay", "2s")

	// Analytics defaults
	v.SetDefault("analytics.link_limit", 5000)
	v.SetDefault("analytics.betweenness_timeout", "10s")
	v.SetDefault("analytics.temporal_timeout", "30s")
	v.SetDefault("analytics.default_window", "24h")
	v.SetDefault("analytics.max_windows", 30)
	v.SetDefault("analytics.community_algorithm", analytics.CommunityLouvain)
	v.SetDefault("analytics.top_n", 20)

	// Scoring defaults
	v.SetDefault("scoring.lookback", "720h")
	v.SetDefault("scoring.burst_window", "1h")
	v.SetDefault("scoring.shift_window", "24h")
	v.SetDefault("scoring.weights", map[string]float64{})
	v.SetDefault("scoring.community_cap", 0.5)
	v.SetDefault("scoring.community_algorithm", analytics.CommunityLouvain)
	v.SetDefault("scoring.neighbor_hops", 2)
	v.SetDefault("scoring.link_limit", 1000)

	// Alerting defaults
	v.SetDefault("alerting.severity_merge_policy", "latest")
	v.SetDefault("alerting.centrality_jump_ratio", 2.0)
	v.SetDefault("alerting.unverified_burst_threshold", 0.7)
	v.SetDefault("alerting.factor_thresholds", map[string]float64{})

	// Health defaults
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.timeout", "5s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects non-positive limits and windows and unknown enum values
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.App.WorkerPoolSize > 0, "app.worker_pool_size must be positive")
	check(c.App.BatchSize > 0, "app.batch_size must be positive")
	check(c.App.BatchTimeout > 0, "app.batch_timeout must be positive")

	check(c.Store.Backend == StoreBackendNeo4J || c.Store.Backend == StoreBackendMemory,
		"store.backend must be %q or %q, got %q", StoreBackendNeo4J, StoreBackendMemory, c.Store.Backend)
	check(c.Store.RetryAttempts > 0, "store.retry_attempts must be positive")
	check(c.Store.RetryBaseDelay > 0, "store.retry_base_delay must be positive")

	check(c.Analytics.LinkLimit > 0, "analytics.link_limit must be positive")
	check(c.Analytics.BetweennessTimeout > 0, "analytics.betweenness_timeout must be positive")
	check(c.Analytics.TemporalTimeout > 0, "analytics.temporal_timeout must be positive")
	check(c.Analytics.DefaultWindow > 0, "analytics.default_window must be positive")
	check(c.Analytics.MaxWindows > 0, "analytics.max_windows must be positive")
	check(analytics.ValidCommunityAlgorithm(c.Analytics.CommunityAlgorithm),
		"analytics.community_algorithm %q is unknown", c.Analytics.CommunityAlgorithm)

	check(c.Scoring.Lookback > 0, "scoring.lookback must be positive")
	check(c.Scoring.BurstWindow > 0 && c.Scoring.BurstWindow < c.Scoring.Lookback,
		"scoring.burst_window must be positive and shorter than scoring.lookback")
	check(c.Scoring.ShiftWindow > 0, "scoring.shift_window must be positive")
	check(c.Scoring.CommunityCap > 0 && c.Scoring.CommunityCap <= 1, "scoring.community_cap must be in (0,1]")
	check(analytics.ValidCommunityAlgorithm(c.Scoring.CommunityAlgorithm),
		"scoring.community_algorithm %q is unknown", c.Scoring.CommunityAlgorithm)
	check(c.Scoring.NeighborHops > 0 && c.Scoring.NeighborHops <= 3, "scoring.neighbor_hops must be between 1 and 3")
	check(c.Scoring.LinkLimit > 0, "scoring.link_limit must be positive")
	for name, w := range c.Scoring.Weights {
		check(w >= 0, "scoring.weights.%s must not be negative", name)
	}

	check(c.Alerting.SeverityMergePolicy == "latest" || c.Alerting.SeverityMergePolicy == "max",
		"alerting.severity_merge_policy must be latest or max, got %q", c.Alerting.SeverityMergePolicy)
	check(c.Alerting.CentralityJumpRatio > 1, "alerting.centrality_jump_ratio must be above 1")

	if c.Kafka.Enabled {
		check(len(c.Kafka.Brokers) > 0, "kafka.brokers must not be empty when kafka is enabled")
		check(c.Kafka.AlertTopic != "", "kafka.alert_topic must be set when kafka is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
