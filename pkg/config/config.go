// Package config loads and validates the gateway configuration from an
// optional YAML file with GW_* environment-variable overrides. Load fails fast
// on unrecoverable fields (subgraph list); Normalize replaces every other
// invalid value with its documented default and logs a notice for each.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
)

// Documented defaults.
const (
	DefaultProbeInterval      = 30 * time.Second
	DefaultProbeTimeout       = 5 * time.Second
	DefaultFailureThreshold   = 3
	DefaultRevalidateInterval = 60 * time.Second
	DefaultFetchTimeout       = 5 * time.Second
	DefaultSubrequestTimeout  = 10 * time.Second
	DefaultMaxRequestBytes    = 1 << 20
	DefaultHealthPath         = "/health"
	DefaultGraphQLPath        = "/graphql"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Subgraphs   []SubgraphConfig  `yaml:"subgraphs"`
	Probe       ProbeConfig       `yaml:"probe"`
	Composition CompositionConfig `yaml:"composition"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	// notices collects recoverable problems found before logging is set up.
	notices []string
}

// ServerConfig holds HTTP server settings. PortValue is the raw configured
// value; Port is filled by Normalize through the Port Resolver.
type ServerConfig struct {
	PortValue       string        `yaml:"port"`
	Port            int           `yaml:"-"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// GatewayConfig holds request-handling settings.
type GatewayConfig struct {
	ServiceName        string        `yaml:"serviceName"`
	Version            string        `yaml:"version"`
	Environment        string        `yaml:"environment"`
	CORSOrigins        []string      `yaml:"corsOrigins"`
	SubrequestTimeout  time.Duration `yaml:"subrequestTimeout"`
	MaxRequestBytes    int64         `yaml:"maxRequestBytes"`
	RateLimitPerMinute int           `yaml:"rateLimitPerMinute"`
}

// IsProduction reports whether the gateway runs with production settings.
func (g GatewayConfig) IsProduction() bool {
	return strings.EqualFold(g.Environment, "production")
}

// SubgraphConfig describes one backend service.
type SubgraphConfig struct {
	Name          string        `yaml:"name"`
	URL           string        `yaml:"url"`
	HealthPath    string        `yaml:"healthPath"`
	SchemaPath    string        `yaml:"schemaPath"`
	GraphQLPath   string        `yaml:"graphqlPath"`
	ProbeTimeout  time.Duration `yaml:"probeTimeout"`
	ProbeInterval time.Duration `yaml:"probeInterval"`
}

// ProbeConfig controls the Health Prober.
type ProbeConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failureThreshold"`
}

// CompositionConfig controls the Schema Composer.
type CompositionConfig struct {
	RevalidateInterval time.Duration `yaml:"revalidateInterval"`
	FetchTimeout       time.Duration `yaml:"fetchTimeout"`
	FetchAttempts      int           `yaml:"fetchAttempts"`
}

// RedisConfig holds the SDL cache connection.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	SDLTTL   time.Duration `yaml:"sdlTTL"`
}

// PostgresConfig holds the composition history database connection.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds the gateway event stream settings. Events are published
// to EventsTopic; subgraphs announce schema changes on SchemaChangesTopic.
type KafkaConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Brokers            []string `yaml:"brokers"`
	ConsumerGroup      string   `yaml:"consumerGroup"`
	EventsTopic        string   `yaml:"eventsTopic"`
	SchemaChangesTopic string   `yaml:"schemaChangesTopic"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the subgraph list. A returned error wraps
// errors.ErrConfiguration and is fatal at startup.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: reading config file %s: %v", gwerrors.ErrConfiguration, path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file %s: %v", gwerrors.ErrConfiguration, path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Gateway: GatewayConfig{
			ServiceName:       "federation-gateway",
			Version:           "dev",
			Environment:       "development",
			CORSOrigins:       []string{"*"},
			SubrequestTimeout: DefaultSubrequestTimeout,
			MaxRequestBytes:   DefaultMaxRequestBytes,
		},
		Probe: ProbeConfig{
			Interval:         DefaultProbeInterval,
			Timeout:          DefaultProbeTimeout,
			FailureThreshold: DefaultFailureThreshold,
		},
		Composition: CompositionConfig{
			RevalidateInterval: DefaultRevalidateInterval,
			FetchTimeout:       DefaultFetchTimeout,
			FetchAttempts:      2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			SDLTTL:   24 * time.Hour,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "gateway",
			User:            "gateway",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:            []string{"localhost:9092"},
			ConsumerGroup:      "federation-gateway",
			EventsTopic:        "gateway-events",
			SchemaChangesTopic: "subgraph-schema-changes",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads GW_* environment variables and overrides the
// corresponding config fields. Values that fail to parse are kept out of the
// config and recorded as notices for Normalize to log.
func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("GW_PORT"); ok {
		cfg.Server.PortValue = v
	} else if v, ok := os.LookupEnv("PORT"); ok {
		cfg.Server.PortValue = v
	}
	if v := os.Getenv("GW_SUBGRAPHS"); v != "" {
		subgraphs, err := parseSubgraphList(v)
		if err != nil {
			return err
		}
		cfg.Subgraphs = subgraphs
	}
	if v := os.Getenv("GW_CORS_ORIGINS"); v != "" {
		cfg.Gateway.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("GW_ENVIRONMENT"); v != "" {
		cfg.Gateway.Environment = v
	}
	if v := os.Getenv("GW_VERSION"); v != "" {
		cfg.Gateway.Version = v
	}
	cfg.envDuration("GW_PROBE_INTERVAL", &cfg.Probe.Interval)
	cfg.envDuration("GW_PROBE_TIMEOUT", &cfg.Probe.Timeout)
	cfg.envInt("GW_FAILURE_THRESHOLD", &cfg.Probe.FailureThreshold)
	cfg.envDuration("GW_REVALIDATE_INTERVAL", &cfg.Composition.RevalidateInterval)
	cfg.envDuration("GW_SUBREQUEST_TIMEOUT", &cfg.Gateway.SubrequestTimeout)
	cfg.envInt("GW_RATE_LIMIT_PER_MINUTE", &cfg.Gateway.RateLimitPerMinute)
	if v := os.Getenv("GW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GW_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("GW_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GW_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Enabled = true
		cfg.Postgres.Host = v
	}
	cfg.envInt("GW_POSTGRES_PORT", &cfg.Postgres.Port)
	if v := os.Getenv("GW_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("GW_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("GW_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("GW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Enabled = true
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("GW_KAFKA_EVENTS_TOPIC"); v != "" {
		cfg.Kafka.EventsTopic = v
	}
	if v := os.Getenv("GW_KAFKA_SCHEMA_TOPIC"); v != "" {
		cfg.Kafka.SchemaChangesTopic = v
	}
	cfg.envInt("GW_METRICS_PORT", &cfg.Metrics.Port)
	return nil
}

func (c *Config) envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.notices = append(c.notices, fmt.Sprintf("%s=%q is not a duration, keeping %s", key, v, *dst))
		return
	}
	*dst = d
}

func (c *Config) envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.notices = append(c.notices, fmt.Sprintf("%s=%q is not an integer, keeping %d", key, v, *dst))
		return
	}
	*dst = n
}

// parseSubgraphList parses "name=url,name=url".
func parseSubgraphList(v string) ([]SubgraphConfig, error) {
	var out []SubgraphConfig
	for _, entry := range splitList(v) {
		name, rawURL, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: GW_SUBGRAPHS entry %q must be name=url", gwerrors.ErrConfiguration, entry)
		}
		out = append(out, SubgraphConfig{
			Name: strings.TrimSpace(name),
			URL:  strings.TrimSpace(rawURL),
		})
	}
	return out, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the fields that have no safe default. Any failure is a
// fatal startup error.
func (c *Config) Validate() error {
	if len(c.Subgraphs) == 0 {
		return fmt.Errorf("%w: no subgraphs configured (set GW_SUBGRAPHS or subgraphs:)", gwerrors.ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(c.Subgraphs))
	for i, sg := range c.Subgraphs {
		if sg.Name == "" {
			return fmt.Errorf("%w: subgraph #%d has no name", gwerrors.ErrConfiguration, i)
		}
		if _, dup := seen[sg.Name]; dup {
			return fmt.Errorf("%w: duplicate subgraph name %q", gwerrors.ErrConfiguration, sg.Name)
		}
		seen[sg.Name] = struct{}{}
		if sg.URL == "" {
			return fmt.Errorf("%w: subgraph %q has no url", gwerrors.ErrConfiguration, sg.Name)
		}
		u, err := url.Parse(sg.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: subgraph %q has invalid url %q", gwerrors.ErrConfiguration, sg.Name, sg.URL)
		}
	}
	return nil
}

// Normalize resolves the listening port and replaces every invalid
// recoverable value with its documented default, logging one notice per
// fallback. It must run once, after logging is configured.
func (c *Config) Normalize(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, n := range c.notices {
		logger.Warn("configuration notice", "notice", n)
	}
	c.notices = nil

	c.Server.Port = ResolvePort(c.Server.PortValue, logger)

	notice := func(field string, value, fallback any) {
		logger.Warn("invalid configuration value, using default",
			"field", field, "value", value, "default", fallback)
	}

	if c.Probe.Interval <= 0 {
		notice("probe.interval", c.Probe.Interval, DefaultProbeInterval)
		c.Probe.Interval = DefaultProbeInterval
	}
	if c.Probe.Timeout <= 0 {
		notice("probe.timeout", c.Probe.Timeout, DefaultProbeTimeout)
		c.Probe.Timeout = DefaultProbeTimeout
	}
	if c.Probe.FailureThreshold < 1 {
		notice("probe.failureThreshold", c.Probe.FailureThreshold, DefaultFailureThreshold)
		c.Probe.FailureThreshold = DefaultFailureThreshold
	}
	if c.Composition.RevalidateInterval <= 0 {
		notice("composition.revalidateInterval", c.Composition.RevalidateInterval, DefaultRevalidateInterval)
		c.Composition.RevalidateInterval = DefaultRevalidateInterval
	}
	if c.Composition.FetchTimeout <= 0 {
		notice("composition.fetchTimeout", c.Composition.FetchTimeout, DefaultFetchTimeout)
		c.Composition.FetchTimeout = DefaultFetchTimeout
	}
	if c.Composition.FetchAttempts < 1 {
		notice("composition.fetchAttempts", c.Composition.FetchAttempts, 1)
		c.Composition.FetchAttempts = 1
	}
	if c.Gateway.SubrequestTimeout <= 0 {
		notice("gateway.subrequestTimeout", c.Gateway.SubrequestTimeout, DefaultSubrequestTimeout)
		c.Gateway.SubrequestTimeout = DefaultSubrequestTimeout
	}
	if c.Gateway.MaxRequestBytes <= 0 {
		notice("gateway.maxRequestBytes", c.Gateway.MaxRequestBytes, DefaultMaxRequestBytes)
		c.Gateway.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.Gateway.RateLimitPerMinute < 0 {
		notice("gateway.rateLimitPerMinute", c.Gateway.RateLimitPerMinute, 0)
		c.Gateway.RateLimitPerMinute = 0
	}
	if len(c.Gateway.CORSOrigins) == 0 {
		c.Gateway.CORSOrigins = []string{"*"}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		notice("logging.level", c.Logging.Level, "info")
		c.Logging.Level = "info"
	}

	for i := range c.Subgraphs {
		sg := &c.Subgraphs[i]
		sg.URL = strings.TrimRight(sg.URL, "/")
		if sg.HealthPath == "" {
			sg.HealthPath = DefaultHealthPath
		}
		if sg.GraphQLPath == "" {
			sg.GraphQLPath = DefaultGraphQLPath
		}
		if sg.SchemaPath == "" {
			sg.SchemaPath = sg.GraphQLPath
		}
		if sg.ProbeTimeout < 0 {
			notice("subgraphs."+sg.Name+".probeTimeout", sg.ProbeTimeout, c.Probe.Timeout)
		}
		if sg.ProbeTimeout <= 0 {
			sg.ProbeTimeout = c.Probe.Timeout
		}
		if sg.ProbeInterval < 0 {
			notice("subgraphs."+sg.Name+".probeInterval", sg.ProbeInterval, c.Probe.Interval)
		}
		if sg.ProbeInterval <= 0 {
			sg.ProbeInterval = c.Probe.Interval
		}
	}
}
