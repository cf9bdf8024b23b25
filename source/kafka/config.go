package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

// Offset reset policies applied when the group has no committed offset.
const (
	OffsetEarliest = "earliest"
	OffsetLatest   = "latest"
	OffsetNone     = "none"
)

var (
	ErrInvalidConfig = errors.New("kafka: invalid config")
	ErrUnknownDriver = errors.New("kafka: unsupported driver")
)

// Config is the broker configuration shared by the consumer and producer.
// It is built once at startup and never mutated afterwards.
type Config struct {
	Brokers          string `koanf:"brokers"`  // comma-separated host:port list
	ConsumerGroupID  string `koanf:"consumer_group_id"`
	Topics           string `koanf:"topics"`   // informational; subscription follows handlers
	Enabled          bool   `koanf:"enabled"`
	AutoOffsetReset  string `koanf:"auto_offset_reset"` // earliest|latest|none
	SessionTimeoutMS int    `koanf:"session_timeout_ms"`

	Driver            string `koanf:"driver"`  // sarama|kafka-go
	Version           string `koanf:"version"` // protocol version, sarama only
	ClientID          string `koanf:"client_id"`
	DeliveryTimeoutMS int    `koanf:"delivery_timeout_ms"`
	CommitIntervalMS  int    `koanf:"commit_interval_ms"` // 0 = flush on every commit
	TLSEn             bool   `koanf:"tls_enabled"`
	SASLUser          string `koanf:"sasl_user"`
	SASLPass          string `koanf:"sasl_pass"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars (prefix `KAFKA_`, e.g.
// KAFKA_BROKERS, KAFKA_CONSUMER_GROUP_ID) and fills in defaults.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.Provider("KAFKA_", ".", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "KAFKA_"))
}

// ---------------------------------------------------------------------------
// defaults & validation
// ---------------------------------------------------------------------------

// ApplyDefaults fills zero fields in-place. Enabled is left as is: a zero
// config means Kafka is off.
func (c *Config) ApplyDefaults() {
	if c.Brokers == "" {
		c.Brokers = "localhost:9092"
	}
	if c.ConsumerGroupID == "" {
		c.ConsumerGroupID = "template-service-group"
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = OffsetLatest
	}
	if c.SessionTimeoutMS == 0 {
		c.SessionTimeoutMS = 6000
	}
	if c.Driver == "" {
		c.Driver = DriverSarama
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.ClientID == "" {
		c.ClientID = "conduit"
	}
	if c.DeliveryTimeoutMS == 0 {
		c.DeliveryTimeoutMS = 5000
	}
}

// Validate reports the first malformed field.
func (c Config) Validate() error {
	switch {
	case len(c.BrokerList()) == 0:
		return fmt.Errorf("%w: brokers required", ErrInvalidConfig)
	case c.ConsumerGroupID == "":
		return fmt.Errorf("%w: consumer_group_id required", ErrInvalidConfig)
	case c.SessionTimeoutMS <= 0:
		return fmt.Errorf("%w: session_timeout_ms must be positive, got %d", ErrInvalidConfig, c.SessionTimeoutMS)
	case c.DeliveryTimeoutMS <= 0:
		return fmt.Errorf("%w: delivery_timeout_ms must be positive, got %d", ErrInvalidConfig, c.DeliveryTimeoutMS)
	case c.CommitIntervalMS < 0:
		return fmt.Errorf("%w: commit_interval_ms must not be negative", ErrInvalidConfig)
	}
	switch c.AutoOffsetReset {
	case OffsetEarliest, OffsetLatest, OffsetNone:
	default:
		return fmt.Errorf("%w: auto_offset_reset %q (want earliest|latest|none)", ErrInvalidConfig, c.AutoOffsetReset)
	}
	if !registered(c.Driver) {
		return fmt.Errorf("%w %q (registered: %s)", ErrUnknownDriver, c.Driver, strings.Join(Drivers(), ", "))
	}
	return nil
}

// BrokerList splits Brokers on commas, dropping blanks.
func (c Config) BrokerList() []string { return splitList(c.Brokers) }

// TopicList splits Topics on commas, dropping blanks.
func (c Config) TopicList() []string { return splitList(c.Topics) }

func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMS) * time.Millisecond
}

func (c Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutMS) * time.Millisecond
}

func (c Config) CommitInterval() time.Duration {
	return time.Duration(c.CommitIntervalMS) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
