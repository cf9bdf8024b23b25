package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"conduit/internal/telemetry"
)

const SupportedSchema = "v1"

// HandlerSpec binds a handler kind from the handlers package to a topic.
type HandlerSpec struct {
	Kind  string `yaml:"kind"`
	Topic string `yaml:"topic"` // optional for kinds with a default topic
}

// Service is the file `conduit run` starts from.
type Service struct {
	SchemaVersion string                  `yaml:"schema_version"`
	ServiceName   string                  `yaml:"service_name"`
	KafkaConfig   string                  `yaml:"kafka_config"` // relative to the service file
	Handlers      []HandlerSpec           `yaml:"handlers"`
	MetricsPort   int                     `yaml:"metrics_port"` // 0 disables /metrics
	Tracing       telemetry.TracingConfig `yaml:"tracing"`
}

// LoadServiceSpec parses a service YAML, validates schema_version and
// resolves kafka_config against the file's directory.
func LoadServiceSpec(path string) (Service, error) {
	var s Service
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("service %s: %w", path, err)
	}
	if s.SchemaVersion == "" {
		s.SchemaVersion = SupportedSchema
	}
	if s.SchemaVersion != SupportedSchema {
		return s, fmt.Errorf("service schema_version %q not supported (want %q)", s.SchemaVersion, SupportedSchema)
	}
	if s.ServiceName == "" {
		s.ServiceName = "conduit"
	}
	s.Tracing.ServiceName = s.ServiceName
	if s.KafkaConfig != "" && !filepath.IsAbs(s.KafkaConfig) {
		s.KafkaConfig = filepath.Join(filepath.Dir(path), s.KafkaConfig)
	}
	for i, h := range s.Handlers {
		if h.Kind == "" {
			return s, fmt.Errorf("service: handlers[%d]: kind required", i)
		}
	}
	return s, nil
}
