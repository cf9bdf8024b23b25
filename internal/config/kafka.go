package config

import (
	"conduit/source/kafka"
)

// LoadKafkaConfig loads the broker config the service file points at. With
// no kafka_config the config comes from KAFKA_* variables and defaults.
func LoadKafkaConfig(s Service) (kafka.Config, error) {
	return kafka.LoadConfig(s.KafkaConfig)
}
