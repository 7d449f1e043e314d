package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/samber/lo"
)

var (
	validProtocols  = []string{"PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL"}
	validMechanisms = []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"}
)

type Config struct {
	Brokers          []string
	ClientID         string
	GroupID          string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	// Timeout bounds metadata requests and the flush on Close
	Timeout time.Duration
	// PollInterval is how long Subscribe waits for a record before checking ctx
	PollInterval time.Duration
}

func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("Kafka brokers are required")
	}

	for _, broker := range c.Brokers {
		if strings.TrimSpace(broker) == "" {
			return fmt.Errorf("empty Kafka broker address")
		}
	}

	// Set defaults
	if c.ClientID == "" {
		c.ClientID = "benefit-worker"
	}

	if c.GroupID == "" {
		c.GroupID = "benefit-worker-v1"
	}

	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}

	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}

	if c.SecurityProtocol == "" {
		c.SecurityProtocol = "PLAINTEXT"
	}

	if !lo.Contains(validProtocols, c.SecurityProtocol) {
		return fmt.Errorf("invalid security protocol: %s", c.SecurityProtocol)
	}

	if strings.HasPrefix(c.SecurityProtocol, "SASL_") {
		if c.SASLMechanism == "" {
			c.SASLMechanism = "PLAIN"
		}

		if !lo.Contains(validMechanisms, c.SASLMechanism) {
			return fmt.Errorf("invalid SASL mechanism: %s", c.SASLMechanism)
		}

		if c.SASLUsername == "" || c.SASLPassword == "" {
			return fmt.Errorf("SASL username and password are required for SASL authentication")
		}
	}

	return nil
}

func (c *Config) GetType() string {
	return "kafka"
}

func (c *Config) GetConnectionString() string {
	return strings.Join(c.Brokers, ",")
}

// configMap builds the librdkafka settings shared by producer and consumer
func (c *Config) configMap(clientSuffix string) kafka.ConfigMap {
	m := kafka.ConfigMap{
		"bootstrap.servers": c.GetConnectionString(),
		"client.id":         c.ClientID + clientSuffix,
	}

	if c.SecurityProtocol != "PLAINTEXT" {
		m["security.protocol"] = c.SecurityProtocol
	}

	if strings.HasPrefix(c.SecurityProtocol, "SASL_") {
		m["sasl.mechanism"] = c.SASLMechanism
		m["sasl.username"] = c.SASLUsername
		m["sasl.password"] = c.SASLPassword
	}

	return m
}

func DefaultConfig() *Config {
	return &Config{
		Brokers:          []string{"localhost:9092"},
		ClientID:         "benefit-worker",
		GroupID:          "benefit-worker-v1",
		SecurityProtocol: "PLAINTEXT",
		Timeout:          10 * time.Second,
		PollInterval:     100 * time.Millisecond,
	}
}
