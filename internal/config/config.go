// Package config loads the worker's configuration from environment variables.
// A .env file in the working directory is read first when present (see
// app.Run), and the service user's credentials come from mounted secret files
// unless SERVICE_USER_USERNAME / SERVICE_USER_PASSWORD are set.
//
// Environment Variables:
//
// Stream:
//   - KAFKA_BOOTSTRAP_SERVERS: comma separated broker addresses (required)
//   - KAFKA_RAPID_TOPIC: topic carrying need records (default: privat-helse-sykepenger-behov)
//   - KAFKA_CONSUMER_GROUP_ID: consumer group (default: benefit-worker-v1)
//   - KAFKA_CLIENT_ID: client id (default: benefit-worker)
//   - KAFKA_SECURITY_PROTOCOL: PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL (default: PLAINTEXT)
//   - KAFKA_SASL_MECHANISM: PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512 (default: PLAIN)
//
// Upstream:
//   - BENEFITS_BASE_URL: benefits provider base URL (required)
//   - STS_BASE_URL: token service base URL (required)
//   - SERVICE_USER_USERNAME_PATH / SERVICE_USER_PASSWORD_PATH: credential files
//   - HTTP_TIMEOUT: timeout of every outbound call (default: 10s)
//   - UPSTREAM_RPS: request rate limit towards the provider, 0 for none (default: 0)
//   - FEED_MAX_PAGES: page cap when reading the decision feed (default: 1000)
//
// Worker:
//   - HTTP_PORT: port of the probe and metrics endpoints (default: 8080)
//   - WORKER_COUNT: records processed in parallel (default: 4)
//   - NEED_TYPE: need type this worker answers (default: ParentalBenefit)
//   - CREATED_CUTOVER: ignore records created before this instant (default: unset)
//   - LOG_LEVEL, LOG_FORMAT, SECURE_LOG_FILE: see logging.Options
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"benefit-worker/internal/common/errors"
	"benefit-worker/internal/models"
)

const (
	DefaultUsernamePath = "/var/run/secrets/nais.io/service_user/username"
	DefaultPasswordPath = "/var/run/secrets/nais.io/service_user/password"
)

// KafkaConfig is the stream connection
type KafkaConfig struct {
	Brokers          []string `env:"KAFKA_BOOTSTRAP_SERVERS" validate:"required,min=1,dive,hostname_port"`
	Topic            string   `env:"KAFKA_RAPID_TOPIC" validate:"required"`
	GroupID          string   `env:"KAFKA_CONSUMER_GROUP_ID" validate:"required"`
	ClientID         string   `env:"KAFKA_CLIENT_ID" validate:"required"`
	SecurityProtocol string   `env:"KAFKA_SECURITY_PROTOCOL" validate:"oneof=PLAINTEXT SSL SASL_PLAINTEXT SASL_SSL"`
	SASLMechanism    string   `env:"KAFKA_SASL_MECHANISM" validate:"oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
}

// UpstreamConfig covers the token service and the benefits provider
type UpstreamConfig struct {
	BenefitsBaseURL string        `env:"BENEFITS_BASE_URL" validate:"required,url"`
	STSBaseURL      string        `env:"STS_BASE_URL" validate:"required,url"`
	Username        string        `env:"SERVICE_USER_USERNAME" validate:"required"`
	Password        string        `env:"SERVICE_USER_PASSWORD" validate:"required"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" validate:"gt=0"`
	RequestsPerSec  float64       `env:"UPSTREAM_RPS" validate:"gte=0"`
	FeedMaxPages    int           `env:"FEED_MAX_PAGES" validate:"min=1"`
}

// Config holds all configuration values of the worker. The env tag names the
// variable each field is read from and is used in validation messages.
type Config struct {
	Kafka    KafkaConfig
	Upstream UpstreamConfig

	HTTPPort       string    `env:"HTTP_PORT" validate:"required,numeric"`
	WorkerCount    int       `env:"WORKER_COUNT" validate:"min=1,max=64"`
	NeedType       string    `env:"NEED_TYPE" validate:"required"`
	CreatedCutover time.Time `env:"CREATED_CUTOVER"`

	LogLevel      string `env:"LOG_LEVEL" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	LogFormat     string `env:"LOG_FORMAT" validate:"oneof=console json"`
	SecureLogFile string `env:"SECURE_LOG_FILE"`

	// loadErrs collects values that could not be parsed or read
	loadErrs []error
}

// Load creates a Config from the environment. Unparseable values and
// unreadable credential files are reported by Validate.
func Load() *Config {
	c := &Config{
		Kafka: KafkaConfig{
			Brokers:          splitList(getEnv("KAFKA_BOOTSTRAP_SERVERS", "")),
			Topic:            getEnv("KAFKA_RAPID_TOPIC", "privat-helse-sykepenger-behov"),
			GroupID:          getEnv("KAFKA_CONSUMER_GROUP_ID", "benefit-worker-v1"),
			ClientID:         getEnv("KAFKA_CLIENT_ID", "benefit-worker"),
			SecurityProtocol: getEnv("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT"),
			SASLMechanism:    getEnv("KAFKA_SASL_MECHANISM", "PLAIN"),
		},
		Upstream: UpstreamConfig{
			BenefitsBaseURL: getEnv("BENEFITS_BASE_URL", ""),
			STSBaseURL:      getEnv("STS_BASE_URL", ""),
		},
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		NeedType:      getEnv("NEED_TYPE", "ParentalBenefit"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		SecureLogFile: getEnv("SECURE_LOG_FILE", ""),
	}

	c.Upstream.HTTPTimeout = c.getDurationEnv("HTTP_TIMEOUT", 10*time.Second)
	c.Upstream.RequestsPerSec = c.getFloatEnv("UPSTREAM_RPS", 0)
	c.Upstream.FeedMaxPages = c.getIntEnv("FEED_MAX_PAGES", 1000)
	c.Upstream.Username = c.getSecret("SERVICE_USER_USERNAME", "SERVICE_USER_USERNAME_PATH", DefaultUsernamePath)
	c.Upstream.Password = c.getSecret("SERVICE_USER_PASSWORD", "SERVICE_USER_PASSWORD_PATH", DefaultPasswordPath)
	c.WorkerCount = c.getIntEnv("WORKER_COUNT", 4)

	if cutover := getEnv("CREATED_CUTOVER", ""); cutover != "" {
		dt, err := models.ParseDateTime(cutover)
		if err != nil {
			c.loadErrs = append(c.loadErrs, fmt.Errorf("CREATED_CUTOVER: %w", err))
		} else {
			c.CreatedCutover = dt.Time
		}
	}

	return c
}

// Validate reports the first load error, then every field failing its
// validation tag, then the cross-field checks.
func (c *Config) Validate() error {
	if err := c.validate(c); err != nil {
		return err
	}

	if port, err := strconv.Atoi(c.HTTPPort); err != nil || port < 1 || port > 65535 {
		return errors.ConfigError("HTTP_PORT must be a valid port number between 1 and 65535")
	}

	return nil
}

// ValidateUpstream checks only what the history report needs, so it runs
// without any stream settings.
func (c *Config) ValidateUpstream() error {
	return c.validate(c.Upstream)
}

func (c *Config) validate(target interface{}) error {
	if len(c.loadErrs) > 0 {
		return errors.ConfigError(c.loadErrs[0].Error())
	}

	err := newValidator().Struct(target)
	if err == nil {
		return nil
	}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		messages := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
			return describe(fe)
		})
		return errors.ConfigError(strings.Join(messages, "; "))
	}
	return errors.ConfigError(err.Error())
}

// SASLEnabled reports whether the stream connection authenticates with SASL
func (c *Config) SASLEnabled() bool {
	return strings.HasPrefix(c.Kafka.SecurityProtocol, "SASL_")
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", fe.Field(), fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.loadErrs = append(c.loadErrs, fmt.Errorf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.loadErrs = append(c.loadErrs, fmt.Errorf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.loadErrs = append(c.loadErrs, fmt.Errorf("%s must be a duration such as 10s, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// getSecret prefers the variable itself and falls back to the file named by
// pathKey. A missing file leaves the value empty for Validate to report.
func (c *Config) getSecret(key, pathKey, defaultPath string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	path := getEnv(pathKey, defaultPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.loadErrs = append(c.loadErrs, fmt.Errorf("%s: %w", pathKey, err))
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

func splitList(value string) []string {
	parts := lo.Compact(lo.Map(strings.Split(value, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if len(parts) == 0 {
		return nil
	}
	return parts
}
