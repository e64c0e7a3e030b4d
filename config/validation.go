package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth is enabled")
		}
	}

	if c.Broker.Type == "kafka" {
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("kafka groupID must be specified for kafka broker")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return fmt.Errorf("invalid metrics path: %q", c.Metrics.Path)
		}
	}

	if c.Realtime.SweepDelay >= c.Realtime.ConnectionTTL {
		return errors.New("sweep delay should be less than the connection TTL")
	}

	return nil
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		// Server
		"server.invocationTimeout": "WSGATEWAY_INVOCATION_TIMEOUT",
		"server.shutdownTimeout":   "WSGATEWAY_SHUTDOWN_TIMEOUT",

		// Auth
		"auth.enabled":           "WSGATEWAY_AUTH_ENABLED",
		"auth.jwtSecret":         "WSGATEWAY_AUTH_JWT_SECRET",
		"auth.revocationListKey": "WSGATEWAY_AUTH_REVOCATION_KEY",

		// Redis
		"redis.address":  "WSGATEWAY_REDIS_ADDRESS",
		"redis.password": "WSGATEWAY_REDIS_PASSWORD",
		"redis.db":       "WSGATEWAY_REDIS_DB",

		// Broker
		"broker.type":          "WSGATEWAY_BROKER_TYPE",
		"broker.kafka.brokers": "WSGATEWAY_KAFKA_BROKERS",
		"broker.kafka.groupID": "WSGATEWAY_KAFKA_GROUPID",

		// Gateway
		"gateway.inboundChannel":  "WSGATEWAY_INBOUND_CHANNEL",
		"gateway.outboundChannel": "WSGATEWAY_OUTBOUND_CHANNEL",

		// Cache
		"cache.type":   "WSGATEWAY_CACHE_TYPE",
		"cache.keyTTL": "WSGATEWAY_CACHE_KEY_TTL",

		// Realtime
		"realtime.stage":         "WSGATEWAY_STAGE",
		"realtime.connectionTTL": "WSGATEWAY_CONNECTION_TTL",
		"realtime.sweepDelay":    "WSGATEWAY_SWEEP_DELAY",

		// Metrics
		"metrics.enabled": "WSGATEWAY_METRICS_ENABLED",
		"metrics.port":    "WSGATEWAY_METRICS_PORT",

		// Log
		"log.level":  "WSGATEWAY_LOG_LEVEL",
		"log.format": "WSGATEWAY_LOG_FORMAT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}
