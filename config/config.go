package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server   ServerConfig
	Redis    RedisConfig
	Broker   BrokerConfig
	Auth     AuthConfig
	Cache    CacheConfig
	Realtime RealtimeConfig
	Gateway  GatewayConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

type ServerConfig struct {
	InvocationTimeout time.Duration `validate:"gt=0"`
	ShutdownTimeout   time.Duration `validate:"gt=0"`
}

type RedisConfig struct {
	Address     string `validate:"required,hostname_port"`
	Password    string
	DB          int `validate:"gte=0"`
	PoolSize    int `validate:"gt=0"`
	PoolTimeout int // Seconds
}

type BrokerConfig struct {
	Type  string `validate:"oneof=redis kafka"`
	Kafka KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type AuthConfig struct {
	Enabled           bool
	JWTSecret         string
	RevocationListKey string
}

type CacheConfig struct {
	Type       string        `validate:"oneof=redis memory"`
	KeyTTL     time.Duration `validate:"gte=0"`
	MaxRetries uint64
}

type RealtimeConfig struct {
	Stage         string        `validate:"required"`
	ConnectionTTL time.Duration `validate:"gt=0"`
	SweepDelay    time.Duration `validate:"gt=0"`
	SweepCapacity int           `validate:"gt=0"`
}

type GatewayConfig struct {
	InboundChannel  string `validate:"required"`
	OutboundChannel string `validate:"required,nefield=InboundChannel"`
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=text json"`
}

var (
	instance *AppConfig
	once     sync.Once
)

// Initialize loads the configuration of env once per process.
func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		instance, initErr = Load(env, "./configs", ".")
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}

// Load reads config.<env>.yaml from the first path containing it, applies
// defaults and WSGATEWAY_* environment overrides, then validates the result.
// A missing file is not an error.
func Load(env string, paths ...string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("WSGATEWAY")
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("config env binding error: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
