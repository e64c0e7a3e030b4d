package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.invocationTimeout", "10s")
	v.SetDefault("server.shutdownTimeout", "15s")

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtSecret", "default-secret")
	v.SetDefault("auth.revocationListKey", "jwt:revoked")

	// Redis
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 100)
	v.SetDefault("redis.poolTimeout", 5)

	// Broker
	v.SetDefault("broker.type", "redis")
	v.SetDefault("broker.kafka.groupID", "realtime")

	// Gateway channels, as named by the poolers.
	v.SetDefault("gateway.inboundChannel", "ws:inbound")
	v.SetDefault("gateway.outboundChannel", "ws:outbound")

	// Cache
	v.SetDefault("cache.type", "redis")
	v.SetDefault("cache.keyTTL", "0s")
	v.SetDefault("cache.maxRetries", 3)

	// Realtime
	v.SetDefault("realtime.stage", "local")
	v.SetDefault("realtime.connectionTTL", "24h")
	v.SetDefault("realtime.sweepDelay", "300ms")
	v.SetDefault("realtime.sweepCapacity", 1024)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
