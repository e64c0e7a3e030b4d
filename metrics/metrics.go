package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway Metrics
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_inbound_events_total",
		Help: "The total number of gateway events received, by route.",
	}, []string{"route"})
	OutboundPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_outbound_payloads_total",
		Help: "The total number of payloads handed to the emitter.",
	})

	// Connection Registry Metrics
	ConnectionsRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_connections_registered_total",
		Help: "The total number of connect attempts, by event and result.",
	}, []string{"event", "result"})
	ConnectionsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_connections_expired_total",
		Help: "The total number of expired connections dropped while loading a channel.",
	}, []string{"event"})
	ChannelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_channel_loads_total",
		Help: "The total number of channel loads that reached the cache.",
	}, []string{"event"})
	Sweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_disconnect_sweeps_total",
		Help: "The total number of deferred disconnect sweeps flushed.",
	})
	SweptChannels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_swept_channels_total",
		Help: "The total number of channels rewritten by sweeps.",
	})

	// Routing Metrics
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_messages_total",
		Help: "The total number of inbound messages dispatched, by event and strategy.",
	}, []string{"event", "strategy"})
	RoutingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_errors_total",
		Help: "The total number of routing failures reported back to senders.",
	}, []string{"event"})

	// Cache Metrics
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_operations_total",
		Help: "The total number of cache commands issued.",
	}, []string{"op"})
	CacheFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_failures_total",
		Help: "The total number of cache commands that failed after retries.",
	}, []string{"op"})

	// Broker Metrics
	BrokerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_published_total",
		Help: "The total number of messages published to the message broker.",
	}, []string{"broker_type"})
	BrokerPublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_retries_total",
		Help: "The total number of retries when publishing to the message broker.",
	}, []string{"broker_type"})

	// Auth Metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_success_total",
		Help: "The total number of successful identity checks.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "The total number of failed identity checks.",
	}, []string{"reason"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	log.Info("starting metrics server", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}
