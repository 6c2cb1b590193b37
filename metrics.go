package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
)

// Metrics contains all Prometheus metrics for the application
type Metrics struct {
	// WebSocket connection metrics
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	MessageReceived  prometheus.Counter
	MessageSent      prometheus.Counter

	// RPC method metrics
	RPCRequests *prometheus.CounterVec

	// Signing metrics
	SignRequests *prometheus.CounterVec
	SignDuration prometheus.Histogram

	// Key store metrics
	KeysImported *prometheus.CounterVec
	KeysStored   prometheus.Gauge
}

// NewMetrics initializes and registers Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keynode_connected_clients",
			Help: "The current number of connected clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "keynode_connections_total",
			Help: "The total number of WebSocket connections made since server start",
		}),
		MessageReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "keynode_ws_messages_received_total",
			Help: "The total number of WebSocket messages received",
		}),
		MessageSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "keynode_ws_messages_sent_total",
			Help: "The total number of WebSocket messages sent",
		}),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keynode_rpc_requests_total",
				Help: "The total number of RPC requests by method",
			},
			[]string{"method", "status"},
		),
		SignRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keynode_sign_requests_total",
				Help: "The total number of sign requests by digest and result kind",
			},
			[]string{"digest", "result"},
		),
		SignDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "keynode_sign_duration_seconds",
			Help:    "Time spent producing a signature",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		KeysImported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keynode_keys_imported_total",
				Help: "The total number of keys imported by algorithm",
			},
			[]string{"algorithm"},
		),
		KeysStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keynode_keys_stored",
			Help: "The number of keys in the key store",
		}),
	}
}

// RecordMetricsPeriodically refreshes store gauges until ctx is done.
func (m *Metrics) RecordMetricsPeriodically(ctx context.Context, store *KeyStore, logger log.Logger) {
	logger = logger.WithName("metrics")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	m.UpdateKeyMetrics(store, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateKeyMetrics(store, logger)
		}
	}
}

func (m *Metrics) UpdateKeyMetrics(store *KeyStore, logger log.Logger) {
	count, err := store.Count()
	if err != nil {
		logger.Error("failed to count stored keys", "error", err)
		return
	}
	m.KeysStored.Set(float64(count))
}
