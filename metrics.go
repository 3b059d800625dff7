package ddnsrelay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ddnsrelay"

var updateCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "updates_total",
	Help:      "Counter of DNS records reconciled, by action.",
}, []string{"action"})

var failureCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "failures_total",
	Help:      "Counter of update requests that failed, by reason.",
}, []string{"reason"})

var notificationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "notifications_total",
	Help:      "Counter of notification outcomes.",
}, []string{"status"})

var zoneCacheCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "zone_cache_lookups_total",
	Help:      "Counter of zone id cache lookups, by result.",
}, []string{"result"})

var providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: metricsNamespace,
	Name:      "provider_request_duration_seconds",
	Help:      "Duration of DNS provider calls.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

var httpRequestCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "http_requests_total",
	Help:      "Counter of inbound HTTP requests, by method and status.",
}, []string{"method", "status"})
