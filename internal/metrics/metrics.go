package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ipChecksAllowedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_ip_checks_allowed_total",
		Help: "Total number of IP reputation checks that allowed the request",
	})
	ipChecksBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_ip_checks_blocked_total",
		Help: "Total number of IP reputation checks that blocked the request",
	})
	autoBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_ip_auto_blocks_total",
		Help: "Total number of IPs blocked automatically from failure history",
	})
	rateLimitAllowedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_rate_limit_allowed_total",
		Help: "Total number of requests admitted by the rate limiter",
	})
	rateLimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_rate_limit_rejected_total",
		Help: "Total number of requests rejected by the rate limiter",
	})
	rateLimitPenalizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_rate_limit_penalized_total",
		Help: "Total number of requests rejected while under a progressive penalty",
	})
	sessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_sessions_created_total",
		Help: "Total number of sessions created",
	})
	sessionsInvalidatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_sessions_invalidated_total",
		Help: "Total number of sessions invalidated",
	})
	hijacksDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_session_hijacks_detected_total",
		Help: "Total number of session hijacks detected",
	})
	geoAnomaliesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_geo_anomalies_flagged_total",
		Help: "Total number of implausible-travel anomalies flagged",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		ipChecksAllowedTotal, ipChecksBlockedTotal, autoBlocksTotal,
		rateLimitAllowedTotal, rateLimitRejectedTotal, rateLimitPenalizedTotal,
		sessionsCreatedTotal, sessionsInvalidatedTotal,
		hijacksDetectedTotal, geoAnomaliesTotal,
	)
}

// IncIPCheckAllowed increments the allowed reputation checks counter.
func IncIPCheckAllowed() { ipChecksAllowedTotal.Inc() }

// IncIPCheckBlocked increments the blocked reputation checks counter.
func IncIPCheckBlocked() { ipChecksBlockedTotal.Inc() }

// IncAutoBlock increments the automatic block counter.
func IncAutoBlock() { autoBlocksTotal.Inc() }

// IncRateLimitAllowed increments the admitted requests counter.
func IncRateLimitAllowed() { rateLimitAllowedTotal.Inc() }

// IncRateLimitRejected increments the rejected requests counter.
func IncRateLimitRejected() { rateLimitRejectedTotal.Inc() }

// IncRateLimitPenalized increments the penalty rejections counter.
func IncRateLimitPenalized() { rateLimitPenalizedTotal.Inc() }

// IncSessionCreated increments the created sessions counter.
func IncSessionCreated() { sessionsCreatedTotal.Inc() }

// IncSessionInvalidated increments the invalidated sessions counter.
func IncSessionInvalidated() { sessionsInvalidatedTotal.Inc() }

// IncHijackDetected increments the hijack detections counter.
func IncHijackDetected() { hijacksDetectedTotal.Inc() }

// IncGeoAnomaly increments the flagged travel anomalies counter.
func IncGeoAnomaly() { geoAnomaliesTotal.Inc() }
