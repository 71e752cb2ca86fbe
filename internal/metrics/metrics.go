// Package metrics holds the Prometheus collectors of the auth subsystem.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "repairs"

var (
	once sync.Once

	// LoginAttempts counts logins by outcome (success, invalid_credentials, error).
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "auth", Name: "login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	// Refreshes counts refresh token redemptions by outcome (success, rejected, error).
	Refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "auth", Name: "refreshes_total",
		Help: "Refresh token redemptions by outcome",
	}, []string{"outcome"})

	// ReuseDetected counts revoked refresh tokens presented again.
	ReuseDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "auth", Name: "refresh_reuse_detected_total",
		Help: "Revoked refresh tokens presented again",
	})

	// Revocations counts revoked refresh tokens by reason.
	Revocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "auth", Name: "revocations_total",
		Help: "Revoked refresh tokens by reason",
	}, []string{"reason"})

	// SweptTokens counts rows removed by the cleanup sweeper.
	SweptTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sweeper", Name: "deleted_tokens_total",
		Help: "Expired or revoked refresh tokens deleted by the sweeper",
	})

	// SweepErrors counts failed sweeper cycles.
	SweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sweeper", Name: "errors_total",
		Help: "Sweeper cycles that failed",
	})

	// AuditDropped counts audit events discarded because the buffer was full.
	AuditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "audit", Name: "dropped_events_total",
		Help: "Audit events dropped on a full buffer",
	})

	// Throttled counts requests rejected by the rate limiter, by route.
	Throttled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "throttled_requests_total",
		Help: "Requests rejected with 429",
	}, []string{"route"})

	// PasswordVerifyLatency observes bcrypt verification time.
	PasswordVerifyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "auth", Name: "password_verify_seconds",
		Help:    "Latency of password verification",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2},
	})
)

// Register registers all collectors.  If r == nil the default registerer
// is used.  Repeated calls are no-ops.
func Register(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		r.MustRegister(
			LoginAttempts,
			Refreshes,
			ReuseDetected,
			Revocations,
			SweptTokens,
			SweepErrors,
			AuditDropped,
			Throttled,
			PasswordVerifyLatency,
		)
	})
}
