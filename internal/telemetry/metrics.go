// Package telemetry provides application-level observability for the shelter registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<SHR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. It is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Association lifecycle transitions by outcome
//   - Outbound notifications by channel and result
//   - Telegram callback actions
//   - Password reset requests and completions
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /manage/approve/:token)
// rather than the raw request URL so that tokens never become label values.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Lifecycle metrics.
//
// AssociationTransitionsTotal labels:
//   - transition: approve | reject | suspend | reactivate | soft_delete
//   - outcome:    applied | noop | purged | invalid | conflict | not_found | error
//
// Example PromQL:
//   - Approvals per day: increase(association_transitions_total{transition="approve",outcome="applied"}[1d])
var (
	AssociationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "association_transitions_total",
			Help: "Total number of association lifecycle transition attempts, by transition and outcome.",
		},
		[]string{"transition", "outcome"},
	)

	AssociationRegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "association_registrations_total",
			Help: "Total number of association registration attempts, by channel (web or telegram) and result.",
		},
		[]string{"channel", "result"},
	)
)

// Notification metrics. channel is email or telegram; result is sent, failed or skipped.
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of outbound notifications, by channel, event, and result.",
	},
	[]string{"channel", "event", "result"},
)

// TelegramCallbacksTotal counts moderation callbacks received from the bot, by parsed action.
var TelegramCallbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telegram_callbacks_total",
		Help: "Total number of Telegram callback queries handled, by action.",
	},
	[]string{"action"},
)

// PasswordResetsTotal counts reset flow stages: requested, completed, expired, invalid, throttled.
var PasswordResetsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "password_resets_total",
		Help: "Total number of password reset flow events, by stage.",
	},
	[]string{"stage"},
)

// DBOpenConnections reports the current number of open connections in the database/sql pool.
// It is updated every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector polls the pool every 30 seconds until ctx is cancelled
// or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
