// Package metrics exposes the gateway's counters and gauges on a dedicated
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries every instrument the gateway emits.
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	UptimeSeconds  prometheus.GaugeFunc
	ActiveAgents   prometheus.Gauge
	MessagesSent   *prometheus.CounterVec
	MessagesRecv   *prometheus.CounterVec
	SendFailures   *prometheus.CounterVec
	WebhookReject  *prometheus.CounterVec
	DeadLetters    *prometheus.CounterVec
	Alerts         *prometheus.CounterVec
	RateLimited    prometheus.Counter
	AuthFailures   prometheus.Counter
}

// New builds the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg, started: time.Now()}

	m.UptimeSeconds = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mcp_uptime_seconds",
		Help: "Seconds since process start.",
	}, func() float64 { return time.Since(m.started).Seconds() })

	m.ActiveAgents = factory.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_active_agents",
		Help: "Currently active provisioned agents.",
	})
	m.MessagesSent = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_messages_sent_total",
		Help: "Outbound messages successfully dispatched.",
	}, []string{"channel"})
	m.MessagesRecv = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_messages_received_total",
		Help: "Inbound messages accepted from carriers.",
	}, []string{"channel"})
	m.SendFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_send_failures_total",
		Help: "Outbound dispatches that failed at the provider.",
	}, []string{"channel"})
	m.WebhookReject = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_webhook_rejected_total",
		Help: "Inbound webhooks rejected before processing.",
	}, []string{"reason"})
	m.DeadLetters = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_dead_letters_total",
		Help: "Dead letters enqueued.",
	}, []string{"direction"})
	m.Alerts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_alerts_total",
		Help: "Alerts raised, by severity.",
	}, []string{"severity"})
	m.RateLimited = factory.NewCounter(prometheus.CounterOpts{
		Name: "mcp_rate_limited_total",
		Help: "Dispatches refused by the rate limiter.",
	})
	m.AuthFailures = factory.NewCounter(prometheus.CounterOpts{
		Name: "mcp_auth_failures_total",
		Help: "Requests with missing or invalid credentials.",
	})
	return m
}

// Handler serves the Prometheus text exposition for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
