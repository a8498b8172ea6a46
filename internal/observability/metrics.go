package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	SessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_session_events_total", Help: "Adapter lifecycle events bridged"},
		[]string{"event"},
	)
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "wa_sessions_active", Help: "Sessions currently ready and connected"},
	)
	APIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "wa_api_duration_seconds", Help: "API request latency"},
		[]string{"endpoint"},
	)
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_messages_sent_total", Help: "Outbound send outcomes"},
		[]string{"result"},
	)
	WebhookAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_webhook_attempts_total", Help: "Webhook delivery attempts"},
		[]string{"result", "http_status"},
	)
	WebhookLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "wa_webhook_latency_seconds", Help: "Webhook POST latency"},
	)
	RestoredSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wa_restore_sessions_total", Help: "Startup restore sweep outcomes"},
		[]string{"outcome"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, APIDuration, SessionEvents, SessionsActive, MessagesSent, WebhookAttempts, WebhookLatency, RestoredSessions)
}
