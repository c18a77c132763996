package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClicksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_clicks_received_total",
		Help: "Tracking requests by outcome (accepted, bot, owner, invalid).",
	}, []string{"outcome"})

	VisitorsNew = promauto.NewCounter(prometheus.CounterOpts{
		Name: "site_visitors_new_total",
		Help: "Accepted clicks from visitors without an identity cookie.",
	})

	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "site_click_buffer_size",
		Help: "Events currently waiting in the click buffer.",
	})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_click_flushes_total",
		Help: "Buffer flushes handed to the delivery workers, by trigger.",
	}, []string{"trigger"})

	DeliveryRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "site_delivery_queue_rejected_total",
		Help: "Batches put back into the buffer because the delivery queue was full.",
	})

	DeliveryRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "site_delivery_requeued_events_total",
		Help: "Events put back into the buffer after a failed email delivery.",
	})

	DeliveryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "site_delivery_dropped_events_total",
		Help: "Events whose report email failed and that will not be retried.",
	})

	EnrichLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_enrich_lookups_total",
		Help: "GeoIP lookups by status (success, failure, skipped).",
	}, []string{"status"})

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_emails_sent_total",
		Help: "Emails submitted to the provider, by kind and status.",
	}, []string{"kind", "status"})

	PersistWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_event_persist_writes_total",
		Help: "Durable event writes by status.",
	}, []string{"status"})

	PortfolioFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_portfolio_fetches_total",
		Help: "Portfolio upstream fetches by status (success, failure, hit).",
	}, []string{"status"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "site_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"name"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "site_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "site_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
