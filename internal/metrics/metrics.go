// Package metrics exposes lifecycle measurements to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrJamesThe3rd/payments/internal/payment"
)

const namespace = "payments"

// Recorder implements payment.Observer.
type Recorder struct {
	transitions  *prometheus.CounterVec
	gatewayCalls *prometheus.HistogramVec
	webhooks     *prometheus.CounterVec
	httpRequests *prometheus.HistogramVec
}

// New registers the collectors on reg. Registering twice on the same registry panics.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Persisted transaction state transitions.",
		}, []string{"from", "to", "source"}),
		gatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Gateway call latency by operation and resulting status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Processed webhook notifications by type and outcome.",
		}, []string{"type", "outcome"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(r.transitions, r.gatewayCalls, r.webhooks, r.httpRequests)

	return r
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveTransition(from, to payment.Status, source payment.Source) {
	r.transitions.WithLabelValues(string(from), string(to), string(source)).Inc()
}

func (r *Recorder) ObserveGatewayCall(op string, status payment.Status, d time.Duration) {
	r.gatewayCalls.WithLabelValues(op, string(status)).Observe(d.Seconds())
}

func (r *Recorder) ObserveWebhook(eventType, outcome string) {
	r.webhooks.WithLabelValues(eventType, outcome).Inc()
}

func (r *Recorder) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}
