package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burnbox_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "burnbox_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	secretsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burnbox_secrets_created_total",
		Help: "Total number of secret pairs created.",
	})

	revealsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burnbox_reveals_total",
		Help: "Reveal attempts by outcome.",
	}, []string{"outcome"})

	burnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burnbox_burns_total",
		Help: "Total number of creator-initiated burns.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, secretsCreatedTotal, revealsTotal, burnsTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
