package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the service's Prometheus collectors. A nil *Recorder is a
// valid no-op recorder.
type Recorder struct {
	registry         *prometheus.Registry
	predictions      *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	fitDuration      prometheus.Histogram
}

// New creates a Recorder backed by its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_predictions_total",
				Help: "Predictions served, by outcome",
			},
			[]string{"outcome"},
		),
		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_provider_requests_total",
				Help: "Market data provider calls, by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_cache_lookups_total",
				Help: "Cache lookups, by layer and result",
			},
			[]string{"layer", "result"},
		),
		fitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockcast_model_fit_duration_seconds",
				Help:    "Time spent fitting and forecasting one series",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
	}

	reg.MustRegister(r.predictions, r.providerRequests, r.cacheLookups, r.fitDuration)
	return r
}

// RecordPrediction counts a prediction outcome ("ok", "no_data", "model_error", ...).
func (r *Recorder) RecordPrediction(outcome string) {
	if r == nil {
		return
	}
	r.predictions.WithLabelValues(outcome).Inc()
}

// RecordProviderRequest counts one provider call.
func (r *Recorder) RecordProviderRequest(provider string, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.providerRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordCacheLookup counts a hit or miss on a cache layer.
func (r *Recorder) RecordCacheLookup(layer string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(layer, result).Inc()
}

// ObserveFit records a model fit duration.
func (r *Recorder) ObserveFit(d time.Duration) {
	if r == nil {
		return
	}
	r.fitDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
