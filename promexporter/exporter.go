package promexporter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns a registry holding the client collector.
type Exporter struct {
	registry *prometheus.Registry
}

// NewExporter creates an exporter for source.
func NewExporter(source StatsSource) *Exporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(source))
	return &Exporter{registry: registry}
}

// Registry returns the underlying registry, to add more collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ListenAndServe serves /metrics on addr until the server fails.
func (e *Exporter) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	return http.ListenAndServe(addr, mux)
}
