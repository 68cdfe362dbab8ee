// Package routes registers the worker's HTTP routes.
package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openctemio/vulncatalog/internal/infra/http/handler"
)

// Register mounts the health endpoints and the Prometheus scrape endpoint.
func Register(r chi.Router, health *handler.HealthHandler) {
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Method("GET", "/metrics", promhttp.Handler())
}
