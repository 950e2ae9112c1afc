// Package httptransport assembles the public HTTP surface: shared middleware,
// health and metrics endpoints, and the authenticated module routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grc/internal/platform/metrics"
	"grc/pkg/platform/httputil"
	"grc/pkg/platform/middleware/auth"
	"grc/pkg/platform/middleware/request"
	"grc/pkg/platform/middleware/requesttime"
)

const defaultHealthTimeout = 3 * time.Second

// Module is a feature handler that mounts its own routes.
type Module interface {
	Register(r chi.Router)
}

// HealthCheck is one named dependency probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Config struct {
	Logger        *slog.Logger
	Validator     auth.JWTValidator
	Metrics       *metrics.HTTP
	Health        []HealthCheck
	HealthTimeout time.Duration
	Modules       []Module
}

// NewRouter wires the middleware chain and mounts every module behind bearer
// authentication. /healthz and /metrics stay public.
func NewRouter(cfg Config) http.Handler {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.Logger(cfg.Logger, cfg.Metrics, routePattern))

	r.Get("/healthz", healthHandler(cfg.Health, cfg.HealthTimeout))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(cfg.Validator, cfg.Logger))
		for _, m := range cfg.Modules {
			m.Register(r)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "not_found",
			"message": "route not found",
		})
	})
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler runs every check concurrently under one deadline. Any
// failure turns the response into a 503.
func healthHandler(checks []HealthCheck, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			healthy = true
			results = make(map[string]string, len(checks))
		)
		for _, c := range checks {
			wg.Add(1)
			go func(c HealthCheck) {
				defer wg.Done()
				status := "ok"
				if err := c.Check(ctx); err != nil {
					status = err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				results[c.Name] = status
				if status != "ok" {
					healthy = false
				}
			}(c)
		}
		wg.Wait()

		resp := healthResponse{Status: "ok", Checks: results}
		code := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, resp)
	}
}
