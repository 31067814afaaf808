package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	httpserver "github.com/fairyhunter13/resume-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/config"
)

// ParseOrigins splits a comma-separated origin list. Empty input means ["*"].
func ParseOrigins(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// Synchronous analyses can run for a full attempt timeout, so the request
// deadline follows the pipeline timeout.
func BuildRouter(cfg config.Config, srv *httpserver.Server, keys *httpserver.KeyRing) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.PipelinePolicy().Timeout + 15*time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", httpserver.APIKeyHeader, "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Group(func(api chi.Router) {
		api.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		api.Use(httpserver.APIKeyAuth(keys))
		srv.Routes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	return otelhttp.NewHandler(httpserver.SecurityHeaders(r), "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
