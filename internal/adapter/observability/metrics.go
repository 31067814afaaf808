package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and outcome",
		},
		[]string{"provider", "status"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Tokens consumed by completed analyses",
		},
		[]string{"type"},
	)

	AnalysesEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_enqueued_total",
			Help: "Total number of analysis tasks enqueued",
		},
		[]string{"reason"},
	)
	AnalysesProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "analyses_processing",
			Help: "Number of analysis executions currently running",
		},
	)
	AnalysesCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analyses_completed_total",
			Help: "Total number of analyses completed",
		},
	)
	AnalysesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_failed_total",
			Help: "Total number of analyses that failed terminally",
		},
		[]string{"kind"},
	)
	AnalysisAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_attempts_total",
			Help: "Analysis executions by outcome",
		},
		[]string{"outcome"},
	)
	AnalysisDeferralsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_deferrals_total",
			Help: "Executions deferred because the AI rate limit was exhausted",
		},
	)
	MatchScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_match_score",
			Help:    "Distribution of match_score ([0,100])",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to call twice.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AITokensTotal,
			AnalysesEnqueuedTotal,
			AnalysesProcessing,
			AnalysesCompletedTotal,
			AnalysesFailedTotal,
			AnalysisAttemptsTotal,
			AnalysisDeferralsTotal,
			MatchScoreHistogram,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// EnqueueAnalysis counts a new lineage handed to the queue; reason is create, retry, force_retry or sync_fallback.
func EnqueueAnalysis(reason string) {
	AnalysesEnqueuedTotal.WithLabelValues(reason).Inc()
}

func StartProcessingAnalysis() {
	AnalysesProcessing.Inc()
}

// FinishAttempt closes a running execution with its outcome: completed, retry, failed or timeout.
func FinishAttempt(outcome string) {
	AnalysesProcessing.Dec()
	AnalysisAttemptsTotal.WithLabelValues(outcome).Inc()
}

func CompleteAnalysis(matchScore int, promptTokens, completionTokens int) {
	AnalysesCompletedTotal.Inc()
	if matchScore >= 0 && matchScore <= 100 {
		MatchScoreHistogram.Observe(float64(matchScore))
	}
	AITokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	AITokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
}

func FailAnalysis(kind string) {
	AnalysesFailedTotal.WithLabelValues(kind).Inc()
}

func DeferAnalysis() {
	AnalysisDeferralsTotal.Inc()
}

// ObserveAIRequest records one call to an AI provider.
func ObserveAIRequest(provider, status string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, status).Inc()
	AIRequestDuration.WithLabelValues(provider).Observe(d.Seconds())
}
