package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/x", http.MethodGet, "No Content"))
	mw.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/x", http.MethodGet, "No Content")))
}

func TestAnalysisMetricsHelpers(t *testing.T) {
	InitMetrics()
	InitMetrics()

	enq := testutil.ToFloat64(AnalysesEnqueuedTotal.WithLabelValues("submit"))
	EnqueueAnalysis("submit")
	assert.Equal(t, enq+1, testutil.ToFloat64(AnalysesEnqueuedTotal.WithLabelValues("submit")))

	running := testutil.ToFloat64(AnalysesProcessing)
	StartProcessingAnalysis()
	assert.Equal(t, running+1, testutil.ToFloat64(AnalysesProcessing))
	FinishAttempt("completed")
	assert.Equal(t, running, testutil.ToFloat64(AnalysesProcessing))

	done := testutil.ToFloat64(AnalysesCompletedTotal)
	CompleteAnalysis(85, 100, 40)
	assert.Equal(t, done+1, testutil.ToFloat64(AnalysesCompletedTotal))

	failed := testutil.ToFloat64(AnalysesFailedTotal.WithLabelValues("parse"))
	FailAnalysis("parse")
	assert.Equal(t, failed+1, testutil.ToFloat64(AnalysesFailedTotal.WithLabelValues("parse")))

	deferred := testutil.ToFloat64(AnalysisDeferralsTotal)
	DeferAnalysis()
	assert.Equal(t, deferred+1, testutil.ToFloat64(AnalysisDeferralsTotal))

	calls := testutil.ToFloat64(AIRequestsTotal.WithLabelValues("stub", "ok"))
	ObserveAIRequest("stub", "ok", 10*time.Millisecond)
	assert.Equal(t, calls+1, testutil.ToFloat64(AIRequestsTotal.WithLabelValues("stub", "ok")))
}
