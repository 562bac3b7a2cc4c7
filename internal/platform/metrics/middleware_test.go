package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestMiddlewareCountsRequestsAndErrors(t *testing.T) {
	m := New()
	handler := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(m.requestsTotal); got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("http")); got != 1 {
		t.Fatalf("expected a 500 response to increment errorsTotal, got %v", got)
	}
}

func TestRequestMiddlewareDoesNotCountSuccessAsError(t *testing.T) {
	m := New()
	handler := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("http")); got != 0 {
		t.Fatalf("expected no error count for a 200 response, got %v", got)
	}
}
