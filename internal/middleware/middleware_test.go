package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geomonitor/prodes-ingest/internal/middleware"
)

// serve wraps inner in mw and records one GET request.
func serve(t *testing.T, mw func(http.Handler) http.Handler, inner http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

// TestRecover_Panic verifies that a panicking handler yields a 500.
func TestRecover_Panic(t *testing.T) {
	rec := serve(t, middleware.Recover, func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

// TestRecover_PassThrough verifies that a healthy handler is untouched.
func TestRecover_PassThrough(t *testing.T) {
	rec := serve(t, middleware.Recover, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
}

// TestRequestLogger_KeepsStatus verifies that logging does not alter the response.
func TestRequestLogger_KeepsStatus(t *testing.T) {
	rec := serve(t, middleware.RequestLogger, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	})

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "missing" {
		t.Errorf("expected body %q, got %q", "missing", body)
	}
}
