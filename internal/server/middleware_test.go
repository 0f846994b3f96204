package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("request ID missing from context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("header %q does not match context %q", got, seen)
	}
}

func TestAddLogFieldWithoutMiddleware(t *testing.T) {
	// Must be a silent no-op when the logging middleware isn't mounted.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	AddLogField(req.Context(), "key", "value")
	AddError(req.Context(), nil)
}
