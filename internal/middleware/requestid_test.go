package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDKeepsCallerSuppliedID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set(HeaderRequestID, "caller-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "caller-7" {
		t.Fatalf("context id = %q, want caller-7", seen)
	}
	if rec.Header().Get(HeaderRequestID) != "caller-7" {
		t.Fatalf("response header = %q, want caller-7", rec.Header().Get(HeaderRequestID))
	}
	if IsGeneratedID(seen) {
		t.Fatalf("caller-supplied id %q must not read as generated", seen)
	}
}

func TestRequestIDGeneratesPrefixedID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))

	if seen == "" {
		t.Fatalf("expected a generated id in the context")
	}
	if !IsGeneratedID(seen) {
		t.Fatalf("generated id %q missing the local prefix", seen)
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Fatalf("response header %q does not echo context id %q", rec.Header().Get(HeaderRequestID), seen)
	}
}
