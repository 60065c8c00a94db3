package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	cases := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{name: "generated", inbound: "", keep: false},
		{name: "reused", inbound: "edge-42.a_b", keep: true},
		{name: "control chars", inbound: "abc\nforged=1", keep: false},
		{name: "too long", inbound: strings.Repeat("a", maxRequestIDLen+1), keep: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.inbound != "" {
				req.Header.Set("X-Request-ID", tc.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q", got, seen)
			}
			if (got == tc.inbound) != tc.keep {
				t.Fatalf("inbound %q reused=%v, want %v", tc.inbound, got == tc.inbound, tc.keep)
			}
		})
	}
}
