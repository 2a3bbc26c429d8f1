package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(mw func(http.Handler) http.Handler, header, key string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=x", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rr := httptest.NewRecorder()
	mw(okHandler).ServeHTTP(rr, req)
	return rr.Code
}

func TestHTTPMiddleware(t *testing.T) {
	cases := []struct {
		name       string
		mode       string
		configured string
		sent       string
		want       int
	}{
		{"mode none", "none", "secret", "", http.StatusOK},
		{"key not configured", "apikey", "", "", http.StatusOK},
		{"correct key", "apikey", "secret", "secret", http.StatusOK},
		{"wrong key", "apikey", "secret", "nope", http.StatusUnauthorized},
		{"missing key", "apikey", "secret", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := HTTPMiddleware(tc.mode, "x-api-key", tc.configured)
			if got := serve(mw, "X-Api-Key", tc.sent); got != tc.want {
				t.Errorf("status: got %d, want %d", got, tc.want)
			}
		})
	}
}
