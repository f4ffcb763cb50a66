package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// runCORS pushes one request with the given Origin through the middleware
// and reports whether the wrapped handler ran.
func runCORS(t *testing.T, allowed []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := corsMiddleware(allowed)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(method, "/health", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, called
}

func TestCORSMiddleware(t *testing.T) {
	allowed := []string{"https://app.zling.chat", "app://*"}

	t.Run("configured_origin_passes", func(t *testing.T) {
		rr, called := runCORS(t, allowed, http.MethodGet, "https://app.zling.chat")
		if !called || rr.Code != http.StatusOK {
			t.Fatalf("called=%v code=%d, want handler reached with 200", called, rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.zling.chat" {
			t.Fatalf("Access-Control-Allow-Origin = %q", got)
		}
		if vary := rr.Header().Get("Vary"); vary != "Origin" {
			t.Fatalf("Vary = %q, want Origin", vary)
		}
	})

	t.Run("wildcard_origin_passes", func(t *testing.T) {
		rr, called := runCORS(t, allowed, http.MethodGet, "app://desktop/main")
		if !called || rr.Code != http.StatusOK {
			t.Fatalf("called=%v code=%d, want handler reached with 200", called, rr.Code)
		}
	})

	t.Run("loopback_passes_with_empty_allow_list", func(t *testing.T) {
		_, called := runCORS(t, nil, http.MethodGet, "http://127.0.0.1:5173")
		if !called {
			t.Fatal("loopback origin should reach the handler")
		}
	})

	t.Run("no_origin_passes_untouched", func(t *testing.T) {
		rr, called := runCORS(t, allowed, http.MethodGet, "")
		if !called {
			t.Fatal("request without Origin should reach the handler")
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("Access-Control-Allow-Origin = %q, want unset", got)
		}
	})

	t.Run("unknown_origin_rejected", func(t *testing.T) {
		rr, called := runCORS(t, allowed, http.MethodGet, "https://evil.com")
		if called {
			t.Fatal("rejected origin must not reach the handler")
		}
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusForbidden)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal body %q: %v", rr.Body.String(), err)
		}
		if resp.Code != http.StatusForbidden {
			t.Fatalf("body code = %d, want %d", resp.Code, http.StatusForbidden)
		}
	})

	t.Run("preflight_short_circuits", func(t *testing.T) {
		rr, called := runCORS(t, allowed, http.MethodOptions, "https://app.zling.chat")
		if called {
			t.Fatal("preflight must not reach the handler")
		}
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
		}
		if headers := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(headers, "RTC-Identity") {
			t.Fatalf("Access-Control-Allow-Headers = %q, want the rtc headers included", headers)
		}
	})
}

func TestOriginMatchesAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed string
		want    bool
	}{
		{name: "exact_match", origin: "https://example.com", allowed: "https://example.com", want: true},
		{name: "wildcard_prefix_match", origin: "app://desktop/main", allowed: "app://*", want: true},
		{name: "wildcard_prefix_miss", origin: "https://example.com", allowed: "app://*", want: false},
		{name: "exact_miss", origin: "https://evil.com", allowed: "https://example.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := originMatchesAllowed(tt.origin, tt.allowed); got != tt.want {
				t.Fatalf("originMatchesAllowed(%q, %q) = %v, want %v", tt.origin, tt.allowed, got, tt.want)
			}
		})
	}
}
