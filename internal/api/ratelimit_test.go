package api

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	limiter := NewRateLimiter(3, 80*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("request %d denied inside the limit", i)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("request over the limit allowed")
	}

	// Other keys have their own budget.
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("fresh key denied")
	}

	// The window slides rather than resets.
	time.Sleep(100 * time.Millisecond)
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("request denied after the window passed")
	}
}

func TestAuthEndpointsRateLimited(t *testing.T) {
	ts := newTestServer(t, 19495, 19499)

	const body = `{"username":"ghost","password":"whatever123"}`
	post := func(headers ...string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/auth/login", strings.NewReader(body))
		if err != nil {
			t.Fatalf("building request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("sending request: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	for i := 0; i < 10; i++ {
		if resp := post(); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("login %d status = %d, want %d", i, resp.StatusCode, http.StatusUnauthorized)
		}
	}

	resp := post()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("over-limit login status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if got := resp.Header.Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want %q", got, "60")
	}

	// The limit spans the whole credential surface, and forged forwarding
	// headers from an untrusted peer do not reset it.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/auth/register", strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	reg, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}
	reg.Body.Close()
	if reg.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("register after limit status = %d, want %d", reg.StatusCode, http.StatusTooManyRequests)
	}

	if resp := post("X-Forwarded-For", "203.0.113.9"); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("spoofed login status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		want   int
	}{
		{name: "zero", window: 0, want: 1},
		{name: "negative", window: -time.Second, want: 1},
		{name: "fractional_rounds_up", window: 1500 * time.Millisecond, want: 2},
		{name: "whole_second", window: time.Second, want: 1},
		{name: "minute", window: time.Minute, want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterSeconds(tt.window); got != tt.want {
				t.Fatalf("retryAfterSeconds(%s) = %d, want %d", tt.window, got, tt.want)
			}
		})
	}
}
