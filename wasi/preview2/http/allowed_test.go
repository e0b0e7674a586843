package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/wippyai/spin-shim/wasi/preview2"
)

func TestOutboundAllowed(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		url      string
		want     bool
	}{
		{"no patterns", nil, "https://example.com/", false},
		{"exact", []string{"https://example.com"}, "https://example.com/x", true},
		{"scheme mismatch", []string{"https://example.com"}, "http://example.com/", false},
		{"default port only", []string{"https://example.com"}, "https://example.com:8443/", false},
		{"explicit port", []string{"http://localhost:3000"}, "http://localhost:3000/", true},
		{"any port", []string{"http://localhost:*"}, "http://localhost:9999/", true},
		{"any scheme", []string{"*://example.com"}, "http://example.com/", true},
		{"subdomain wildcard", []string{"http://*.spin.internal"}, "http://back.spin.internal/", true},
		{"subdomain wildcard excludes apex", []string{"http://*.spin.internal"}, "http://spin.internal/", false},
		{"everything", []string{"*://*:*"}, "https://anywhere.test:1/", true},
		{"case insensitive", []string{"HTTPS://Example.COM"}, "https://example.com/", true},
		{"malformed pattern", []string{"example.com"}, "https://example.com/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatal(err)
			}
			if got := OutboundAllowed(tt.patterns, u); got != tt.want {
				t.Errorf("OutboundAllowed(%v, %s) = %v, want %v", tt.patterns, tt.url, got, tt.want)
			}
		})
	}
}

func sendOutgoing(t *testing.T, h *OutgoingHandlerHost, resources *preview2.ResourceTable, target *url.URL) *futureIncomingResponseResource {
	t.Helper()
	ctx := context.Background()

	req := h.ConstructorOutgoingRequest(ctx, resources.Add(preview2.NewFieldsResource()))
	h.MethodOutgoingRequestSetScheme(ctx, req, true, 0)
	h.MethodOutgoingRequestSetAuthority(ctx, req, true, target.Host)
	h.MethodOutgoingRequestSetPathWithQuery(ctx, req, true, "/ping")

	futureHandle, code := h.Handle(ctx, req, false, 0)
	if code != 0 {
		t.Fatalf("Handle returned error code %d", code)
	}
	r, ok := resources.Get(futureHandle)
	if !ok {
		t.Fatal("future not in resource table")
	}
	return r.(*futureIncomingResponseResource)
}

func TestOutgoingHandlerHost_Handle_Denied(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
	}))
	defer srv.Close()
	target, _ := url.Parse(srv.URL)

	resources := preview2.NewResourceTable()
	h := NewOutgoingHandlerHost(resources).WithAllowedHosts([]string{"https://example.com"})

	future := sendOutgoing(t, h, resources, target)
	future.mu.Lock()
	defer future.mu.Unlock()
	if !future.ready {
		t.Fatal("denied request should resolve immediately")
	}
	var denied *DeniedError
	if !errors.As(future.err, &denied) {
		t.Fatalf("expected DeniedError, got %v", future.err)
	}
	if hit {
		t.Error("denied request reached the server")
	}
}

func TestOutgoingHandlerHost_Handle_Allowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong " + r.URL.Path))
	}))
	defer srv.Close()
	target, _ := url.Parse(srv.URL)

	resources := preview2.NewResourceTable()
	h := NewOutgoingHandlerHost(resources).WithAllowedHosts([]string{"http://127.0.0.1:*"})

	future := sendOutgoing(t, h, resources, target)
	deadline := time.Now().Add(5 * time.Second)
	for {
		future.mu.Lock()
		ready := future.ready
		future.mu.Unlock()
		if ready || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	future.mu.Lock()
	defer future.mu.Unlock()
	if future.err != nil {
		t.Fatalf("request failed: %v", future.err)
	}
	if string(future.body) != "pong /ping" {
		t.Errorf("body = %q", future.body)
	}
}
