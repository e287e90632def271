package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/deskmate/internal/triage/pgstore.(*Store).Upsert", "(*Store).Upsert"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Get", "(*Store).Get"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWithJob_LabelsRoute(t *testing.T) {
	t.Parallel()

	ctx := WithJob(context.Background(), "triage")
	if got := routeFromContext(ctx); got != "job:triage" {
		t.Errorf("routeFromContext = %q, want %q", got, "job:triage")
	}
}

func TestWithJob_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithJob(context.Background(), "")
	if got := routeFromContext(ctx); got != "" {
		t.Errorf("routeFromContext = %q, want empty", got)
	}
}

func TestRouteFromContext_ChiPattern(t *testing.T) {
	t.Parallel()

	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/api/v1/tickets/{id}/triage"}
	ctx := context.WithValue(context.Background(), chi.RouteCtxKey, rc)

	if got := routeFromContext(ctx); got != "/api/v1/tickets/{id}/triage" {
		t.Errorf("routeFromContext = %q, want chi pattern", got)
	}

	// job wins over the request route for detached background work
	ctx = WithJob(ctx, "triage")
	if got := routeFromContext(ctx); got != "job:triage" {
		t.Errorf("routeFromContext = %q, want %q", got, "job:triage")
	}
}

func TestWithHTTPMethod_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "POST")
	got := httpMethodFromContext(ctx)
	if got != "POST" {
		t.Errorf("httpMethodFromContext = %q, want %q", got, "POST")
	}
}

func TestWithHTTPMethod_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "")
	got := httpMethodFromContext(ctx)
	if got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
}

func TestSetQueryObserver(t *testing.T) {
	t.Parallel()

	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "GET", "/test", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
