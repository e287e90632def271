package authmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestBearerToken_ValidToken(t *testing.T) {
	t.Parallel()

	h := BearerToken("secret-token-123")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret-token-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestBearerToken_Rejects(t *testing.T) {
	t.Parallel()

	h := BearerToken("correct-token")(okHandler)

	tests := []struct {
		name  string
		value string
	}{
		{"missing", ""},
		{"Basic auth", "Basic dXNlcjpwYXNz"},
		{"lowercase bearer", "bearer correct-token"},
		{"no prefix", "correct-token"},
		{"wrong token", "Bearer wrong-token"},
		{"partial match", "Bearer correct"},
		{"token with suffix", "Bearer correct-token-extra"},
		{"empty token", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.value != "" {
				req.Header.Set("Authorization", tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %q, want application/json", ct)
			}
		})
	}
}

func TestBearerToken_PropagatesUser(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"with user", "cust-42", "cust-42", true},
		{"trimmed", "  agent-7 ", "agent-7", true},
		{"absent", "", "", false},
		{"blank", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got string
			var gotOK bool
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, gotOK = UserID(r.Context())
				w.WriteHeader(http.StatusCreated)
			})

			req := httptest.NewRequest(http.MethodPost, "/test", http.NoBody)
			req.Header.Set("Authorization", "Bearer tok")
			if tt.header != "" {
				req.Header.Set(UserHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			BearerToken("tok")(inner).ServeHTTP(rec, req)

			if rec.Code != http.StatusCreated {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
			}
			if got != tt.want || gotOK != tt.wantOK {
				t.Errorf("UserID = (%q, %v), want (%q, %v)", got, gotOK, tt.want, tt.wantOK)
			}
		})
	}
}

func TestUserID_EmptyContext(t *testing.T) {
	t.Parallel()

	if id, ok := UserID(context.Background()); ok || id != "" {
		t.Errorf("UserID = (%q, %v), want empty", id, ok)
	}
	if id, ok := UserID(WithUserID(context.Background(), "")); ok || id != "" {
		t.Errorf("UserID with blank id = (%q, %v), want not ok", id, ok)
	}
}
