// Package authmw authenticates API callers and carries the acting user id
// through the request context.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// UserHeader names the end user a trusted caller (the helpdesk frontend) is
// acting for. It is only honoured on requests that passed the token check.
const UserHeader = "X-Deskmate-User"

type userKey struct{}

// WithUserID returns a copy of ctx carrying the acting user id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserID returns the acting user id, if the request carried one.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// BearerToken returns middleware that requires "Authorization: Bearer <token>"
// and then stashes the UserHeader value, if any, in the request context.
// Token comparison is constant-time.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}

			if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
				r = r.WithContext(WithUserID(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="deskmate"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
