package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	emailKey  contextKey = "email"
)

// CookieName is the HttpOnly session cookie set at sign-in.
const CookieName = "access_token"

// SignInPath is where browser requests without credentials get redirected.
const SignInPath = "/sign-in"

// UserID returns the authenticated user id stored by Middleware.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

// Email returns the authenticated user's email stored by Middleware.
func Email(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok
}

// WithUser stamps a user onto a context. Exposed for handler tests.
func WithUser(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, emailKey, email)
}

// Middleware authenticates requests from the session cookie or a Bearer
// header. A request carrying no credentials at all is redirected to the
// sign-in page; a request with a bad token gets 401.
func Middleware(jwt *JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string

			// HttpOnly cookie first (browser), Authorization header as
			// the API-client fallback.
			if cookie, err := r.Cookie(CookieName); err == nil {
				token = cookie.Value
			} else if header := r.Header.Get("Authorization"); header != "" {
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || parts[0] != "Bearer" {
					http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
					return
				}
				token = parts[1]
			} else {
				http.Redirect(w, r, SignInPath, http.StatusTemporaryRedirect)
				return
			}

			claims, err := jwt.Validate(token)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID, claims.Email)))
		})
	}
}
