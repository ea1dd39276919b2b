package access

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/gardenbase/core/logger"
)

// CookieName is the cookie which may carry the token instead of the Authorization header
const CookieName = "Gardenbase-JWT"

// NewBearerMiddleware returns a middleware handler which requires a bearer token.
//
// Tokens are accepted as "Authorization: Bearer" header or as "Gardenbase-JWT"-cookie.
// This is a final handler with regards to the bearer token. It returns
// http.StatusUnauthorized with {"error":"unauthorized"} when the token is missing
// or rejected by the verifier.
func NewBearerMiddleware(verifier Verifier) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IdentityFromContext(r.Context()) != nil { // already authenticated
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(r.Context())

			tokenString := TokenFromRequest(r)
			if len(tokenString) == 0 {
				unauthorized(w)
				return
			}

			identity, err := verifier.Verify(r.Context(), tokenString)
			if err != nil && !errors.Is(err, ErrUnauthorized) {
				rlog.WithError(err).Errorln("Error 4722: identity verification failed")
			} else if err != nil {
				rlog.WithError(err).Debugln("token rejected")
			}
			if err != nil || identity == nil {
				unauthorized(w)
				return
			}

			ctx := ContextWithIdentity(r.Context(), identity)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, identity.UserID)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest extracts the bearer token from the request, or returns an empty string
func TokenFromRequest(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 0 && bearer != "null" {
		if len(bearer) >= 7 && strings.ToLower(bearer[:7]) == "bearer " {
			return strings.TrimSpace(bearer[7:])
		}
		return bearer
	}
	if cookie, _ := r.Cookie(CookieName); cookie != nil {
		return cookie.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
