package auth

import (
	"net/http"
	"strings"

	"github.com/patric-chuzhbe/toursapi/internal/response"
)

// Protect is an HTTP middleware that authenticates the request and stores
// the user in the request context.
func (a *Auth) Protect(h http.Handler) http.Handler {
	middleware := func(w http.ResponseWriter, r *http.Request) {
		usr, err := a.Authenticate(r.Context(), a.tokenFromRequest(r))
		if err != nil {
			response.Error(w, r, err)
			return
		}

		h.ServeHTTP(w, r.WithContext(WithUser(r.Context(), usr)))
	}

	return http.HandlerFunc(middleware)
}

// RestrictTo lets the request through only when the user attached by
// Protect has one of roles.
func RestrictTo(roles ...string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		middleware := func(w http.ResponseWriter, r *http.Request) {
			usr, _ := CurrentUser(r.Context())
			if err := Authorize(usr, roles...); err != nil {
				response.Error(w, r, err)
				return
			}

			h.ServeHTTP(w, r)
		}

		return http.HandlerFunc(middleware)
	}
}

func (a *Auth) tokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	cookie, err := r.Cookie(a.settings.CookieName)
	if err == nil {
		return cookie.Value
	}

	return ""
}
