package response

import (
	"net/http"
	"strings"
)

// IsSecure reports whether the client reached the server over TLS, directly
// or through a proxy that terminated it.
func IsSecure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// BaseURL is the scheme and host links sent to the client are built on.
// A configured public URL wins over the request.
func BaseURL(r *http.Request, configured string) string {
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}

	scheme := "http"
	if IsSecure(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
