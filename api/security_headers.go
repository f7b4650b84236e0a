package api

import "net/http"

// SecurityHeaders is middleware that sets standard security response headers
// on every response. It should be placed early in the middleware chain.
//
// The API serves only JSON plus the documentation pages, which load their
// scripts and styles from a CDN, so the policy is relaxed for /docs and
// /redoc.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Cache-Control", "no-store")
		if isDocsPath(r.URL.Path) {
			h.Set("Content-Security-Policy",
				"default-src 'self'; script-src 'self' 'unsafe-inline' https:; style-src 'self' 'unsafe-inline' https:; img-src 'self' data: https:; font-src https:; worker-src blob:")
		} else {
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		if requestIsSecure(r) {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func isDocsPath(p string) bool {
	return p == MountPath+"/docs" || p == MountPath+"/redoc"
}
