package caches

import "net/http"

// Key canonicalizes a request into its cache key. All intercepted requests
// are same-origin, so the path plus query is the canonical identity; the
// method prefix keeps GET and HEAD entries apart.
func Key(r http.Request) string {
	return r.Method + "#" + r.URL.RequestURI()
}

// PathKey is the key under which a precached manifest path is stored. It
// matches Key for a plain GET of the same path.
func PathKey(path string) string {
	return http.MethodGet + "#" + path
}
