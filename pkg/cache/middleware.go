package cache

import (
	"bytes"
	"net/http"
)

// StatusHeader reports whether a response was served from a cache.
const StatusHeader = "X-Cache"

// KeyFunc derives the cache key for a request.
type KeyFunc func(r *http.Request) string

// RequestURIKey keys entries by path and query.
func RequestURIKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// cacheResponseWriter wraps http.ResponseWriter to capture the response body
// and status code so they can be stored in the cache.
type cacheResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *cacheResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// CacheMiddleware returns HTTP middleware that caches GET responses in c.
// Only 200 responses are stored. Hits are served with X-Cache: HIT; misses
// carry X-Cache: MISS. A nil keyFn keys by request URI.
func CacheMiddleware(c *LRUCache, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = RequestURIKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if cached, ok := c.Get(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(StatusHeader, "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached)
				return
			}

			crw := &cacheResponseWriter{ResponseWriter: w}
			crw.Header().Set(StatusHeader, "MISS")
			next.ServeHTTP(crw, r)

			if crw.statusCode == http.StatusOK {
				c.Set(key, crw.body.Bytes())
			}
		})
	}
}

// statusRecorder captures only the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.statusCode == 0 {
		w.statusCode = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// InvalidateOnWrite clears c after every successful mutating request.
func InvalidateOnWrite(c *LRUCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.statusCode >= 200 && rec.statusCode < 300 {
				c.InvalidateAll()
			}
		})
	}
}
