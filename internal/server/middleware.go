package server

import (
	"net/http"
	"strings"
	"time"

	jsonwriter "github.com/dgellow/sentry-mcp/internal/json"
	"github.com/dgellow/sentry-mcp/internal/log"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware wraps h so that the first middleware is the outermost.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

var (
	corsMethods        = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")
	corsRequestHeaders = strings.Join([]string{"Content-Type", "Authorization", "Cache-Control", "mcp-protocol-version", "mcp-session-id"}, ", ")
	corsExposedHeaders = strings.Join([]string{"mcp-session-id", "WWW-Authenticate"}, ", ")
)

// corsPolicy decides the Access-Control-Allow-Origin value for a request.
// Origins are compared exactly.
type corsPolicy struct {
	origins map[string]struct{}
}

func (p corsPolicy) apply(h http.Header, origin string) {
	if len(p.origins) == 0 {
		h.Set("Access-Control-Allow-Origin", "*")
		return
	}
	if _, ok := p.origins[origin]; ok && origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
	}
}

// NewCORSMiddleware adds CORS headers to responses and answers preflight
// requests itself. With no allowed origins every origin is allowed, without
// credentials.
func NewCORSMiddleware(allowedOrigins []string) MiddlewareFunc {
	policy := corsPolicy{origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		policy.origins[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			policy.apply(h, r.Header.Get("Origin"))
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsRequestHeaders)
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
			h.Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status and body size of a response.
// Optional interfaces of the wrapped writer are reachable through Unwrap.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	size    int
	started bool
}

var (
	_ http.ResponseWriter = (*statusRecorder)(nil)
	_ http.Flusher        = (*statusRecorder)(nil)
)

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.started {
		return
	}
	s.started = true
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.started {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.size += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Flush keeps streamed tool responses flowing through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// NewLoggerMiddleware logs one line per request. The query string is
// omitted: it carries authorization codes and state.
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)
			start := time.Now()
			next.ServeHTTP(rec, r)

			log.LogInfoWithFields(prefix, "request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       rec.size,
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

// NewRecoverMiddleware turns a handler panic into a 500.
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				log.LogErrorWithFields(prefix, "Recovered from panic", map[string]any{
					"panic":  p,
					"method": r.Method,
					"path":   r.URL.Path,
				})
				jsonwriter.WriteInternalServerError(w, "Internal Server Error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
