package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Defaults applied to empty CORSOptions fields.
var (
	DefaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	DefaultCORSHeaders = []string{"Content-Type", "Authorization", TraceHeader}
)

// DefaultCORSMaxAge is how long browsers may cache a preflight answer.
const DefaultCORSMaxAge = time.Hour

// CORSOptions configures cross-origin access to the API.
type CORSOptions struct {
	// AllowedOrigins holds exact origins, ".example.com" suffixes or "*".
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

// CORSMiddleware answers preflight requests and tags responses to allowed
// origins.
type CORSMiddleware struct {
	origins  []string
	allowAll bool
	methods  map[string]struct{}
	headers  map[string]struct{}

	allowMethods string
	allowHeaders string
	maxAge       string
}

// NewCORSMiddleware builds the middleware, filling empty options with the
// package defaults.
func NewCORSMiddleware(opts CORSOptions) *CORSMiddleware {
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = DefaultCORSMethods
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = DefaultCORSHeaders
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultCORSMaxAge
	}

	m := &CORSMiddleware{
		methods: make(map[string]struct{}, len(opts.AllowedMethods)),
		headers: make(map[string]struct{}, len(opts.AllowedHeaders)),
		maxAge:  strconv.Itoa(int(opts.MaxAge / time.Second)),
	}
	for _, o := range opts.AllowedOrigins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			m.allowAll = true
		default:
			m.origins = append(m.origins, strings.ToLower(o))
		}
	}
	methods := make([]string, 0, len(opts.AllowedMethods))
	for _, method := range opts.AllowedMethods {
		method = strings.ToUpper(strings.TrimSpace(method))
		if _, dup := m.methods[method]; method == "" || dup {
			continue
		}
		m.methods[method] = struct{}{}
		methods = append(methods, method)
	}
	headers := make([]string, 0, len(opts.AllowedHeaders))
	for _, header := range opts.AllowedHeaders {
		header = http.CanonicalHeaderKey(strings.TrimSpace(header))
		if _, dup := m.headers[header]; header == "" || dup {
			continue
		}
		m.headers[header] = struct{}{}
		headers = append(headers, header)
	}
	m.allowMethods = strings.Join(methods, ", ")
	m.allowHeaders = strings.Join(headers, ", ")
	return m
}

// OriginAllowed reports whether origin may call the API.
func (m *CORSMiddleware) OriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	if m.allowAll {
		return true
	}
	origin = strings.ToLower(origin)
	for _, allowed := range m.origins {
		if allowed == origin || (strings.HasPrefix(allowed, ".") && strings.HasSuffix(origin, allowed)) {
			return true
		}
	}
	return false
}

// Handler wraps next. Preflights are answered here and never reach next;
// a preflight for a disallowed origin, method or header gets 403.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Add("Vary", "Origin")
		allowed := m.OriginAllowed(origin)

		requested := r.Header.Get("Access-Control-Request-Method")
		if r.Method != http.MethodOptions || requested == "" {
			if allowed {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", TraceHeader)
			}
			next.ServeHTTP(w, r)
			return
		}

		h.Add("Vary", "Access-Control-Request-Method")
		h.Add("Vary", "Access-Control-Request-Headers")
		if !allowed || !m.methodAllowed(requested) || !m.headersAllowed(r.Header.Get("Access-Control-Request-Headers")) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", m.allowMethods)
		h.Set("Access-Control-Allow-Headers", m.allowHeaders)
		h.Set("Access-Control-Max-Age", m.maxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (m *CORSMiddleware) methodAllowed(method string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == http.MethodOptions || method == http.MethodHead {
		return true
	}
	_, ok := m.methods[method]
	return ok
}

func (m *CORSMiddleware) headersAllowed(list string) bool {
	for _, header := range strings.Split(list, ",") {
		header = strings.TrimSpace(header)
		if header == "" {
			continue
		}
		if _, ok := m.headers[http.CanonicalHeaderKey(header)]; !ok {
			return false
		}
	}
	return true
}
