package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "servimap",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servimap",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "servimap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	requestTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servimap",
			Subsystem: "requests",
			Name:      "transitions_total",
			Help:      "Service request status transitions.",
		},
		[]string{"kind", "to"},
	)

	emergencyCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "servimap",
			Subsystem: "emergency",
			Name:      "match_candidates",
			Help:      "Number of providers matched per emergency search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
		},
	)

	settlementRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servimap",
			Subsystem: "settlement",
			Name:      "requests_total",
			Help:      "Requests processed by the settlement runner.",
		},
		[]string{"action", "result"},
	)

	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "servimap",
			Subsystem: "settlement",
			Name:      "run_duration_seconds",
			Help:      "Duration of settlement runner passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	notificationsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servimap",
			Subsystem: "notifications",
			Name:      "delivered_total",
			Help:      "Notifications published to the realtime broker.",
		},
		[]string{"type", "result"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "servimap",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Payment gateway webhook events received.",
		},
		[]string{"type", "result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		requestTransitions,
		emergencyCandidates,
		settlementRuns,
		settlementDuration,
		notificationsDelivered,
		webhookEvents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := routeLabel(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransition counts a request lifecycle move.
func RecordTransition(kind, to string) {
	requestTransitions.WithLabelValues(kind, to).Inc()
}

// RecordEmergencyMatch observes how many candidates a search produced.
func RecordEmergencyMatch(candidates int) {
	emergencyCandidates.Observe(float64(candidates))
}

// RecordSettlement counts one request handled by the settlement runner.
func RecordSettlement(action string, success bool) {
	settlementRuns.WithLabelValues(action, result(success)).Inc()
}

// ObserveSettlementRun records how long a runner pass took.
func ObserveSettlementRun(duration time.Duration) {
	settlementDuration.Observe(duration.Seconds())
}

// RecordNotification counts a realtime publish attempt.
func RecordNotification(kind string, success bool) {
	notificationsDelivered.WithLabelValues(kind, result(success)).Inc()
}

// RecordWebhook counts a payment webhook by event type.
func RecordWebhook(kind string, success bool) {
	if kind == "" {
		kind = "unknown"
	}
	webhookEvents.WithLabelValues(kind, result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// routeLabel prefers the matched mux template when the handler runs inside
// a router.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return canonicalPath(r.URL.Path)
}

// canonicalPath collapses IDs so label cardinality stays bounded:
// /v1/requests/abc/accept becomes /v1/requests/:id/accept.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "v1" {
		parts = parts[1:]
		if len(parts) == 0 {
			return "/v1"
		}
	} else {
		return "/" + parts[0]
	}

	out := []string{"v1"}
	for i, part := range parts {
		switch {
		case i == 0:
			out = append(out, part)
		case parts[0] == "admin" && i == 1:
			out = append(out, part)
		case isCollectionAction(part):
			out = append(out, part)
		default:
			out = append(out, ":id")
		}
	}
	return "/" + strings.Join(out, "/")
}

var collectionActions = map[string]struct{}{
	"me": {}, "matches": {}, "requests": {}, "stream": {}, "emergency": {}, "availability": {},
	"reviews": {}, "accept": {}, "reject": {}, "start": {}, "complete": {}, "cancel": {},
	"rate": {}, "dispute": {}, "transactions": {}, "read": {}, "resolve": {}, "status": {},
	"categories": {}, "payments": {},
}

func isCollectionAction(part string) bool {
	_, ok := collectionActions[part]
	return ok
}
