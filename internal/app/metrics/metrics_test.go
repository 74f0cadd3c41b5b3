package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"/":                             "/",
		"/healthz":                      "/healthz",
		"/v1/providers":                 "/v1/providers",
		"/v1/providers/abc":             "/v1/providers/:id",
		"/v1/providers/abc/emergency":   "/v1/providers/:id/emergency",
		"/v1/requests/123/accept":       "/v1/requests/:id/accept",
		"/v1/users/me":                  "/v1/users/me",
		"/v1/admin/disputes/d1/resolve": "/v1/admin/disputes/:id/resolve",
		"/v1/notifications/stream":      "/v1/notifications/stream",
		"/v1/webhooks/payments":         "/v1/webhooks/payments",
		"/v1/catalog/categories":        "/v1/catalog/categories",
	}
	for in, want := range tests {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentHandlerExposesCounters(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/requests/r1", nil))
	RecordTransition("scheduled", "accepted")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`servimap_http_requests_total{method="GET",path="/v1/requests/:id",status="418"}`,
		`servimap_requests_transitions_total{kind="scheduled",to="accepted"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
