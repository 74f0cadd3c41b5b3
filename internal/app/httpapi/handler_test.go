package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	app "github.com/servimap/servimap/internal/app"
	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/services/payments"
	"github.com/servimap/servimap/internal/httputil"
	"github.com/servimap/servimap/internal/middleware"
)

const testWebhookSecret = "whsec-test"

type harness struct {
	t       *testing.T
	app     *app.Application
	handler http.Handler
	key     []byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		DisableRunner: true,
		Payments:      payments.Options{WebhookSecret: testWebhookSecret},
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	key, err := middleware.DeriveSigningKey([]byte("httpapi-test-master-key-0123456789"))
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	handler, err := NewHandler(application, Options{SigningKey: key, RateLimitRPS: 1000, RateLimitBurst: 1000}, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &harness{t: t, app: application, handler: handler, key: key}
}

func (h *harness) token(userID string, role user.Role) string {
	h.t.Helper()
	tok, err := middleware.IssueToken(h.key, userID, role, time.Hour)
	if err != nil {
		h.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(marshal(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	return resp
}

func (h *harness) expect(resp *httptest.ResponseRecorder, status int) {
	h.t.Helper()
	if resp.Code != status {
		h.t.Fatalf("expected %d, got %d: %s", status, resp.Code, resp.Body.String())
	}
}

func marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", resp.Body.String(), err)
	}
	return out
}

// seedProvider registers and approves a plumbing provider through the API.
func (h *harness) seedProvider(id string) string {
	h.t.Helper()
	tok := h.token(id, user.RoleProvider)
	h.expect(h.do(http.MethodPut, "/v1/users/me", tok, map[string]any{"display_name": "Pro " + id}), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/v1/providers", tok, map[string]any{
		"business_name":     "Fixit " + id,
		"categories":        []string{"plumbing"},
		"location":          map[string]float64{"lat": 4.65, "lng": -74.05},
		"service_radius_km": 20,
		"hourly_rate_cents": 6000,
		"currency":          "USD",
	}), http.StatusCreated)
	admin := h.token("admin-1", user.RoleAdmin)
	h.expect(h.do(http.MethodPost, "/v1/admin/providers/"+id+"/status", admin, map[string]string{"status": "approved"}), http.StatusOK)
	return tok
}

func TestHandlerBookingLifecycle(t *testing.T) {
	h := newHarness(t)
	proTok := h.seedProvider("pro-1")
	custTok := h.token("cust-1", user.RoleCustomer)
	h.expect(h.do(http.MethodPut, "/v1/users/me", custTok, map[string]any{"display_name": "Carla"}), http.StatusOK)

	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Minute)
	resp := h.do(http.MethodPost, "/v1/requests", custTok, map[string]any{
		"provider_id":     "pro-1",
		"category":        "plumbing",
		"description":     "Leaking sink",
		"address":         "Calle 1",
		"location":        map[string]float64{"lat": 4.66, "lng": -74.05},
		"scheduled_start": start,
		"scheduled_end":   start.Add(2 * time.Hour),
	})
	h.expect(resp, http.StatusCreated)
	created := decode[map[string]any](t, resp)
	id := created["id"].(string)
	if created["status"] != "pending" || created["price_cents"].(float64) != 12000 {
		t.Fatalf("unexpected booking %v", created)
	}

	// Only the booked provider may move the request forward.
	h.expect(h.do(http.MethodPost, "/v1/requests/"+id+"/accept", custTok, nil), http.StatusForbidden)

	for _, step := range []string{"accept", "start", "complete"} {
		h.expect(h.do(http.MethodPost, "/v1/requests/"+id+"/"+step, proTok, nil), http.StatusOK)
	}

	resp = h.do(http.MethodPost, "/v1/requests/"+id+"/rate", custTok, map[string]any{"stars": 5, "comment": "great"})
	h.expect(resp, http.StatusCreated)

	resp = h.do(http.MethodGet, "/v1/providers/pro-1/reviews", custTok, nil)
	h.expect(resp, http.StatusOK)
	if reviews := decode[[]map[string]any](t, resp); len(reviews) != 1 {
		t.Fatalf("expected one review, got %v", reviews)
	}

	resp = h.do(http.MethodGet, "/v1/requests/"+id+"/transactions", custTok, nil)
	h.expect(resp, http.StatusOK)
	if txns := decode[[]map[string]any](t, resp); len(txns) != 1 || txns[0]["type"] != "hold" {
		t.Fatalf("expected the hold only, got %v", txns)
	}

	stranger := h.token("cust-2", user.RoleCustomer)
	h.expect(h.do(http.MethodGet, "/v1/requests/"+id, stranger, nil), http.StatusForbidden)

	resp = h.do(http.MethodGet, "/v1/requests?status=completed", proTok, nil)
	h.expect(resp, http.StatusOK)
	if list := decode[[]map[string]any](t, resp); len(list) != 1 {
		t.Fatalf("provider should list the completed booking, got %v", list)
	}
	h.expect(h.do(http.MethodGet, "/v1/requests?status=bogus", proTok, nil), http.StatusBadRequest)

	resp = h.do(http.MethodGet, "/v1/notifications?unread=true", proTok, nil)
	h.expect(resp, http.StatusOK)
	inbox := decode[[]notification.Notification](t, resp)
	if len(inbox) == 0 {
		t.Fatalf("provider inbox is empty")
	}
	h.expect(h.do(http.MethodPost, "/v1/notifications/"+inbox[0].ID+"/read", custTok, nil), http.StatusForbidden)
	h.expect(h.do(http.MethodPost, "/v1/notifications/"+inbox[0].ID+"/read", proTok, nil), http.StatusOK)
}

func TestHandlerEmergencyFlow(t *testing.T) {
	h := newHarness(t)
	proTok := h.seedProvider("pro-1")
	h.expect(h.do(http.MethodPut, "/v1/providers/pro-1/emergency", proTok, map[string]any{
		"enabled":               true,
		"available":             true,
		"surcharge_percent":     50,
		"response_time_minutes": 15,
	}), http.StatusOK)

	other := h.token("pro-2", user.RoleProvider)
	h.expect(h.do(http.MethodPut, "/v1/providers/pro-1/emergency", other, map[string]any{"enabled": false}), http.StatusForbidden)

	custTok := h.token("cust-1", user.RoleCustomer)
	resp := h.do(http.MethodGet, "/v1/emergency/matches?category=plumbing&lat=4.66&lng=-74.05", custTok, nil)
	h.expect(resp, http.StatusOK)
	if matches := decode[[]map[string]any](t, resp); len(matches) != 1 || matches[0]["provider_id"] != "pro-1" {
		t.Fatalf("unexpected matches %v", matches)
	}
	h.expect(h.do(http.MethodGet, "/v1/emergency/matches?category=cleaning&lat=4.66&lng=-74.05", custTok, nil), http.StatusBadRequest)

	resp = h.do(http.MethodPost, "/v1/emergency/requests", custTok, map[string]any{
		"category":    "plumbing",
		"location":    map[string]float64{"lat": 4.66, "lng": -74.05},
		"address":     "Calle 2",
		"description": "Burst pipe",
	})
	h.expect(resp, http.StatusCreated)
	body := decode[emergencyRequestResponse](t, resp)
	if len(body.Candidates) != 1 {
		t.Fatalf("expected one candidate, got %+v", body.Candidates)
	}

	resp = h.do(http.MethodPost, "/v1/requests/"+body.Request.ID+"/accept", proTok, nil)
	h.expect(resp, http.StatusOK)
	accepted := decode[map[string]any](t, resp)
	if accepted["status"] != "accepted" || accepted["provider_id"] != "pro-1" {
		t.Fatalf("unexpected accepted request %v", accepted)
	}

	// Far from every provider there is nobody to send.
	resp = h.do(http.MethodPost, "/v1/emergency/requests", custTok, map[string]any{
		"category": "plumbing",
		"location": map[string]float64{"lat": 40.0, "lng": -3.7},
	})
	h.expect(resp, http.StatusServiceUnavailable)
}

func TestHandlerAuthRequired(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodGet, "/v1/requests", "", nil)
	h.expect(resp, http.StatusUnauthorized)
	envelope := decode[httputil.ErrorBody](t, resp)
	if envelope.Error == nil || envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected envelope %s", resp.Body.String())
	}

	cust := h.token("cust-1", user.RoleCustomer)
	h.expect(h.do(http.MethodGet, "/v1/admin/disputes", cust, nil), http.StatusForbidden)
	h.expect(h.do(http.MethodGet, "/v1/nope", cust, nil), http.StatusNotFound)
	h.expect(h.do(http.MethodDelete, "/v1/requests", cust, nil), http.StatusMethodNotAllowed)

	resp = h.do(http.MethodGet, "/v1/catalog/categories", cust, nil)
	h.expect(resp, http.StatusOK)
	if cats := decode[[]map[string]any](t, resp); len(cats) == 0 {
		t.Fatalf("catalog is empty")
	}
	h.expect(h.do(http.MethodPut, "/v1/users/me", cust, map[string]any{"unknown": true}), http.StatusBadRequest)
}

func TestHandlerPaymentWebhook(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"type":"payment.refunded","data":{"transaction_id":"x"}}`)

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, WebhookPath, bytes.NewReader(body))
		req.Header.Set(SignatureHeader, signature)
		resp := httptest.NewRecorder()
		h.handler.ServeHTTP(resp, req)
		return resp
	}

	h.expect(send("sha256=deadbeef"), http.StatusUnauthorized)
	resp := send("sha256=" + payments.Sign([]byte(testWebhookSecret), body))
	h.expect(resp, http.StatusOK)
	if result := decode[payments.WebhookResult](t, resp); result.Handled {
		t.Fatalf("unknown event types must be acknowledged without handling")
	}
}

func TestHandlerAdminAudit(t *testing.T) {
	h := newHarness(t)
	h.seedProvider("pro-1")
	admin := h.token("admin-1", user.RoleAdmin)

	h.expect(h.do(http.MethodPost, "/v1/admin/providers/pro-1/status", admin, map[string]string{"status": "suspended"}), http.StatusOK)
	resp := h.do(http.MethodGet, "/v1/admin/audit", admin, nil)
	h.expect(resp, http.StatusOK)
	entries := decode[[]auditEntry](t, resp)
	if len(entries) != 2 || entries[1].Status != http.StatusOK || !strings.HasSuffix(entries[1].Path, "/status") {
		t.Fatalf("unexpected audit entries %+v", entries)
	}

	cust := h.token("cust-1", user.RoleCustomer)
	resp = h.do(http.MethodGet, "/v1/providers/pro-1", cust, nil)
	h.expect(resp, http.StatusNotFound)
}

func TestNotificationStream(t *testing.T) {
	h := newHarness(t)
	proTok := h.seedProvider("pro-1")
	server := httptest.NewServer(h.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/notifications/stream"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+proTok)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v (response %+v)", err, resp)
	}
	defer conn.Close()

	custTok := h.token("cust-1", user.RoleCustomer)
	start := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Minute)
	h.expect(h.do(http.MethodPost, "/v1/requests", custTok, map[string]any{
		"provider_id":     "pro-1",
		"category":        "plumbing",
		"location":        map[string]float64{"lat": 4.66, "lng": -74.05},
		"scheduled_start": start,
		"scheduled_end":   start.Add(time.Hour),
	}), http.StatusCreated)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var n notification.Notification
	if err := conn.ReadJSON(&n); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if n.UserID != "pro-1" || n.Type != notification.TypeRequestCreated {
		t.Fatalf("unexpected frame %+v", n)
	}
}
