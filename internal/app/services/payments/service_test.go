package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/app/storage/memory"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/httputil"
)

const secret = "whsec_test"

type failingGateway struct{ NoopGateway }

func (failingGateway) Authorize(context.Context, payment.Transaction) (Result, error) {
	return Result{Reference: "gw_1", Status: payment.StatusFailed, FailureReason: "card declined"}, nil
}

type erroringGateway struct{ NoopGateway }

func (erroringGateway) Capture(context.Context, payment.Transaction) (Result, error) {
	return Result{}, errors.New("connection reset")
}

func seedHold(t *testing.T, store *memory.Store, status request.Status) (request.Request, payment.Transaction) {
	t.Helper()
	ctx := context.Background()
	var (
		req  request.Request
		hold payment.Transaction
	)
	svc := New(store, store, nil, nil, Options{}, nil)
	err := store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		req, err = tx.CreateRequest(ctx, request.Request{
			Kind:       request.KindScheduled,
			CustomerID: "c1",
			ProviderID: "p1",
			PriceCents: 10000,
			Currency:   "USD",
			Status:     status,
		})
		if err != nil {
			return err
		}
		hold, err = tx.CreateTransaction(ctx, svc.NewHold(req))
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return req, hold
}

func webhookBody(t *testing.T, eventType, txnID, reason string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": map[string]string{"transaction_id": txnID, "reference": "gw_ref", "failure_reason": reason},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestService_Settlement(t *testing.T) {
	svc := New(nil, nil, nil, nil, Options{}, nil)
	r := request.Request{ID: "r1", CustomerID: "c1", ProviderID: "p1", PriceCents: 10001, Currency: "USD"}

	entries := svc.Settlement(r, 0, "hold_ref")
	amounts := map[payment.Type]int64{}
	for _, e := range entries {
		amounts[e.Type] = e.AmountCents
	}
	// 15% of 100.01 is 15.0015, rounded to 15.00.
	if amounts[payment.TypeCapture] != 10001 || amounts[payment.TypeFee] != 1500 || amounts[payment.TypePayout] != 8501 {
		t.Fatalf("unexpected release split %+v", amounts)
	}
	if _, ok := amounts[payment.TypeRefund]; ok {
		t.Fatalf("release should not refund")
	}

	split := svc.Settlement(r, 4001, "hold_ref")
	amounts = map[payment.Type]int64{}
	for _, e := range split {
		amounts[e.Type] = e.AmountCents
	}
	if amounts[payment.TypeRefund] != 4001 || amounts[payment.TypeCapture] != 6000 || amounts[payment.TypeFee] != 900 || amounts[payment.TypePayout] != 5100 {
		t.Fatalf("unexpected split %+v", amounts)
	}

	full := svc.Settlement(r, r.PriceCents, "hold_ref")
	if len(full) != 1 || full[0].Type != payment.TypeRefund || full[0].PayeeID != "c1" {
		t.Fatalf("full refund should be a single refund, got %+v", full)
	}
}

func TestService_DispatchRecordsOutcome(t *testing.T) {
	store := memory.New()
	_, hold := seedHold(t, store, request.StatusPending)
	svc := New(store, store, nil, nil, Options{}, nil)
	ctx := context.Background()

	svc.Dispatch(ctx, hold)

	got, err := store.GetTransaction(ctx, hold.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != payment.StatusSucceeded || got.ExternalRef != "noop_"+hold.ID {
		t.Fatalf("unexpected transaction %+v", got)
	}
}

func TestService_DispatchFailedHoldCancelsRequest(t *testing.T) {
	store := memory.New()
	req, hold := seedHold(t, store, request.StatusPending)
	svc := New(store, store, failingGateway{}, nil, Options{}, nil)
	ctx := context.Background()

	svc.Dispatch(ctx, hold)

	got, _ := store.GetRequest(ctx, req.ID)
	if got.Status != request.StatusCancelled || got.CancelReason != "payment failed" {
		t.Fatalf("request should be cancelled, got %+v", got)
	}
	inbox, _ := store.ListNotifications(ctx, "c1", true, 0)
	if len(inbox) != 1 || inbox[0].Type != notification.TypePaymentFailed {
		t.Fatalf("customer should be told, got %+v", inbox)
	}
}

func TestService_DispatchGatewayErrorLeavesPending(t *testing.T) {
	store := memory.New()
	_, hold := seedHold(t, store, request.StatusCompleted)
	svc := New(store, store, erroringGateway{}, nil, Options{}, nil)
	capture := hold
	capture.Type = payment.TypeCapture

	ctx := context.Background()
	var saved payment.Transaction
	_ = store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		saved, err = tx.CreateTransaction(ctx, capture)
		return err
	})
	svc.Dispatch(ctx, saved)

	got, _ := store.GetTransaction(ctx, saved.ID)
	if got.Status != payment.StatusPending {
		t.Fatalf("expected pending after gateway error, got %s", got.Status)
	}
}

func TestService_HandleWebhook(t *testing.T) {
	store := memory.New()
	req, hold := seedHold(t, store, request.StatusAccepted)
	svc := New(store, store, nil, nil, Options{WebhookSecret: secret}, nil)
	ctx := context.Background()

	body := webhookBody(t, EventPaymentFailed, hold.ID, "insufficient funds")
	if _, err := svc.HandleWebhook(ctx, body, "deadbeef"); !apperrors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad signature, got %v", err)
	}

	res, err := svc.HandleWebhook(ctx, body, "sha256="+Sign([]byte(secret), body))
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if !res.Handled || res.TransactionID != hold.ID {
		t.Fatalf("unexpected result %+v", res)
	}

	got, _ := store.GetTransaction(ctx, hold.ID)
	if got.Status != payment.StatusFailed || got.FailureReason != "insufficient funds" || got.ExternalRef != "gw_ref" {
		t.Fatalf("transaction not updated: %+v", got)
	}
	r, _ := store.GetRequest(ctx, req.ID)
	if r.Status != request.StatusCancelled {
		t.Fatalf("accepted request should be cancelled, got %s", r.Status)
	}
	providerInbox, _ := store.ListNotifications(ctx, "p1", true, 0)
	if len(providerInbox) != 1 || providerInbox[0].Type != notification.TypeRequestCancelled {
		t.Fatalf("provider should be told, got %+v", providerInbox)
	}

	// A replayed success cannot undo a final failure.
	replay := webhookBody(t, EventPaymentSucceeded, hold.ID, "")
	if _, err := svc.HandleWebhook(ctx, replay, Sign([]byte(secret), replay)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got, _ := store.GetTransaction(ctx, hold.ID); got.Status != payment.StatusFailed {
		t.Fatalf("final status changed to %s", got.Status)
	}
}

func TestService_HandleWebhookIgnoresUnknownTypes(t *testing.T) {
	svc := New(memory.New(), nil, nil, nil, Options{WebhookSecret: secret}, nil)
	body := []byte(`{"type":"customer.updated","data":{}}`)

	res, err := svc.HandleWebhook(context.Background(), body, Sign([]byte(secret), body))
	if err != nil || res.Handled {
		t.Fatalf("unknown type should be acknowledged and ignored: %+v %v", res, err)
	}

	bad := []byte(`{"type":`)
	if _, err := svc.HandleWebhook(context.Background(), bad, Sign([]byte(secret), bad)); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error for malformed JSON, got %v", err)
	}
}

func TestService_WebhookDisabledWithoutSecret(t *testing.T) {
	svc := New(memory.New(), nil, nil, nil, Options{}, nil)
	body := []byte(`{"type":"payment.succeeded"}`)
	if _, err := svc.HandleWebhook(context.Background(), body, Sign(nil, body)); !apperrors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestHTTPGateway_Authorize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/holds" {
			t.Errorf("path = %s, want /v1/holds", r.URL.Path)
		}
		if r.Header.Get(httputil.APIKeyHeader) != "key" {
			t.Errorf("missing api key")
		}
		var in gatewayRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.AmountCents != 2500 || in.TransactionID != "t1" {
			t.Errorf("unexpected payload %+v", in)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "auth_1", "status": "processing"})
	}))
	defer server.Close()

	gw := NewHTTPGateway(httputil.NewClient(httputil.ClientConfig{BaseURL: server.URL, APIKey: "key"}))
	res, err := gw.Authorize(context.Background(), payment.Transaction{ID: "t1", AmountCents: 2500, Currency: "USD"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if res.Reference != "auth_1" || res.Status != payment.StatusPending {
		t.Fatalf("unknown gateway status should map to pending, got %+v", res)
	}
}
