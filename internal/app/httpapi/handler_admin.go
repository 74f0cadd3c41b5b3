package httpapi

import (
	"net/http"
	"strings"

	"github.com/servimap/servimap/internal/app/domain/moderation"
	"github.com/servimap/servimap/internal/app/domain/provider"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/httputil"
)

type reportPayload struct {
	TargetType moderation.TargetType `json:"target_type"`
	TargetID   string                `json:"target_id"`
	Reason     string                `json:"reason"`
}

func (h *handler) fileReport(w http.ResponseWriter, r *http.Request) {
	var payload reportPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.app.Moderation.FileReport(r.Context(), callerFrom(r).ID, payload.TargetType, payload.TargetID, payload.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, report)
}

func (h *handler) listDisputes(w http.ResponseWriter, r *http.Request) {
	status := moderation.DisputeStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	disputes, err := h.app.Moderation.ListDisputes(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, disputes)
}

type resolveDisputePayload struct {
	Outcome     moderation.Outcome `json:"outcome"`
	RefundCents int64              `json:"refund_cents"`
	Note        string             `json:"note"`
}

func (h *handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var payload resolveDisputePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.app.Moderation.ResolveDispute(r.Context(), pathID(r), callerFrom(r).ID, payload.Outcome, payload.RefundCents, payload.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	status := moderation.ReportStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	reports, err := h.app.Moderation.ListReports(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reports)
}

type resolveReportPayload struct {
	Action moderation.Action `json:"action"`
}

func (h *handler) resolveReport(w http.ResponseWriter, r *http.Request) {
	var payload resolveReportPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.app.Moderation.ResolveReport(r.Context(), pathID(r), callerFrom(r).ID, payload.Action)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

type providerStatusPayload struct {
	Status provider.Status `json:"status"`
}

func (h *handler) setProviderStatus(w http.ResponseWriter, r *http.Request) {
	var payload providerStatusPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.app.Providers.SetStatus(r.Context(), pathID(r), payload.Status, callerFrom(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// settleRequest runs settlement for one request without waiting for the
// runner. The dispute window still applies.
func (h *handler) settleRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Settle(r.Context(), pathID(r))
	h.respondRequest(w, r, req, err)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadAllStrict(r.Body, httputil.MaxBodyBytes)
	if err != nil {
		h.fail(w, r, apperrors.BadRequest(err.Error()))
		return
	}
	result, err := h.app.Payments.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("payment webhook rejected")
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
