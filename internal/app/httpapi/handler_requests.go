package httpapi

import (
	"net/http"
	"strings"

	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/services/emergency"
	"github.com/servimap/servimap/internal/app/services/requests"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/httputil"
)

var knownStatuses = map[request.Status]struct{}{
	request.StatusPending: {}, request.StatusAccepted: {}, request.StatusInProgress: {},
	request.StatusCompleted: {}, request.StatusDisputed: {}, request.StatusSettled: {},
	request.StatusCancelled: {}, request.StatusRejected: {}, request.StatusExpired: {},
}

// parseStatuses reads ?status=a,b into a filter.
func parseStatuses(raw string) ([]request.Status, error) {
	var out []request.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s := request.Status(part)
		if _, ok := knownStatuses[s]; !ok {
			return nil, apperrors.NewValidationError("status", "unknown status "+part)
		}
		out = append(out, s)
	}
	return out, nil
}

func (h *handler) emergencyMatches(w http.ResponseWriter, r *http.Request) {
	point, located, err := queryPoint(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !located {
		h.fail(w, r, apperrors.RequiredError("lat"))
		return
	}
	candidates, err := h.app.Emergency.Match(r.Context(), r.URL.Query().Get("category"), point)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, candidates)
}

type emergencyRequestResponse struct {
	Request    request.Request       `json:"request"`
	Candidates []emergency.Candidate `json:"candidates"`
}

func (h *handler) createEmergencyRequest(w http.ResponseWriter, r *http.Request) {
	var in emergency.RequestInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	req, candidates, err := h.app.Emergency.CreateRequest(r.Context(), callerFrom(r).ID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, emergencyRequestResponse{Request: req, Candidates: candidates})
}

func (h *handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var in requests.CreateInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.app.Requests.Create(r.Context(), callerFrom(r).ID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c := callerFrom(r)
	list, err := h.app.Requests.List(r.Context(), c.ID, c.Role, statuses, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []request.Request{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r)
	req, err := h.app.Requests.Get(r.Context(), pathID(r), c.ID, c.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

type reasonPayload struct {
	Reason string `json:"reason"`
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(r *http.Request, dst interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	return httputil.DecodeJSON(r, dst)
}

func (h *handler) respondRequest(w http.ResponseWriter, r *http.Request, req request.Request, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *handler) acceptRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Accept(r.Context(), pathID(r), callerFrom(r).ID)
	h.respondRequest(w, r, req, err)
}

func (h *handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	var payload reasonPayload
	if err := decodeOptional(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.app.Requests.Reject(r.Context(), pathID(r), callerFrom(r).ID, payload.Reason)
	h.respondRequest(w, r, req, err)
}

func (h *handler) startRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Start(r.Context(), pathID(r), callerFrom(r).ID)
	h.respondRequest(w, r, req, err)
}

func (h *handler) completeRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Complete(r.Context(), pathID(r), callerFrom(r).ID)
	h.respondRequest(w, r, req, err)
}

func (h *handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	var payload reasonPayload
	if err := decodeOptional(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.app.Requests.Cancel(r.Context(), pathID(r), callerFrom(r).ID, payload.Reason)
	h.respondRequest(w, r, req, err)
}

type ratePayload struct {
	Stars   int    `json:"stars"`
	Comment string `json:"comment"`
}

func (h *handler) rateRequest(w http.ResponseWriter, r *http.Request) {
	var payload ratePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	rv, err := h.app.Requests.Rate(r.Context(), pathID(r), callerFrom(r).ID, payload.Stars, payload.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rv)
}

func (h *handler) openDispute(w http.ResponseWriter, r *http.Request) {
	var payload reasonPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.app.Requests.OpenDispute(r.Context(), pathID(r), callerFrom(r).ID, payload.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *handler) requestTransactions(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r)
	txns, err := h.app.Requests.Transactions(r.Context(), pathID(r), c.ID, c.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txns)
}

func (h *handler) listPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	txns, err := h.app.Payments.ListForUser(r.Context(), callerFrom(r).ID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txns)
}
