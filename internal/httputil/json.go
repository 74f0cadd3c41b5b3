package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/servimap/servimap/internal/errors"
)

// MaxBodyBytes bounds request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorBody is the error envelope returned to API clients.
type ErrorBody struct {
	Error *apperrors.ServiceError `json:"error"`
}

// DecodeJSON strictly decodes a request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return apperrors.BadRequest("empty request body")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.BadRequest("empty request body")
		}
		return apperrors.BadRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	if dec.More() {
		return apperrors.BadRequest("request body must contain a single JSON value")
	}
	return nil
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err to its HTTP status and writes the error envelope.
func WriteError(w http.ResponseWriter, err error) {
	se := apperrors.FromError(err)
	WriteJSON(w, se.HTTPStatus, ErrorBody{Error: se})
}
