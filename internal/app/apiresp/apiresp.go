package apiresp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorPayload names what went wrong. Code is a stable machine-readable
// name such as "score_total_mismatch"; Message is for people.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, status, Envelope{OK: true, Data: data, Meta: metaFor(r)})
}

// WriteError answers with the generic code of status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	WriteErrorCode(w, r, status, "", msg)
}

// WriteErrorCode answers with an explicit error code. An empty code falls
// back to the generic code of status, an empty msg to the status text.
func WriteErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if code == "" {
		code = CodeForStatus(status)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	write(w, status, Envelope{
		Error: &ErrorPayload{Code: code, Message: msg},
		Meta:  metaFor(r),
	})
}

// CodeForStatus is the generic error code for the statuses the API sends.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusForbidden:
		return "csrf_rejected"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal_error"
	}
}

func metaFor(r *http.Request) Meta {
	return Meta{RequestID: middleware.GetReqID(r.Context())}
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
