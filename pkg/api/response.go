package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/doublelife/doublelife-kit/pkg/errors"
)

type successResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorPayload struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type errorResponse struct {
	Status string       `json:"status"`
	Error  errorPayload `json:"error"`
	Data   any          `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, successResponse{Status: "success", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Error: errorPayload{
		Code: code, Message: message, RequestID: middleware.GetReqID(r.Context()),
	}})
}

// writeDomainError maps a coded error to a status and echoes data (such as
// the messages a command produced) alongside it.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, data any) {
	status := statusFor(err)
	payload := errorPayload{
		Code:      string(errors.CodeOf(err)),
		Message:   err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	var rich *errors.Rich
	if errors.As(err, &rich) {
		payload.Message = rich.Message
		payload.Fields = rich.Fields
	}
	if payload.Code == "" {
		payload.Code = "internal_error"
	}
	writeJSON(w, status, errorResponse{Status: "error", Error: payload, Data: data})
}

func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.CodePolicyRejected:
		return http.StatusConflict
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidConfig:
		return http.StatusBadRequest
	case errors.CodeDoubleOperation:
		return http.StatusConflict
	case errors.CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
