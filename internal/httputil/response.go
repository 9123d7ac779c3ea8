package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/mvlm/internal/monitoring"
)

// ErrorBody is the JSON shape of every error reply.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// WriteJSON encodes data as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// WriteError replies with an ErrorBody.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg, Status: status})
}

// NotFound replies 404 with msg.
func NotFound(w http.ResponseWriter, msg string) { WriteError(w, http.StatusNotFound, msg) }

// BadRequest replies 400 with msg.
func BadRequest(w http.ResponseWriter, msg string) { WriteError(w, http.StatusBadRequest, msg) }

// InternalError replies 500 with msg.
func InternalError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusInternalServerError, msg)
}

// MethodNotAllowed replies 405.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}
