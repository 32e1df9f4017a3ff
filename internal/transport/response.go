// Package transport contains the ops HTTP router and its middleware chain:
// liveness, readiness and Prometheus metrics for the bot process.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/quill/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrBackendRejected:    http.StatusBadGateway,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as {"error": envelope}. Detail is never exposed
// over HTTP.
func WriteError(w http.ResponseWriter, err error) {
	env := *model.AsEnvelope(err)
	env.Detail = ""

	status := statusForCode[env.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: env})
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, model.NewNotFoundError("no such endpoint"))
}

func handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
