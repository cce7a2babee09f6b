// Package httpx provides JSON request/response utilities for the API layer.
package httpx

import (
	"encoding/json"
	"net/http"
)

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK sends a success envelope. The payload keys are merged next to
// "success": true.
func OK(w http.ResponseWriter, status int, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	JSON(w, status, body)
}

// Fail sends a failure envelope with a single error message.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{"success": false, "error": message})
}

// DecodeJSON decodes the JSON request body into target.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
