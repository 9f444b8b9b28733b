package broker

import (
	"encoding/json"
	"net/http"
)

// errorBody is the wire shape of every non-2xx broker response, per §7.
type errorBody struct {
	Error struct {
		Kind         string   `json:"kind"`
		Message      string   `json:"message"`
		RetryAfterMs int64    `json:"retryAfterMs,omitempty"`
		Allowlist    []string `json:"allowlist,omitempty"`
	} `json:"error"`
}

// WriteJSON writes v as an application/json response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a structured error body. allowlist is included only for
// Forbidden responses, per §4.7's "403 ... with the allowlist for
// debugging".
func WriteError(w http.ResponseWriter, status int, kind, message string, allowlist []string) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message
	body.Error.Allowlist = allowlist
	WriteJSON(w, status, body)
}

// WriteErrorWithRetry is WriteError plus a RetryAfterMs hint, used by the
// rate limiter's 429 response.
func WriteErrorWithRetry(w http.ResponseWriter, status int, kind, message string, retryAfterMs int64) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message
	body.Error.RetryAfterMs = retryAfterMs
	WriteJSON(w, status, body)
}
