package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dhannusch/pincer/errs"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Error("Could not encode response body")
	}
}

// writeError renders a boundary error as its stable wire shape: ok, the error
// kind, an optional sanitized message, and any structured details flattened
// alongside.
func writeError(w http.ResponseWriter, err error) {
	be := errs.As(err)
	body := map[string]interface{}{
		"ok":    false,
		"error": be.Kind,
	}
	if be.Message != "" {
		body["message"] = be.Message
	}
	for k, v := range be.Details {
		body[k] = v
	}
	if be.Kind == errs.KindLoginLocked {
		if retry, ok := be.Details["retryAfterSeconds"].(int64); ok {
			w.Header().Set("retry-after", strconv.FormatInt(retry, 10))
		}
	}
	if be.Status >= http.StatusInternalServerError {
		log.WithField("kind", be.Kind).WithField("status", be.Status).Warn(be.Error())
	}
	writeJSON(w, be.Status, body)
}
