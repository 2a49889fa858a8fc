package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/directory"
	"github.com/dokzlo13/borrowd/internal/reconcile"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeFailure maps an orchestrator error onto an HTTP status.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("kind", code).Msg("Request failed")
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	if errors.Is(err, directory.ErrNotFound) {
		return http.StatusNotFound, "not_found"
	}
	switch kind := reconcile.ErrorKind(err); kind {
	case "invalid":
		return http.StatusBadRequest, kind
	case "forbidden":
		return http.StatusForbidden, kind
	case "auth":
		return http.StatusUnauthorized, kind
	case "conflict":
		return http.StatusConflict, kind
	case "not_found":
		return http.StatusNotFound, kind
	case "transport", "server":
		return http.StatusBadGateway, kind
	}
	return http.StatusInternalServerError, "internal"
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
