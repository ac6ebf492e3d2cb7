package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"livewatch/internal/engine"
)

const (
	categoryNotFound       = "resource_not_found"
	categoryInvalidRequest = "invalid_request"
	categoryTimeout        = "timeout"
	categoryInternal       = "internal"
)

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, category string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Category: category})
}

// WriteError maps err onto a status and category and writes the JSON body.
func WriteError(w http.ResponseWriter, err error) {
	status, category := classify(err)
	writeError(w, status, category, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrChannelNotFound):
		return http.StatusNotFound, categoryNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, categoryTimeout
	case errors.Is(err, context.Canceled):
		// 499 is the conventional "client closed request" status.
		return 499, categoryTimeout
	default:
		return http.StatusInternalServerError, categoryInternal
	}
}
