package rpcapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/protolith-db/protolith/internal/auth"
	"github.com/protolith-db/protolith/internal/dbengine"
)

// errorResponse is the stable, non-leaky body sent for any non-2xx
// response (spec.md §7 "clients receive a stable, non-leaky string").
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an engine/auth error to an RPC status code, per spec.md
// §6.1's error status mapping table. Everything not named there is
// Internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dbengine.ErrDatabaseAlreadyExists),
		errors.Is(err, dbengine.ErrCollectionAlreadyExists),
		errors.Is(err, dbengine.ErrKeyAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, dbengine.ErrDatabaseNotFound),
		errors.Is(err, dbengine.ErrCollectionNotFound),
		errors.Is(err, dbengine.ErrUserNotFound),
		errors.Is(err, dbengine.ErrSchemaNotExists),
		errors.Is(err, dbengine.ErrRecordNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, dbengine.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as an errorResponse at the status statusFor(err)
// maps it to. Internal errors are logged by the caller before this runs;
// writeError never leaks err's text for an Internal mapping.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
