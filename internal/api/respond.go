package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arencloud/bucketwarden/internal/storage"
)

// Kinds produced by the HTTP boundary itself, next to the storage kinds.
const (
	kindBadRequest       = "BadRequest"
	kindUnauthorized     = "Unauthorized"
	kindTooLarge         = "PayloadTooLarge"
	kindUnsupportedMedia = "UnsupportedMediaType"
	kindInternal         = "Internal"
)

type apiError struct {
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	Dependents []string `json:"dependents,omitempty"`
}

type envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// respondError records an error event into the current trace and writes the
// error envelope.
func respondError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	writeAPIError(w, r, code, &apiError{Kind: kind, Message: msg})
}

func writeAPIError(w http.ResponseWriter, r *http.Request, code int, e *apiError) {
	addEvent(r, "error", map[string]any{"code": code, "kind": e.Kind, "message": e.Message})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Error: e})
}

// respondStorageError maps a storage failure onto its HTTP status.
func respondStorageError(w http.ResponseWriter, r *http.Request, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		respondError(w, r, http.StatusRequestEntityTooLarge, kindTooLarge, "payload too large")
		return
	}
	kind := storage.KindOf(err)
	writeAPIError(w, r, statusFor(kind), &apiError{
		Kind:       string(kind),
		Message:    storage.MessageOf(err),
		Dependents: storage.DependentsOf(err),
	})
}

func statusFor(kind storage.Kind) int {
	switch kind {
	case storage.KindInvalidName:
		return http.StatusBadRequest
	case storage.KindNotFound:
		return http.StatusNotFound
	case storage.KindAlreadyExists, storage.KindNotEmpty, storage.KindHasDependents:
		return http.StatusConflict
	case storage.KindConfigMissing:
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}
