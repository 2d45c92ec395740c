package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukerupert/servicedesk/internal/backup"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusForKind maps orchestrator error kinds onto HTTP status codes.
func statusForKind(k backup.Kind) int {
	switch k {
	case backup.KindInvalidArgument:
		return http.StatusBadRequest
	case backup.KindNotFound:
		return http.StatusNotFound
	case backup.KindInvalidState:
		return http.StatusConflict
	case backup.KindProtectedResource:
		return http.StatusLocked
	case backup.KindIntegrityViolation:
		return http.StatusUnprocessableEntity
	case backup.KindExternalProcess:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status its kind maps to. Requests against
// an already deleted record are caller errors. Unclassified errors are
// reported without detail.
func writeError(w http.ResponseWriter, err error) {
	kind := backup.KindOf(err)
	resp := errorResponse{Error: "internal error", Kind: string(kind)}
	var be *backup.Error
	if errors.As(err, &be) || kind != backup.KindUnknown {
		resp.Error = err.Error()
	}
	status := statusForKind(kind)
	if errors.Is(err, backup.ErrAlreadyDeleted) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: string(backup.KindInvalidArgument)})
}
