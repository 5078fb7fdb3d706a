package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hmellak/aistudio/internal/repository"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps repository sentinels onto HTTP statuses. Rows
// outside the caller's tenant scope answer exactly like absent rows.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrTenantBinding):
		writeError(w, http.StatusInternalServerError, "isolation binding failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
