package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/applyflow/applyflow/utils"
)

const maxPageLimit = 100

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *utils.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.Code, ErrorResponse{Error: apiErr.Message, Details: apiErr.Details})
		return
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
