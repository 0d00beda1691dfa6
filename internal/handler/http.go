package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"transvisor/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// pathIndex reads the {index} path parameter.
func pathIndex(r *http.Request) (int, bool) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func respondRouteError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnknownRoute) {
		respondError(w, http.StatusNotFound, "route not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
