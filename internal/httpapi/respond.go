// Package httpapi is a thin net/http adapter exposing the operations in
// spec.md §6 as http.HandlerFuncs, registered on a plain *http.ServeMux by
// cmd/fusevaultd. It is deliberately not a router framework (spec.md §9:
// "HTTP layer is a mechanical adapter") — it follows the teacher's
// pkg/server/proof_handlers.go writeJSON/writeError helper shape.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/fusevault/core/internal/apperr"
)

func writeJSON(w http.ResponseWriter, logger *log.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Printf("error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, logger *log.Logger, err error) {
	status := httpStatus(apperr.KindOf(err))
	writeJSON(w, logger, status, map[string]any{
		"error": map[string]string{
			"kind":    string(apperr.KindOf(err)),
			"message": err.Error(),
		},
	})
}

// httpStatus maps an apperr.Kind to the status code spec.md §7's taxonomy
// implies (KindIntegrityFailure never reaches here — it's returned as data,
// not an error, per spec.md §7).
func httpStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindIntegrityFailure:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, logger *log.Logger, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, logger, apperr.Wrap(apperr.KindValidation, "invalid JSON body", err))
		return false
	}
	return true
}
