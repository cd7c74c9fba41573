package httpapi

import (
	"net/http"
	"strconv"

	"github.com/fusevault/core/internal/retrieval"
)

// handleRetrieve implements "Retrieve" (spec.md §6): returns the document
// plus its verification verdict. A tampered-and-unrecoverable asset is
// still a 200 carrying Verdict.Verified=false, never an error response
// (spec.md §7: IntegrityFailure is data, not an error).
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireAuth(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		version, _ = strconv.Atoi(v)
	}
	autoRecover := r.URL.Query().Get("auto_recover") == "true"

	result, err := s.retrieve.Process(r.Context(), retrieval.Input{
		AssetID:     r.PathValue("asset_id"),
		Version:     version,
		AutoRecover: autoRecover,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, result)
}
