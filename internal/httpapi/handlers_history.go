package httpapi

import (
	"net/http"
	"strconv"
)

func parseLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func parseBoolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// handleHistoryByAsset implements the asset_id branch of "Transaction
// history" (spec.md §6), including the optional ?version= filter spec.md
// §4.4's list_by_asset(asset_id, version?) names.
func (s *Server) handleHistoryByAsset(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireAuth(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	var version *int
	if raw := r.URL.Query().Get("version"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			version = &n
		}
	}

	entries, err := s.txlogs.ListByAsset(r.Context(), r.PathValue("asset_id"), version, parseLimit(r, 100))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"entries": entries})
}

// handleHistoryByWallet implements the wallet branch of "Transaction
// history" (spec.md §6). By default only entries for assets the wallet
// currently owns are returned; ?include_history=true also returns entries
// for assets it no longer owns (spec.md §4.4
// list_by_wallet(owner, include_history?, limit?)).
func (s *Server) handleHistoryByWallet(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireAuth(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	wallet := r.PathValue("wallet")
	includeHistory := parseBoolQuery(r, "include_history")

	var currentAssetIDs []string
	if !includeHistory {
		owned, err := s.assets.ListByOwner(r.Context(), wallet, false, false)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		currentAssetIDs = make([]string, len(owned))
		for i, v := range owned {
			currentAssetIDs[i] = v.AssetID
		}
	}

	entries, err := s.txlogs.ListByWallet(r.Context(), wallet, includeHistory, currentAssetIDs, parseLimit(r, 100))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"entries": entries})
}
