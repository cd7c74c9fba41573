package httpapi

import (
	"net/http"

	"github.com/fusevault/core/internal/delete"
)

type deleteRequest struct {
	WalletAddress string `json:"wallet"`
	Reason        string `json:"reason"`
}

// handleDelete implements "Delete single" (spec.md §6).
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req deleteRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	outcome, err := s.deleteOp.Process(r.Context(), delete.Input{
		AssetID:          r.PathValue("asset_id"),
		InitiatorAddress: req.WalletAddress,
		Auth:             authCtx,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

type deleteBatchRequest struct {
	OwnerAddress  string   `json:"wallet"`
	AssetIDs      []string `json:"asset_ids"`
	WalletAddress string   `json:"initiator"`
}

// handleDeleteBatch implements "Delete batch" (spec.md §6).
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req deleteBatchRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}
	initiator := req.WalletAddress
	if initiator == "" {
		initiator = req.OwnerAddress
	}

	outcome, err := s.deleteOp.ProcessBatch(r.Context(), delete.BatchInput{
		OwnerAddress:     req.OwnerAddress,
		AssetIDs:         req.AssetIDs,
		InitiatorAddress: initiator,
		Auth:             authCtx,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

// handleDeleteComplete implements "Delete complete" (spec.md §6).
func (s *Server) handleDeleteComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	outcome, err := s.deleteOp.Complete(r.Context(), req.WalletAddress, req.PendingTxID, req.BlockchainTxHash)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}
