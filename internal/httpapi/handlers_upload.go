package httpapi

import (
	"net/http"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/upload"
)

type uploadRequest struct {
	AssetID             string         `json:"asset_id"`
	WalletAddress       string         `json:"wallet"`
	CriticalMetadata    map[string]any `json:"critical"`
	NonCriticalMetadata map[string]any `json:"non_critical"`
}

// handleUpload implements "Upload single" (spec.md §6).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req uploadRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	outcome, err := s.upload.Process(r.Context(), upload.Input{
		AssetID:             req.AssetID,
		OwnerAddress:        req.WalletAddress,
		InitiatorAddress:    req.WalletAddress,
		CriticalMetadata:    req.CriticalMetadata,
		NonCriticalMetadata: req.NonCriticalMetadata,
		Auth:                authCtx,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

type uploadBatchItem struct {
	AssetID             string         `json:"asset_id"`
	CriticalMetadata    map[string]any `json:"critical"`
	NonCriticalMetadata map[string]any `json:"non_critical"`
}

type uploadBatchRequest struct {
	OwnerAddress  string            `json:"wallet"`
	InitiatorAddress string         `json:"initiator"`
	Items         []uploadBatchItem `json:"items"`
}

// handleUploadBatch implements "Upload batch prepare" (spec.md §6, capped
// at 50 assets per the batch ceiling wired from config.MaxBatchSize). Every
// item in the batch shares one owner wallet, since the batch anchors in a
// single aggregate on-chain transaction signed once.
func (s *Server) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req uploadBatchRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}
	if len(req.Items) > s.maxBatch {
		writeError(w, s.logger, apperr.New(apperr.KindValidation, "batch exceeds maximum size"))
		return
	}
	initiator := req.InitiatorAddress
	if initiator == "" {
		initiator = req.OwnerAddress
	}

	items := make([]upload.BatchItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, upload.BatchItem{
			AssetID:             item.AssetID,
			CriticalMetadata:    item.CriticalMetadata,
			NonCriticalMetadata: item.NonCriticalMetadata,
		})
	}

	outcome, err := s.upload.ProcessBatch(r.Context(), upload.BatchInput{
		OwnerAddress:     req.OwnerAddress,
		InitiatorAddress: initiator,
		Items:            items,
		Auth:             authCtx,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

type completeRequest struct {
	WalletAddress    string `json:"wallet"`
	PendingTxID      string `json:"pending_tx_id"`
	BlockchainTxHash string `json:"blockchain_tx_hash"`
}

// handleUploadComplete implements "Upload complete" (spec.md §6).
func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	outcome, err := s.upload.Complete(r.Context(), req.WalletAddress, req.PendingTxID, req.BlockchainTxHash)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}
