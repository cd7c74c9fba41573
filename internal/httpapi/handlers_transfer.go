package httpapi

import (
	"net/http"

	"github.com/fusevault/core/internal/transfer"
)

type transferInitiateRequest struct {
	AssetID      string `json:"asset_id"`
	CurrentOwner string `json:"current_owner"`
	NewOwner     string `json:"new_owner"`
}

// handleTransferInitiate implements InitiateTransfer (SPEC_FULL.md §10).
func (s *Server) handleTransferInitiate(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req transferInitiateRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	outcome, err := s.transferOp.Initiate(r.Context(), transfer.InitiateInput{
		AssetID: req.AssetID, CurrentOwner: req.CurrentOwner, NewOwner: req.NewOwner, Auth: authCtx,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

func (s *Server) handleTransferInitiateComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}
	outcome, err := s.transferOp.CompleteInitiate(r.Context(), req.WalletAddress, req.PendingTxID, req.BlockchainTxHash)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

type transferAcceptRequest struct {
	AssetID       string `json:"asset_id"`
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
}

// handleTransferAccept implements AcceptTransfer (SPEC_FULL.md §10).
func (s *Server) handleTransferAccept(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req transferAcceptRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	outcome, err := s.transferOp.Accept(r.Context(), transfer.AcceptInput{
		AssetID: req.AssetID, PreviousOwner: req.PreviousOwner, NewOwner: req.NewOwner, Auth: authCtx,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

func (s *Server) handleTransferAcceptComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}
	outcome, err := s.transferOp.CompleteAccept(r.Context(), req.WalletAddress, req.PendingTxID, req.BlockchainTxHash)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

type transferCancelRequest struct {
	AssetID string `json:"asset_id"`
	Owner   string `json:"owner"`
}

// handleTransferCancel implements CancelTransfer (SPEC_FULL.md §10).
func (s *Server) handleTransferCancel(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req transferCancelRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	outcome, err := s.transferOp.Cancel(r.Context(), transfer.CancelInput{
		AssetID: req.AssetID, Owner: req.Owner, Auth: authCtx,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

func (s *Server) handleTransferCancelComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}
	outcome, err := s.transferOp.CompleteCancel(r.Context(), req.WalletAddress, req.PendingTxID, req.BlockchainTxHash)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, outcome)
}

// handleTransferListPending implements ListPendingTransfers (SPEC_FULL.md
// §10).
func (s *Server) handleTransferListPending(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireAuth(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	outgoing, incoming, err := s.transferOp.ListPending(r.Context(), authCtx.WalletAddress)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"outgoing": outgoing, "incoming": incoming})
}
