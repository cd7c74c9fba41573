package httpapi

import (
	"net/http"
	"strings"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/domain"
)

type delegateSetRequest struct {
	OwnerAddress    string `json:"wallet"`
	DelegateAddress string `json:"delegate"`
}

// handleDelegateSet implements "Delegation set" (spec.md §6). SetDelegate
// has no server-signed contract variant, so this is always a
// pending-signature flow regardless of the caller's auth method, the same
// way internal/transfer treats ownership transfer.
func (s *Server) handleDelegateSet(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req delegateSetRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}
	s.delegateChange(w, r, authCtx, req.OwnerAddress, req.DelegateAddress, true)
}

// handleDelegateRevoke implements "Delegation revoke" (spec.md §6).
func (s *Server) handleDelegateRevoke(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req delegateSetRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}
	s.delegateChange(w, r, authCtx, req.OwnerAddress, r.PathValue("delegate"), false)
}

func (s *Server) delegateChange(w http.ResponseWriter, r *http.Request, authCtx *domain.AuthContext, owner, delegate string, status bool) {
	if !authCtx.HasPermission(domain.PermissionWrite) {
		writeError(w, s.logger, apperr.New(apperr.KindAuthorization, "caller lacks write permission"))
		return
	}
	owner = strings.ToLower(owner)
	delegate = strings.ToLower(delegate)
	if !strings.EqualFold(owner, authCtx.WalletAddress) {
		writeError(w, s.logger, apperr.New(apperr.KindAuthorization, "only the owner may change their own delegate set"))
		return
	}

	unsigned, err := s.chain.SetDelegate(r.Context(), owner, delegate, status)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	echo := map[string]any{"owner_address": owner, "delegate_address": delegate, "status": status}
	pendingTx, err := s.pendingTx.Store(r.Context(), owner, "delegate", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx})
}

// handleDelegateComplete broadcasts a signed delegate-set/revoke
// transaction and updates the DB cache, the way internal/upload's
// Complete reconciles a pending transaction after the wallet signs it.
func (s *Server) handleDelegateComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	pendingTx, err := s.pendingTx.Get(r.Context(), req.WalletAddress, req.PendingTxID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	result, err := s.chain.ConfirmBroadcast(r.Context(), req.BlockchainTxHash)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !result.Success {
		writeError(w, s.logger, apperr.New(apperr.KindInternal, "broadcast transaction reverted on chain"))
		return
	}

	owner, _ := pendingTx.Echo["owner_address"].(string)
	delegateAddr, _ := pendingTx.Echo["delegate_address"].(string)
	status, _ := pendingTx.Echo["status"].(bool)
	if err := s.delegates.Upsert(r.Context(), owner, delegateAddr, status, result.TxHash, result.BlockNumber); err != nil {
		writeError(w, s.logger, err)
		return
	}
	_, _ = s.txlogs.Record(r.Context(), owner, owner, domain.ActionUpdate, map[string]any{
		"delegate_address": delegateAddr, "status": status, "chain_tx_id": result.TxHash,
	})
	if err := s.pendingTx.Remove(r.Context(), req.WalletAddress, req.PendingTxID); err != nil {
		s.logger.Printf("failed to remove completed pending delegate transaction %s: %v", req.PendingTxID, err)
	}

	writeJSON(w, s.logger, http.StatusOK, domain.Outcome{Status: domain.StatusSuccess})
}

// handleDelegateCheck implements "Delegation check" (spec.md §6): always
// re-queries the chain live, never the DB cache, per spec.md §9's
// check-then-act redesign flag.
func (s *Server) handleDelegateCheck(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireAuth(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	active, err := s.chain.IsDelegate(r.Context(), r.PathValue("owner"), r.PathValue("delegate"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"is_delegate": active})
}

// handleDelegateList implements "Delegation list" (spec.md §6), served from
// the DB cache since this is a listing/UX endpoint, not an authorization
// decision.
func (s *Server) handleDelegateList(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireAuth(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	entries, err := s.delegates.ListDelegatesOf(r.Context(), r.PathValue("owner"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"delegates": entries})
}
