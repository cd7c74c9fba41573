package httpapi

import (
	"net/http"

	"github.com/fusevault/core/internal/apikey"
	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/domain"
)

// requireWalletSession rejects an API-key-authenticated caller
// from managing API keys themselves (spec.md §6: "API-key create/list/
// revoke/update | wallet only"), since a key should never be able to mint
// or revoke its own siblings.
func requireWalletSession(authCtx *domain.AuthContext) error {
	if authCtx == nil || authCtx.Method != domain.AuthMethodWalletSession {
		return apperr.New(apperr.KindAuthorization, "API-key management requires an active wallet session")
	}
	return nil
}

type apiKeyCreateRequest struct {
	WalletAddress string               `json:"wallet"`
	Name          string               `json:"name"`
	Permissions   []domain.Permission  `json:"permissions"`
}

// handleAPIKeyCreate implements "API-key create" (spec.md §6): the key
// material is returned exactly once, here, and never again.
func (s *Server) handleAPIKeyCreate(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireWalletSession(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req apiKeyCreateRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	issued, record, err := s.apiKeys.Create(r.Context(), s.signer, apikey.CreateInput{
		WalletAddress: authCtx.WalletAddress,
		Name:          req.Name,
		Permissions:   req.Permissions,
	}, 10)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusCreated, map[string]any{"key": issued.Full, "record": record})
}

// handleAPIKeyList implements "API-key list" (spec.md §6).
func (s *Server) handleAPIKeyList(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireWalletSession(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	records, err := s.apiKeys.List(r.Context(), authCtx.WalletAddress)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"keys": records})
}

// handleAPIKeyRevoke implements "API-key revoke" (spec.md §6).
func (s *Server) handleAPIKeyRevoke(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireWalletSession(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.apiKeys.RevokeByName(r.Context(), authCtx.WalletAddress, r.PathValue("name")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"status": "revoked"})
}

type apiKeyPermissionsRequest struct {
	Permissions []domain.Permission `json:"permissions"`
}

// handleAPIKeyUpdatePermissions implements "API-key update" (spec.md §6).
func (s *Server) handleAPIKeyUpdatePermissions(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticate(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := requireWalletSession(authCtx); err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req apiKeyPermissionsRequest
	if !decodeJSON(w, s.logger, r, &req) {
		return
	}

	if err := s.apiKeys.UpdatePermissions(r.Context(), authCtx.WalletAddress, r.PathValue("name"), req.Permissions); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"status": "updated"})
}
