package httpapi

import (
	"net/http"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/auth"
	"github.com/fusevault/core/internal/domain"
)

// authenticate pulls wallet-session and API-key credentials off the request
// (spec.md §6: "X-API-Key: fv.v1....") and dispatches them. A nil
// *domain.AuthContext with a nil error means the request is unauthenticated
// — handlers that require auth turn that into apperr.KindAuthorization
// themselves, since an anonymous read-only endpoint is free to proceed.
func (s *Server) authenticate(r *http.Request) (*domain.AuthContext, error) {
	creds := auth.Credentials{
		SessionToken: r.Header.Get("X-Session-Token"),
		APIKey:       r.Header.Get("X-API-Key"),
	}
	return s.dispatcher.Dispatch(r.Context(), creds)
}

func requireAuth(authCtx *domain.AuthContext) error {
	if authCtx == nil {
		return apperr.New(apperr.KindAuthorization, "request carries no valid session or API key")
	}
	return nil
}
