package apiserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/flowbase/repl-engine/config"
)

// oidcLogin wires a single-issuer OpenID Connect login flow: one
// issuer URL and client ID, configured at startup, rather than a
// dynamic multi-provider registry (see DESIGN.md's note on narrowed
// teacher dependencies).
type oidcLogin struct {
	provider *oidc.Provider
	oauth    oauth2.Config
	auth     *auth
}

func newOIDCLogin(ctx context.Context, cfg config.Config, a *auth) (*oidcLogin, error) {
	if cfg.OIDCIssuerURL == "" {
		return nil, nil
	}
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("apiserver: oidc provider: %w", err)
	}
	return &oidcLogin{
		provider: provider,
		oauth: oauth2.Config{
			ClientID: cfg.OIDCClientID,
			Endpoint: provider.Endpoint(),
			Scopes:   []string{oidc.ScopeOpenID, "profile", "email"},
		},
		auth: a,
	}, nil
}

func (o *oidcLogin) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	tok, err := o.oauth.Exchange(r.Context(), code)
	if err != nil {
		log.WithError(err).Warn("oidc code exchange failed")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	userInfo, err := o.provider.UserInfo(r.Context(), oauth2.StaticTokenSource(tok))
	if err != nil {
		log.WithError(err).Warn("oidc userinfo lookup failed")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	signed, err := o.auth.issueToken(userInfo.Subject)
	if err != nil {
		http.Error(w, "token issuance failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: signed})
}
