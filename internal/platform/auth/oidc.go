package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"golang.org/x/oauth2"
)

const (
	stateCookie     = "metadeploy_oidc_state"
	verifierCookie  = "metadeploy_oidc_verifier"
	nonceCookieName = "metadeploy_oidc_nonce"
	returnToCookie  = "metadeploy_return_to"

	loginCookieTTL = 10 * time.Minute
)

type OIDCService struct {
	cfg          Config
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

func NewOIDCService(ctx context.Context, cfg Config) (*OIDCService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDC.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", cfg.OIDC.IssuerURL, err)
	}
	return &OIDCService{
		cfg:      cfg,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDC.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.OIDC.RedirectURL,
			Scopes:       cfg.OIDC.Scopes,
		},
	}, nil
}

func (s *OIDCService) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		rawToken = tokenFromCookie(r, s.cfg.Session.CookieName)
	}
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}

	return s.cfg.Claims.identity(claims), nil
}

func (s *OIDCService) LoginHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		returnTo := safeReturnTo(r.URL.Query().Get("return_to"))

		state, err := randomBase64URL(32)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		verifier, err := randomBase64URL(32)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		nonce, err := randomBase64URL(32)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		challenge := pkceS256Challenge(verifier)

		for name, value := range map[string]string{
			stateCookie:     state,
			verifierCookie:  verifier,
			nonceCookieName: nonce,
			returnToCookie:  returnTo,
		} {
			s.cfg.Session.setCookie(w, name, value, loginCookieTTL)
		}

		redirectURL := s.oauth2Config.AuthCodeURL(
			state,
			oauth2.AccessTypeOnline,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
			oauth2.SetAuthURLParam("nonce", nonce),
		)
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}, nil
}

func (s *OIDCService) CallbackHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		stateQuery := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if stateQuery == "" || code == "" {
			httpserver.WriteError(w, r, http.StatusBadRequest, "missing_code_or_state")
			return
		}

		wantState := tokenFromCookie(r, stateCookie)
		if wantState == "" || wantState != stateQuery {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_state")
			return
		}

		codeVerifier := tokenFromCookie(r, verifierCookie)
		nonceCookie := tokenFromCookie(r, nonceCookieName)
		returnTo := safeReturnTo(tokenFromCookie(r, returnToCookie))
		if codeVerifier == "" || nonceCookie == "" {
			httpserver.WriteError(w, r, http.StatusBadRequest, "missing_pkce_or_nonce")
			return
		}

		exchangeCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		token, err := s.oauth2Config.Exchange(exchangeCtx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
		if err != nil {
			httpserver.WriteError(w, r, http.StatusUnauthorized, "token_exchange_failed")
			return
		}

		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			httpserver.WriteError(w, r, http.StatusUnauthorized, "missing_id_token")
			return
		}

		idToken, err := s.verifier.Verify(exchangeCtx, rawIDToken)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusUnauthorized, "invalid_id_token")
			return
		}

		var nonceClaim struct {
			Nonce string `json:"nonce"`
		}
		if err := idToken.Claims(&nonceClaim); err != nil {
			httpserver.WriteError(w, r, http.StatusUnauthorized, "invalid_id_token_claims")
			return
		}
		if nonceClaim.Nonce == "" || nonceClaim.Nonce != nonceCookie {
			httpserver.WriteError(w, r, http.StatusUnauthorized, "invalid_nonce")
			return
		}

		s.cfg.Session.setCookie(w, s.cfg.Session.CookieName, rawIDToken, sessionTTL(idToken.Expiry, s.cfg.Session.MaxAge))
		for _, name := range []string{stateCookie, verifierCookie, nonceCookieName, returnToCookie} {
			s.cfg.Session.clearCookie(w, name)
		}

		http.Redirect(w, r, returnTo, http.StatusFound)
	}, nil
}

func (s *OIDCService) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.cfg.Session.clearCookie(w, s.cfg.Session.CookieName)
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func tokenFromCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func randomBase64URL(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", errors.New("nBytes must be positive")
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func safeReturnTo(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	if u.IsAbs() {
		return "/"
	}
	if !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	if strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	return u.Path
}

// sessionTTL keeps the cookie from outliving the ID token it carries.
func sessionTTL(expiry time.Time, limit time.Duration) time.Duration {
	if expiry.IsZero() {
		return limit
	}
	if left := time.Until(expiry); left < limit {
		return left
	}
	return limit
}

func extractStringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func extractBoolClaim(claims map[string]any, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}

func extractRolesClaim(claims map[string]any, key string) []string {
	switch v := claims[key].(type) {
	case string:
		return parseRoles(v)
	case []string:
		return parseRoles(strings.Join(v, ","))
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		return parseRoles(strings.Join(names, ","))
	default:
		return nil
	}
}

// NewAuthenticator selects the authenticator for cfg.Mode. The OIDC service is
// returned as well so callers can mount login routes.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, *OIDCService, error) {
	switch cfg.Mode {
	case ModeOIDC:
		svc, err := NewOIDCService(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc, nil
	case ModeDev:
		return NewDevAuthenticator(cfg), nil, nil
	case ModeDisabled:
		return DisabledAuthenticator{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}
