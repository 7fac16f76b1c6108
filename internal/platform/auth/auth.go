package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// ClaimNames maps ID token claims onto Identity fields. Salesforce-backed
// providers put the org details on the token next to the user.
type ClaimNames struct {
	Roles       string
	Email       string
	Username    string
	OrgID       string
	OrgType     string
	OrgName     string
	InstanceURL string
	// IsProductionOrg accepts a JSON bool or "true"/"false".
	IsProductionOrg string
}

func (n ClaimNames) identity(claims map[string]any) Identity {
	subject, _ := claims["sub"].(string)
	email := extractStringClaim(claims, n.Email)
	username := extractStringClaim(claims, n.Username)
	if username == "" {
		username = email
	}
	return Identity{
		Subject:         subject,
		Email:           email,
		Username:        username,
		Roles:           extractRolesClaim(claims, n.Roles),
		OrgID:           extractStringClaim(claims, n.OrgID),
		OrgType:         extractStringClaim(claims, n.OrgType),
		OrgName:         extractStringClaim(claims, n.OrgName),
		InstanceURL:     extractStringClaim(claims, n.InstanceURL),
		IsProductionOrg: extractBoolClaim(claims, n.IsProductionOrg),
	}
}

// SessionConfig describes the cookie holding the ID token after login.
type SessionConfig struct {
	CookieName string
	Secure     bool
	MaxAge     time.Duration
	SameSite   http.SameSite
}

func (c SessionConfig) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	http.SetCookie(w, c.cookie(name, value, int(ttl.Seconds())))
}

func (c SessionConfig) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, c.cookie(name, "", -1))
}

func (c SessionConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

type Config struct {
	Mode    Mode
	Claims  ClaimNames
	Session SessionConfig
	OIDC    OIDCConfig
	// Dev is returned for every request when Mode is dev.
	Dev Identity
}

func ConfigFromEnv() (Config, error) {
	mode, err := parseMode(env.String("AUTH_MODE", string(ModeOIDC)))
	if err != nil {
		return Config{}, err
	}
	secure, err := env.Bool("AUTH_SESSION_COOKIE_SECURE", true)
	if err != nil {
		return Config{}, err
	}
	maxAgeSeconds, err := env.Int("AUTH_SESSION_MAX_AGE_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}
	sameSite, err := parseSameSite(env.String("AUTH_SESSION_COOKIE_SAMESITE", "lax"))
	if err != nil {
		return Config{}, err
	}
	devProduction, err := env.Bool("DEV_AUTH_IS_PRODUCTION_ORG", false)
	if err != nil {
		return Config{}, err
	}

	devSubject := env.String("DEV_AUTH_SUBJECT", "dev-user")
	cfg := Config{
		Mode: mode,
		Claims: ClaimNames{
			Roles:           env.String("AUTH_ROLES_CLAIM", "roles"),
			Email:           env.String("AUTH_EMAIL_CLAIM", "email"),
			Username:        env.String("AUTH_USERNAME_CLAIM", "preferred_username"),
			OrgID:           env.String("AUTH_ORG_ID_CLAIM", "organization_id"),
			OrgType:         env.String("AUTH_ORG_TYPE_CLAIM", "organization_type"),
			OrgName:         env.String("AUTH_ORG_NAME_CLAIM", "organization_name"),
			InstanceURL:     env.String("AUTH_INSTANCE_URL_CLAIM", "instance_url"),
			IsProductionOrg: env.String("AUTH_IS_PRODUCTION_ORG_CLAIM", "is_production_org"),
		},
		Session: SessionConfig{
			CookieName: env.String("AUTH_SESSION_COOKIE_NAME", "metadeploy_session"),
			Secure:     secure,
			MaxAge:     time.Duration(maxAgeSeconds) * time.Second,
			SameSite:   sameSite,
		},
		OIDC: OIDCConfig{
			IssuerURL:    env.String("OIDC_ISSUER_URL", ""),
			ClientID:     env.String("OIDC_CLIENT_ID", ""),
			ClientSecret: env.String("OIDC_CLIENT_SECRET", ""),
			RedirectURL:  env.String("OIDC_REDIRECT_URL", ""),
			Scopes:       parseScopes(env.String("OIDC_SCOPES", "openid profile email")),
		},
		Dev: Identity{
			Subject:         devSubject,
			Username:        env.String("DEV_AUTH_USERNAME", devSubject),
			Email:           env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
			Roles:           parseRoles(env.String("DEV_AUTH_ROLES", "staff")),
			OrgID:           env.String("DEV_AUTH_ORG_ID", "00Dxxxxxxxxxxxxxxx"),
			OrgType:         env.String("DEV_AUTH_ORG_TYPE", "Developer Edition"),
			OrgName:         env.String("DEV_AUTH_ORG_NAME", "Development Org"),
			InstanceURL:     env.String("DEV_AUTH_INSTANCE_URL", "https://dev.my.salesforce.com"),
			IsProductionOrg: devProduction,
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Claims.Roles) == "" {
		return errors.New("AUTH_ROLES_CLAIM is required")
	}
	if strings.TrimSpace(c.Claims.Email) == "" {
		return errors.New("AUTH_EMAIL_CLAIM is required")
	}
	if strings.TrimSpace(c.Claims.OrgID) == "" {
		return errors.New("AUTH_ORG_ID_CLAIM is required")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return errors.New("AUTH_SESSION_COOKIE_NAME is required")
	}
	if c.Session.MaxAge <= 0 {
		return errors.New("AUTH_SESSION_MAX_AGE_SECONDS must be positive")
	}
	if c.Session.SameSite == http.SameSiteNoneMode && !c.Session.Secure {
		return errors.New("AUTH_SESSION_COOKIE_SAMESITE=none requires AUTH_SESSION_COOKIE_SECURE")
	}

	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDC.IssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDC.ClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.Dev.Subject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		}
		if len(c.Dev.Roles) == 0 {
			return errors.New("DEV_AUTH_ROLES must be non-empty when AUTH_MODE=dev")
		}
		if c.Dev.OrgID != "" {
			if err := domain.ValidateOrgID(c.Dev.OrgID); err != nil {
				return fmt.Errorf("DEV_AUTH_ORG_ID: %w", err)
			}
		}
	case ModeDisabled:
	case "":
		return errors.New("AUTH_MODE is required")
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

// ValidateForLogin reports whether the interactive login routes can be
// mounted; bearer-token validation alone needs less.
func (c Config) ValidateForLogin() error {
	if c.Mode != ModeOIDC {
		return fmt.Errorf("login requires AUTH_MODE=oidc (got %q)", c.Mode)
	}
	if strings.TrimSpace(c.OIDC.ClientSecret) == "" {
		return errors.New("OIDC_CLIENT_SECRET is required for login endpoints")
	}
	if strings.TrimSpace(c.OIDC.RedirectURL) == "" {
		return errors.New("OIDC_REDIRECT_URL is required for login endpoints")
	}
	return nil
}

func parseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeOIDC, ModeDev, ModeDisabled:
		return mode, nil
	default:
		return "", fmt.Errorf("AUTH_MODE must be one of: oidc, dev, disabled (got %q)", raw)
	}
}

func parseSameSite(raw string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("AUTH_SESSION_COOKIE_SAMESITE must be lax, strict or none (got %q)", raw)
	}
}

func parseScopes(value string) []string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return []string{"openid", "profile", "email"}
	}
	return fields
}

// parseRoles lowercases and dedupes a comma separated role list.
func parseRoles(value string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(value, ",") {
		role := strings.ToLower(strings.TrimSpace(part))
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}
