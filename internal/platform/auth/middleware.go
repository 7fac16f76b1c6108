package auth

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/platform/requestid"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

// AnonymousFunc reports whether a request may proceed without a session.
type AnonymousFunc func(r *http.Request) bool

type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Subject    string
	Email      string
	Roles      []string
	OrgID      string
	ClientIP   net.IP
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

type Middleware struct {
	Logger         *slog.Logger
	Authenticator  Authenticator
	Authorize      AuthorizeFunc
	AllowAnonymous AnonymousFunc
	Audit          AuditFunc
	SkipPrefixes   []string
	// TrustForwardedFor takes the audited client address from X-Forwarded-For.
	TrustForwardedFor bool
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				if m.AllowAnonymous != nil && m.AllowAnonymous(r) {
					next.ServeHTTP(w, r)
					return
				}
				m.deny(w, r, Identity{}, http.StatusUnauthorized, "unauthenticated", "unauthorized", err)
				return
			}
			m.deny(w, r, Identity{}, http.StatusUnauthorized, "invalid_token", "invalid_token", err)
			return
		}

		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.deny(w, r, identity, http.StatusForbidden, "forbidden", "forbidden", err)
				return
			}
		}

		r = r.WithContext(ContextWithIdentity(r.Context(), identity))
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, identity Identity, status int, reason string, code string, err error) {
	m.logDeny(r, status, reason, err, "subject", identity.Subject)
	m.auditDeny(r, identity, status, reason, err)
	httpserver.WriteError(w, r, status, code)
}

func (m Middleware) auditDeny(r *http.Request, identity Identity, status int, reason string, err error) {
	if m.Audit == nil {
		return
	}
	event := newDenyEvent(r, status, reason, err, m.TrustForwardedFor)
	event.Subject = identity.Subject
	event.Email = identity.Email
	event.Roles = identity.Roles
	event.OrgID = identity.OrgID
	auditErr := m.Audit(r.Context(), event)
	if auditErr == nil || m.Logger == nil {
		return
	}
	m.Logger.Warn("audit deny failed", "request_id", event.RequestID, "error", auditErr.Error())
}

func (m Middleware) logDeny(r *http.Request, status int, reason string, err error, extra ...any) {
	if m.Logger == nil {
		return
	}
	fields := []any{
		"reason", reason,
		"status", status,
		"request_id", requestID(r),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	}
	fields = append(fields, extra...)
	if status >= 500 {
		m.Logger.Error("auth deny", fields...)
		return
	}
	m.Logger.Warn("auth deny", fields...)
}

func newDenyEvent(r *http.Request, status int, reason string, err error, trustForwardedFor bool) DenyEvent {
	return DenyEvent{
		Time:       time.Now().UTC(),
		Status:     status,
		Reason:     reason,
		Error:      err.Error(),
		RequestID:  requestID(r),
		Method:     r.Method,
		Path:       r.URL.Path,
		ClientIP:   ClientIP(r, trustForwardedFor),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
}

func requestID(r *http.Request) string {
	if id, ok := requestid.FromContext(r.Context()); ok {
		return id
	}
	return r.Header.Get(requestid.Header)
}

// SafeMethods admits anonymous GET, HEAD and OPTIONS requests under the
// given prefixes.
func SafeMethods(prefixes ...string) AnonymousFunc {
	return func(r *http.Request) bool {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			return false
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				return true
			}
		}
		return false
	}
}

func WithTimeout(timeout time.Duration, check func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return check(checkCtx)
	}
}
