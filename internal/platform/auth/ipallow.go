package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
)

var errIPNotAllowed = errors.New("client address outside allowed subnets")

// IPRestriction rejects requests under Prefix whose client address is not in
// one of the allowed subnets. Rejections are answered with 400 and passed to
// Audit when set.
type IPRestriction struct {
	Logger            *slog.Logger
	Prefix            string
	Subnets           []*net.IPNet
	TrustForwardedFor bool
	Audit             AuditFunc
}

func ParseSubnets(values []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			if ip := net.ParseIP(raw); ip != nil && ip.To4() != nil {
				raw += "/32"
			} else {
				raw += "/128"
			}
		}
		_, subnet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid subnet %q: %w", raw, err)
		}
		out = append(out, subnet)
	}
	return out, nil
}

func (p IPRestriction) Allowed(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, subnet := range p.Subnets {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}

func (p IPRestriction) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.Prefix != "" && !strings.HasPrefix(r.URL.Path, p.Prefix) {
			next.ServeHTTP(w, r)
			return
		}
		ip := ClientIP(r, p.TrustForwardedFor)
		if p.Allowed(ip) {
			next.ServeHTTP(w, r)
			return
		}
		if p.Logger != nil {
			p.Logger.Warn("admin ip rejected", "ip", fmt.Sprint(ip), "path", r.URL.Path, "request_id", requestID(r))
		}
		if p.Audit != nil {
			event := newDenyEvent(r, http.StatusBadRequest, "ip_not_allowed", errIPNotAllowed, p.TrustForwardedFor)
			if err := p.Audit(r.Context(), event); err != nil && p.Logger != nil {
				p.Logger.Warn("audit deny failed", "request_id", event.RequestID, "error", err.Error())
			}
		}
		httpserver.WriteError(w, r, http.StatusBadRequest, "ip_not_allowed")
	})
}

// ClientIP returns the caller address, preferring the first X-Forwarded-For
// entry when the service runs behind a trusted proxy.
func ClientIP(r *http.Request, trustForwardedFor bool) net.IP {
	if trustForwardedFor {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(strings.TrimSpace(r.RemoteAddr))
	}
	return net.ParseIP(host)
}
