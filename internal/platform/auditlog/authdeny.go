package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/platform/auth"
)

// InsertAuthDeny records a request rejected by the auth middleware or the
// admin IP restriction. Proxied requests keep the forwarding hop under
// remote_addr.
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}

	ip := event.ClientIP
	if ip == nil {
		if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
			ip = net.ParseIP(host)
		}
	}
	payload := map[string]any{
		"service": service,
		"status":  event.Status,
		"reason":  event.Reason,
		"error":   event.Error,
	}
	if event.Email != "" {
		payload["email"] = event.Email
	}
	if len(event.Roles) > 0 {
		payload["roles"] = event.Roles
	}
	if event.RemoteAddr != "" && ip != nil && !strings.HasPrefix(event.RemoteAddr, ip.String()) {
		payload["remote_addr"] = event.RemoteAddr
	}

	_, err := Insert(ctx, q, Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		OrgID:        event.OrgID,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload:      payload,
	})
	return err
}
