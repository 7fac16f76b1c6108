package auth

import (
	"context"
	"strings"
)

// Identity is the authenticated caller together with the org their session
// is connected to.
type Identity struct {
	Subject         string
	Email           string
	Username        string
	Roles           []string
	OrgID           string
	OrgType         string
	OrgName         string
	InstanceURL     string
	IsProductionOrg bool
}

func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.Subject) != ""
}

func (i Identity) IsStaff() bool {
	return i.Authenticated() && HasAtLeast(i.Roles, RoleStaff)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
