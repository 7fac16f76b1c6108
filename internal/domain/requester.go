package domain

import (
	"errors"
	"net"
)

var ErrForbidden = errors.New("forbidden")

// Requester is the caller of a state-changing operation: the viewer plus the
// connected org details and request metadata used for auditing.
type Requester struct {
	Viewer
	OrgName         string
	InstanceURL     string
	IsProductionOrg bool

	RequestID string
	IP        net.IP
	UserAgent string
}

// CanEdit reports whether the requester may change a record owned by userID.
func (r Requester) CanEdit(userID string) bool {
	return r.Authenticated() && (r.IsStaff || r.UserID == userID)
}
