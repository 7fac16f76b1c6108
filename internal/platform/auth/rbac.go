package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleUser      = "user"
	RoleStaff     = "staff"
	RoleSuperuser = "superuser"
)

var roleLevels = map[string]int{
	RoleUser:      1,
	RoleStaff:     2,
	RoleSuperuser: 3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// ParseRole normalizes a configured role name.
func ParseRole(role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if _, ok := roleLevels[role]; !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return role, nil
}

// StaffAuthorizer admits staff and superusers only.
func StaffAuthorizer() AuthorizeFunc {
	return AdminAuthorizer(RoleStaff)
}

// AdminAuthorizer admits staff to read catalog records and requires
// writeRole for anything that changes them.
func AdminAuthorizer(writeRole string) AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if !identity.IsStaff() {
			return ErrForbidden
		}
		if safeMethod(r.Method) || HasAtLeast(identity.Roles, writeRole) {
			return nil
		}
		return ErrForbidden
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
