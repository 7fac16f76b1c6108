package domain

import "strings"

// Viewer is the caller a visibility decision is made for. A zero Viewer is
// anonymous.
type Viewer struct {
	UserID  string
	IsStaff bool
	OrgID   string
	OrgType string
}

func (v Viewer) Authenticated() bool {
	return strings.TrimSpace(v.UserID) != ""
}

// Permits reports whether the list admits the viewer. orgIDs are the org ids
// registered on the list.
func (l AllowedList) Permits(v Viewer, orgIDs []string) bool {
	if !v.Authenticated() {
		return false
	}
	if v.IsStaff {
		return true
	}
	orgType := strings.TrimSpace(v.OrgType)
	if orgType != "" {
		for _, allowed := range l.OrgTypes {
			if strings.EqualFold(strings.TrimSpace(allowed), orgType) {
				return true
			}
		}
	}
	orgID := strings.TrimSpace(v.OrgID)
	if orgID == "" {
		return false
	}
	for _, allowed := range orgIDs {
		if sameOrg(allowed, orgID) {
			return true
		}
	}
	return false
}

// IsVisibleTo is true when there is no restricting list or the list permits
// the viewer.
func IsVisibleTo(list *AllowedList, orgIDs []string, v Viewer) bool {
	if list == nil {
		return true
	}
	return list.Permits(v, orgIDs)
}

// sameOrg compares org ids using their case-sensitive 15 character prefix so
// 15 and 18 character forms of one id match.
func sameOrg(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if len(a) >= 15 && len(b) >= 15 {
		return a[:15] == b[:15]
	}
	return a == b
}
