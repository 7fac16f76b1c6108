package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	if db == nil {
		return nil
	}
	return &UserStore{db: db}
}

const (
	userColumns     = `id, subject, username, email, is_staff, org_id, org_type, org_name, instance_url, is_production_org, created_at, last_seen_at`
	upsertUserQuery = `INSERT INTO users (` + userColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	ON CONFLICT (subject) DO UPDATE SET
		username = EXCLUDED.username,
		email = EXCLUDED.email,
		is_staff = EXCLUDED.is_staff,
		org_id = EXCLUDED.org_id,
		org_type = EXCLUDED.org_type,
		org_name = EXCLUDED.org_name,
		instance_url = EXCLUDED.instance_url,
		is_production_org = EXCLUDED.is_production_org,
		last_seen_at = EXCLUDED.last_seen_at
	RETURNING ` + userColumns
)

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	var email, orgID, orgType, orgName, instanceURL sql.NullString
	if err := row.Scan(&u.ID, &u.Subject, &u.Username, &email, &u.IsStaff, &orgID, &orgType, &orgName, &instanceURL, &u.IsProductionOrg, &u.CreatedAt, &u.LastSeenAt); err != nil {
		return domain.User{}, err
	}
	u.Email = email.String
	u.OrgID = orgID.String
	u.OrgType = orgType.String
	u.OrgName = orgName.String
	u.InstanceURL = instanceURL.String
	return u, nil
}

// Upsert inserts the user or refreshes its profile by subject. The returned
// user carries the stored id.
func (s *UserStore) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if s == nil || s.db == nil {
		return domain.User{}, fmt.Errorf("user store not initialized")
	}
	id, err := requireID("user", user.ID)
	if err != nil {
		return domain.User{}, err
	}
	subject := strings.TrimSpace(user.Subject)
	if subject == "" {
		return domain.User{}, fmt.Errorf("subject is required")
	}
	username := strings.TrimSpace(user.Username)
	if username == "" {
		username = subject
	}
	seen := user.LastSeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	out, err := scanUser(s.db.QueryRowContext(
		ctx,
		upsertUserQuery,
		id,
		subject,
		username,
		nullIfEmpty(user.Email),
		user.IsStaff,
		nullIfEmpty(user.OrgID),
		nullIfEmpty(user.OrgType),
		nullIfEmpty(user.OrgName),
		nullIfEmpty(user.InstanceURL),
		user.IsProductionOrg,
		seen.UTC(),
	))
	if err != nil {
		return domain.User{}, writeErr("upsert user", err)
	}
	return out, nil
}

func (s *UserStore) Get(ctx context.Context, id string) (domain.User, error) {
	if s == nil || s.db == nil {
		return domain.User{}, fmt.Errorf("user store not initialized")
	}
	id, err := requireID("user", id)
	if err != nil {
		return domain.User{}, err
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return domain.User{}, handleNotFound(err)
	}
	return u, nil
}
