package repo

import (
	"context"
	"errors"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a write rejected by a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrStatusChanged reports a conditional transition whose row had
	// already left the expected status.
	ErrStatusChanged = errors.New("status changed")
)

type ProductFilter struct {
	RepoURL    string
	CategoryID string
	Slug       string
	ListedOnly bool
	Limit      int
	Offset     int
}

type VersionFilter struct {
	ProductID  string
	Label      string
	ListedOnly bool
	Limit      int
	Offset     int
}

type PlanFilter struct {
	VersionID  string
	Slug       string
	Tier       domain.Tier
	ListedOnly bool
	Limit      int
	Offset     int
}

type PreflightFilter struct {
	PlanID string
	UserID string
	OrgID  string
	Status domain.PreflightStatus
	Limit  int
	Offset int
}

type JobFilter struct {
	PlanID string
	UserID string
	OrgID  string
	Status domain.JobStatus
	// VisibleTo limits results to public jobs plus jobs owned by this user.
	VisibleTo  string
	PublicOnly bool
	Limit      int
	Offset     int
}

type CategoryRepository interface {
	Create(ctx context.Context, category domain.ProductCategory) error
	Get(ctx context.Context, id string) (domain.ProductCategory, error)
	List(ctx context.Context) ([]domain.ProductCategory, error)
	Update(ctx context.Context, category domain.ProductCategory) error
}

type AllowedListRepository interface {
	CreateList(ctx context.Context, list domain.AllowedList) error
	GetList(ctx context.Context, id string) (domain.AllowedList, error)
	ListLists(ctx context.Context) ([]domain.AllowedList, error)
	UpdateList(ctx context.Context, list domain.AllowedList) error

	CreateOrg(ctx context.Context, org domain.AllowedListOrg) error
	GetOrg(ctx context.Context, id string) (domain.AllowedListOrg, error)
	ListOrgs(ctx context.Context, listID string) ([]domain.AllowedListOrg, error)
	OrgIDsFor(ctx context.Context, listID string) ([]string, error)
}

type ProductRepository interface {
	Create(ctx context.Context, product domain.Product) error
	Get(ctx context.Context, id string) (domain.Product, error)
	List(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	Count(ctx context.Context, filter ProductFilter) (int, error)
	Update(ctx context.Context, product domain.Product) error
	SetImage(ctx context.Context, id, image string) error
}

type VersionRepository interface {
	Create(ctx context.Context, version domain.Version) error
	Get(ctx context.Context, id string) (domain.Version, error)
	List(ctx context.Context, filter VersionFilter) ([]domain.Version, error)
	Count(ctx context.Context, filter VersionFilter) (int, error)
	Update(ctx context.Context, version domain.Version) error
	// MostRecent returns the newest listed version of a product.
	MostRecent(ctx context.Context, productID string) (domain.Version, error)
}

type PlanTemplateRepository interface {
	Create(ctx context.Context, template domain.PlanTemplate) error
	Get(ctx context.Context, id string) (domain.PlanTemplate, error)
	List(ctx context.Context, productID string) ([]domain.PlanTemplate, error)
	Update(ctx context.Context, template domain.PlanTemplate) error
}

// PlanRepository stores plans with their steps. Steps are written only on
// Create.
type PlanRepository interface {
	Create(ctx context.Context, plan domain.Plan) error
	Get(ctx context.Context, id string) (domain.Plan, error)
	List(ctx context.Context, filter PlanFilter) ([]domain.Plan, error)
	Count(ctx context.Context, filter PlanFilter) (int, error)
	Update(ctx context.Context, plan domain.Plan) error
}

type UserRepository interface {
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	Get(ctx context.Context, id string) (domain.User, error)
}

type PreflightRepository interface {
	Create(ctx context.Context, preflight domain.PreflightResult) error
	Get(ctx context.Context, id string) (domain.PreflightResult, error)
	List(ctx context.Context, filter PreflightFilter) ([]domain.PreflightResult, error)
	Count(ctx context.Context, filter PreflightFilter) (int, error)
	Update(ctx context.Context, preflight domain.PreflightResult) error
	// MostRecent returns the newest valid preflight for the plan, user and org.
	MostRecent(ctx context.Context, planID, userID, orgID string) (domain.PreflightResult, error)
	// CurrentForOrg returns the newest started preflight for an org.
	CurrentForOrg(ctx context.Context, orgID string) (domain.PreflightResult, error)
	InvalidatePrevious(ctx context.Context, planID, userID, orgID string) (int64, error)
	InvalidateOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type JobRepository interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	Count(ctx context.Context, filter JobFilter) (int, error)
	// UpdateResults replaces the step results without touching status.
	UpdateResults(ctx context.Context, id string, results domain.Results, editedAt time.Time) error
	SetPublic(ctx context.Context, id string, isPublic bool, editedAt time.Time) error
	// Transition moves a job from one status to another. It returns
	// ErrStatusChanged when the job is no longer in from.
	Transition(ctx context.Context, id string, from domain.JobStatus, to JobTransition) error
	// PendingForOrg returns the started job for an org, or ErrNotFound.
	PendingForOrg(ctx context.Context, orgID string) (domain.Job, error)
	FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

// JobTransition is a status change plus the columns that go with it. Empty
// fields keep their stored values.
type JobTransition struct {
	Status       domain.JobStatus
	Exception    string
	ErrorMessage string
	CanceledAt   *time.Time
	EditedAt     time.Time
}

type TranslationKind string

const (
	TranslateProduct TranslationKind = "product"
	TranslateVersion TranslationKind = "version"
	TranslatePlan    TranslationKind = "plan"
	TranslateStep    TranslationKind = "step"
)

type TranslationRepository interface {
	Upsert(ctx context.Context, kind TranslationKind, tr domain.Translation) error
	// Lookup returns translations for masterIDs in lang, falling back to the
	// default language per master row.
	Lookup(ctx context.Context, kind TranslationKind, lang string, masterIDs []string) (map[string]domain.Translation, error)
}

type AuditEventAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}
