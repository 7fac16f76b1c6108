package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

func TestBuildProductListQueryFilters(t *testing.T) {
	query, args := buildProductListQuery(repo.ProductFilter{RepoURL: " https://github.com/x/y ", ListedOnly: true, Limit: 5})
	require.Len(t, args, 2)
	require.Equal(t, "https://github.com/x/y", args[0])
	require.Contains(t, query, "p.repo_url = $1")
	require.Contains(t, query, "EXISTS (SELECT 1 FROM versions v")
	require.Contains(t, query, "ORDER BY c.order_key, p.order_key")
	require.Contains(t, query, "LIMIT $2")
}

func TestBuildPlanListQueryTier(t *testing.T) {
	query, args := buildPlanListQuery(repo.PlanFilter{VersionID: "v1", Tier: domain.TierPrimary})
	require.Equal(t, []any{"v1", "primary"}, args)
	require.Contains(t, query, "version_id = $1")
	require.Contains(t, query, "tier = $2")
}

func TestBuildJobListQueryVisibleTo(t *testing.T) {
	query, args := buildJobListQuery(repo.JobFilter{PlanID: "p1", VisibleTo: "u1", Limit: 10, Offset: 20})
	require.Equal(t, []any{"p1", "u1", 10, 20}, args)
	require.Contains(t, query, "(is_public OR user_id = $2)")
	require.Contains(t, query, "LIMIT $3")
	require.Contains(t, query, "OFFSET $4")
}

func TestBuildPlanListQueryPages(t *testing.T) {
	query, args := buildPlanListQuery(repo.PlanFilter{VersionID: "v1", Limit: 25, Offset: 50})
	require.Equal(t, []any{"v1", 25, 50}, args)
	require.True(t, strings.HasSuffix(query, "ORDER BY order_key, created_at LIMIT $2 OFFSET $3"), query)
}

func TestJobStoreCountUsesListFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM jobs WHERE plan_id = $1 AND status = $2`)).
		WithArgs("p1", "failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(742))

	n, err := NewJobStore(db).Count(context.Background(), repo.JobFilter{PlanID: "p1", Status: domain.JobFailed, Limit: 100, Offset: 600})
	require.NoError(t, err)
	require.Equal(t, 742, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVersionStoreCountWithoutFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM versions`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := NewVersionStore(db).Count(context.Background(), repo.VersionFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildPreflightListQuery(t *testing.T) {
	query, args := buildPreflightListQuery(repo.PreflightFilter{OrgID: "00D000000000001", Status: domain.PreflightStarted})
	require.Equal(t, []any{"00D000000000001", "started"}, args)
	require.Contains(t, query, "org_id = $1")
	require.Contains(t, query, "status = $2")
}

func TestBuildTranslationUpsert(t *testing.T) {
	query := buildTranslationUpsert(translationTables[repo.TranslatePlan])
	require.Contains(t, query, "INSERT INTO plan_translations (language_code, master_id, title, preflight_message, post_install_message)")
	require.Contains(t, query, "VALUES ($1,$2,$3,$4,$5)")
	require.Contains(t, query, "ON CONFLICT (language_code, master_id)")
}

func TestMostRecentPreflightQueryOrdersNewestFirst(t *testing.T) {
	require.True(t, strings.Contains(mostRecentPreflightQuery, "status = 'complete'"))
	require.True(t, strings.Contains(mostRecentPreflightQuery, "ORDER BY created_at DESC"))
}

var jobColumns = []string{
	"id", "plan_id", "user_id", "org_id", "org_type", "org_name", "organization_url", "instance_url",
	"is_production_org", "step_ids", "results", "status", "is_public", "exception", "error_message",
	"canceled_at", "enqueued_at", "created_at", "edited_at",
}

func TestJobStorePendingForOrg(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(pendingJobQuery)).
		WithArgs("00D000000000001").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"job-1", "plan-1", "user-1", "00D000000000001", "Developer", "Acme", "https://acme.example", "https://acme.example",
			false, []byte(`["s1","s2"]`), []byte(`{"s1":[{"status":"ok"}]}`), "started", false, nil, nil,
			nil, now, now, now,
		))

	store := NewJobStore(db)
	job, err := store.PendingForOrg(context.Background(), " 00D000000000001 ")
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, domain.JobStarted, job.Status)
	require.Equal(t, []string{"s1", "s2"}, job.StepIDs)
	require.Equal(t, domain.ResultOK, job.Results["s1"][0].Status)
	require.NotNil(t, job.EnqueuedAt)
	require.Nil(t, job.CanceledAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStorePendingForOrgNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(pendingJobQuery)).
		WithArgs("00D000000000001").
		WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err = NewJobStore(db).PendingForOrg(context.Background(), "00D000000000001")
	require.True(t, errors.Is(err, repo.ErrNotFound), "err=%v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreFailStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(failStaleJobsQuery)).
		WithArgs(cutoff, "timed out", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewJobStore(db).FailStale(context.Background(), cutoff, "timed out")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateResultsLeavesStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	edited := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(updateJobResultsQuery)).
		WithArgs("job-1", []byte(`{"s1":[{"status":"ok"}]}`), edited).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewJobStore(db).UpdateResults(context.Background(), "job-1", domain.Results{"s1": {{Status: domain.ResultOK}}}, edited)
	require.NoError(t, err)
	require.NotContains(t, updateJobResultsQuery, "status")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreSetPublicMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(setJobPublicQuery)).WillReturnResult(sqlmock.NewResult(0, 0))
	err = NewJobStore(db).SetPublic(context.Background(), "job-x", true, time.Now())
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestJobStoreTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(transitionJobQuery)).
		WithArgs("job-1", "started", "canceled", nil, nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewJobStore(db).Transition(context.Background(), "job-1", domain.JobStarted, repo.JobTransition{
		Status: domain.JobCanceled, CanceledAt: &now, EditedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreTransitionStatusChanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(transitionJobQuery)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(jobExistsQuery)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err = NewJobStore(db).Transition(context.Background(), "job-1", domain.JobStarted, repo.JobTransition{Status: domain.JobComplete})
	require.ErrorIs(t, err, repo.ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreTransitionMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(transitionJobQuery)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(jobExistsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = NewJobStore(db).Transition(context.Background(), "job-x", domain.JobStarted, repo.JobTransition{Status: domain.JobFailed})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestPreflightStoreMostRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(mostRecentPreflightQuery)).
		WithArgs("plan-1", "user-1", "00D000000000001").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "plan_id", "user_id", "org_id", "organization_url", "status", "is_valid", "results", "exception", "created_at", "edited_at",
		}).AddRow("pf-2", "plan-1", "user-1", "00D000000000001", "", "complete", true, []byte(`{"s3":[{"status":"optional"}]}`), nil, now, now))

	pf, err := NewPreflightStore(db).MostRecent(context.Background(), "plan-1", "user-1", "00D000000000001")
	require.NoError(t, err)
	require.Equal(t, "pf-2", pf.ID)
	require.True(t, pf.IsReady())
	require.Equal(t, []string{"s3"}, pf.OptionalStepIDs())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreUpsertRequiresSubject(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewUserStore(db).Upsert(context.Background(), domain.User{ID: "u1"})
	require.Error(t, err)
}

func TestPlanStoreCreateWritesStepsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	step := domain.NewStep()
	step.ID, step.Name, step.Path, step.StepNum = "step-1", "Install", "install_prod", "1"
	plan := domain.Plan{
		ID: "plan-1", VersionID: "v1", PlanTemplateID: "t1", Title: "Sample plan", Slug: "sample-plan",
		Tier: domain.TierPrimary, SupportedOrgs: domain.SupportedPersistent, IsListed: true,
		Steps: []domain.Step{step},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plans").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertStepQuery)).
		WithArgs("step-1", "plan-1", "Install", "", true, true, "metadata", "install_prod", "1", "", []byte(`{}`), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPlanStore(db).Create(context.Background(), plan))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanStoreCreateRollsBackOnStepFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	step := domain.NewStep()
	step.ID, step.Name, step.Path, step.StepNum = "step-1", "Install", "install_prod", "1"
	plan := domain.Plan{
		ID: "plan-1", VersionID: "v1", PlanTemplateID: "t1", Title: "Sample plan", Slug: "sample-plan",
		Tier: domain.TierPrimary, SupportedOrgs: domain.SupportedPersistent, Steps: []domain.Step{step},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plans").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO steps").WillReturnError(driver.ErrBadConn)
	mock.ExpectRollback()

	require.Error(t, NewPlanStore(db).Create(context.Background(), plan))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowedListStoreCreateOrgValidatesOrgID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = NewAllowedListStore(db).CreateOrg(context.Background(), domain.AllowedListOrg{ID: "o1", AllowedListID: "al1", OrgID: "bad"})
	require.Error(t, err)
}

func TestAuditAppenderInsertsAndExports(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO audit_events").WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow(int64(42)))

	exp := &recordingExporter{}
	appender := NewAuditAppender(db, exp)
	id, err := appender.Append(context.Background(), domain.AuditEvent{
		Actor: "user-1", Action: "job.create", ResourceType: "job", ResourceID: "job-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.Len(t, exp.events, 1)
	require.Equal(t, int64(42), exp.events[0].EventID)
	require.NotEmpty(t, exp.events[0].IntegritySHA256)
	require.NoError(t, mock.ExpectationsWereMet())
}

type recordingExporter struct {
	events []domain.AuditEvent
}

func (r *recordingExporter) Export(ctx context.Context, event domain.AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}
