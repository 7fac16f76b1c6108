// Package preflights starts preflight checks and reports their results.
package preflights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/queue"
	"github.com/metadeploy/metadeploy-go/internal/repo"
	"github.com/metadeploy/metadeploy-go/internal/service/catalog"
)

type PlanResolver interface {
	ResolvePlan(ctx context.Context, viewer domain.Viewer, planID string) (catalog.PlanContext, error)
}

type Service struct {
	logger     *slog.Logger
	plans      PlanResolver
	preflights repo.PreflightRepository
	queue      queue.Enqueuer
	audit      repo.AuditEventAppender
	now        func() time.Time
}

func New(logger *slog.Logger, plans PlanResolver, preflights repo.PreflightRepository, q queue.Enqueuer, audit repo.AuditEventAppender) (*Service, error) {
	if plans == nil || preflights == nil || q == nil {
		return nil, errors.New("preflights service dependencies are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, plans: plans, preflights: preflights, queue: q, audit: audit, now: time.Now}, nil
}

// Create starts a new preflight for the requester's org and invalidates the
// earlier ones for the same plan, user and org.
func (s *Service) Create(ctx context.Context, req domain.Requester, planID string) (domain.PreflightResult, error) {
	var verr domain.ValidationError
	if !req.Authenticated() {
		return domain.PreflightResult{}, domain.ErrForbidden
	}
	if strings.TrimSpace(req.OrgID) == "" {
		verr.AddNonField("No org connected.")
		return domain.PreflightResult{}, &verr
	}
	pc, err := s.plans.ResolvePlan(ctx, req.Viewer, planID)
	if err != nil {
		return domain.PreflightResult{}, err
	}
	if !pc.Allowed {
		verr.AddNonField(domain.MsgNotAllowed)
		return domain.PreflightResult{}, &verr
	}
	if _, err := s.preflights.InvalidatePrevious(ctx, pc.Plan.ID, req.UserID, req.OrgID); err != nil {
		return domain.PreflightResult{}, fmt.Errorf("invalidate preflights: %w", err)
	}
	now := s.now().UTC()
	preflight := domain.PreflightResult{
		ID:              uuid.NewString(),
		PlanID:          pc.Plan.ID,
		UserID:          req.UserID,
		OrgID:           req.OrgID,
		OrganizationURL: req.InstanceURL,
		Status:          domain.PreflightStarted,
		IsValid:         true,
		Results:         domain.Results{},
		CreatedAt:       now,
		EditedAt:        now,
	}
	if err := s.preflights.Create(ctx, preflight); err != nil {
		return domain.PreflightResult{}, err
	}
	if err := s.queue.Enqueue(ctx, queue.Task{Kind: queue.KindPreflight, ID: preflight.ID, RequestID: req.RequestID, EnqueuedAt: now}); err != nil {
		preflight.Status = domain.PreflightFailed
		preflight.Exception = "enqueue failed"
		preflight.EditedAt = s.now().UTC()
		if uerr := s.preflights.Update(ctx, preflight); uerr != nil {
			s.logger.Error("preflight enqueue rollback failed", "preflight_id", preflight.ID, "error", uerr)
		}
		return domain.PreflightResult{}, fmt.Errorf("enqueue preflight: %w", err)
	}
	if s.audit != nil {
		if _, err := s.audit.Append(ctx, domain.AuditEvent{
			OccurredAt:   now,
			Actor:        req.UserID,
			Action:       "preflight.create",
			ResourceType: "preflight",
			ResourceID:   preflight.ID,
			OrgID:        preflight.OrgID,
			RequestID:    req.RequestID,
			IP:           req.IP,
			UserAgent:    req.UserAgent,
			Payload:      domain.Metadata{"plan_id": preflight.PlanID},
		}); err != nil {
			s.logger.Error("audit append failed", "action", "preflight.create", "error", err)
		}
	}
	return preflight, nil
}

// MostRecent returns the viewer's newest valid preflight for the plan.
func (s *Service) MostRecent(ctx context.Context, viewer domain.Viewer, planID string) (domain.PreflightResult, error) {
	if !viewer.Authenticated() || strings.TrimSpace(viewer.OrgID) == "" {
		return domain.PreflightResult{}, repo.ErrNotFound
	}
	list, err := s.preflights.List(ctx, repo.PreflightFilter{PlanID: planID, UserID: viewer.UserID, OrgID: viewer.OrgID, Limit: 10})
	if err != nil {
		return domain.PreflightResult{}, err
	}
	for _, p := range list {
		if p.IsValid {
			return p, nil
		}
	}
	return domain.PreflightResult{}, repo.ErrNotFound
}

type PreflightView struct {
	ID              string         `json:"id"`
	Plan            string         `json:"plan"`
	OrgID           string         `json:"org_id"`
	OrganizationURL string         `json:"organization_url"`
	Status          string         `json:"status"`
	Results         domain.Results `json:"results"`
	IsValid         bool           `json:"is_valid"`
	IsReady         bool           `json:"is_ready"`
	ErrorCount      int            `json:"error_count"`
	WarningCount    int            `json:"warning_count"`
	Exception       *string        `json:"exception"`
	CreatedAt       time.Time      `json:"created_at"`
	EditedAt        time.Time      `json:"edited_at"`
}

func View(p domain.PreflightResult) PreflightView {
	view := PreflightView{
		ID:              p.ID,
		Plan:            p.PlanID,
		OrgID:           p.OrgID,
		OrganizationURL: p.OrganizationURL,
		Status:          string(p.Status),
		Results:         p.Results,
		IsValid:         p.IsValid,
		IsReady:         p.IsReady(),
		ErrorCount:      p.ErrorCount(),
		WarningCount:    p.WarningCount(),
		CreatedAt:       p.CreatedAt,
		EditedAt:        p.EditedAt,
	}
	if view.Results == nil {
		view.Results = domain.Results{}
	}
	if p.Exception != "" {
		exc := p.Exception
		view.Exception = &exc
	}
	return view
}
