package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/auditexport"
	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/auditlog"
)

type AuditAppender struct {
	db       auditlog.QueryRower
	exporter auditexport.Exporter
	now      func() time.Time
}

func NewAuditAppender(db auditlog.QueryRower, exporter auditexport.Exporter) *AuditAppender {
	if db == nil {
		return nil
	}
	if exporter == nil {
		exporter = auditexport.NoopExporter{}
	}
	return &AuditAppender{db: db, exporter: exporter, now: time.Now}
}

func (a *AuditAppender) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	if a == nil || a.db == nil {
		return 0, errors.New("audit appender not initialized")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now().UTC()
	}
	if event.Payload == nil {
		event.Payload = domain.Metadata{}
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}
	logged := auditlog.Event{
		OccurredAt:   event.OccurredAt,
		Actor:        event.Actor,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		OrgID:        event.OrgID,
		RequestID:    event.RequestID,
		IP:           event.IP,
		UserAgent:    event.UserAgent,
		Payload:      event.Payload,
	}
	rec, err := auditlog.Insert(ctx, a.db, logged)
	if err != nil {
		return 0, fmt.Errorf("append audit event: %w", err)
	}
	event.EventID = rec.EventID
	event.IntegritySHA256 = rec.IntegritySHA256
	if err := a.exporter.Export(ctx, event); err != nil {
		return rec.EventID, fmt.Errorf("export audit event: %w", err)
	}
	return rec.EventID, nil
}
