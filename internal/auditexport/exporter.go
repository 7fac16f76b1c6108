package auditexport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

// Exporter sends audit events to external systems.
type Exporter interface {
	Export(ctx context.Context, event domain.AuditEvent) error
}

// NoopExporter drops events.
type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, event domain.AuditEvent) error {
	return nil
}

// ActionFilter forwards only events whose action starts with one of Prefixes.
type ActionFilter struct {
	Next     Exporter
	Prefixes []string
}

func (f ActionFilter) Export(ctx context.Context, event domain.AuditEvent) error {
	for _, p := range f.Prefixes {
		if strings.HasPrefix(event.Action, p) {
			return f.Next.Export(ctx, event)
		}
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the exporter described by cfg. The returned closer releases
// any file the exporter writes to.
func Open(cfg Config) (Exporter, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	var (
		exp    Exporter
		closer io.Closer = nopCloser{}
	)
	switch cfg.destination() {
	case DestinationStdout:
		exp = NewNDJSONExporter(os.Stdout)
	case DestinationFile:
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit export file: %w", err)
		}
		exp, closer = NewNDJSONExporter(f), f
	default:
		return NoopExporter{}, closer, nil
	}
	if len(cfg.ActionPrefixes) > 0 {
		exp = ActionFilter{Next: exp, Prefixes: cfg.ActionPrefixes}
	}
	return exp, closer, nil
}
