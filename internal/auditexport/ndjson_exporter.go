package auditexport

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

// NDJSONExporter writes audit events as newline-delimited JSON. It is safe
// for concurrent use.
type NDJSONExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONExporter{enc: enc}
}

func (e *NDJSONExporter) Export(ctx context.Context, event domain.AuditEvent) error {
	line := exportEventFromDomain(event)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(line)
}

type exportEvent struct {
	EventID         int64           `json:"event_id"`
	OccurredAt      string          `json:"occurred_at"`
	Actor           string          `json:"actor"`
	Action          string          `json:"action"`
	ResourceType    string          `json:"resource_type"`
	ResourceID      string          `json:"resource_id"`
	OrgID           string          `json:"org_id,omitempty"`
	RequestID       string          `json:"request_id,omitempty"`
	IP              string          `json:"ip,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256,omitempty"`
}

func exportEventFromDomain(event domain.AuditEvent) exportEvent {
	payload := event.Payload
	if payload == nil {
		payload = domain.Metadata{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return exportEvent{
		EventID:         event.EventID,
		OccurredAt:      event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Actor:           event.Actor,
		Action:          event.Action,
		ResourceType:    event.ResourceType,
		ResourceID:      event.ResourceID,
		OrgID:           event.OrgID,
		RequestID:       event.RequestID,
		IP:              ipString(event.IP),
		UserAgent:       event.UserAgent,
		Payload:         raw,
		IntegritySHA256: event.IntegritySHA256,
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
