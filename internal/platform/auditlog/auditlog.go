// Package auditlog writes tamper-evident rows to the audit_events table.
package auditlog

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	// OrgID scopes the event to a Salesforce org; empty for anonymous
	// or staff-wide actions.
	OrgID     string
	RequestID string
	IP        net.IP
	UserAgent string
	Payload   any
}

// Record is what the database assigned to an inserted event.
type Record struct {
	EventID         int64
	IntegritySHA256 string
}

var ErrIntegrityMismatch = errors.New("audit event integrity mismatch")

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertEventQuery = `INSERT INTO audit_events (
	occurred_at, actor, action, resource_type, resource_id, org_id,
	request_id, ip, user_agent, payload, integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING event_id`

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return errors.New("ResourceType is required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("ResourceID is required")
	}
	return nil
}

// Insert validates the event, seals it with an integrity hash and stores it.
func Insert(ctx context.Context, q QueryRower, event Event) (Record, error) {
	if q == nil {
		return Record{}, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return Record{}, err
	}

	payloadJSON, err := marshalPayload(event.Payload)
	if err != nil {
		return Record{}, err
	}
	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return Record{}, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		insertEventQuery,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Actor),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.ResourceType),
		strings.TrimSpace(event.ResourceID),
		nullTrimmed(event.OrgID),
		nullTrimmed(event.RequestID),
		nullTrimmed(ipString(event.IP)),
		nullTrimmed(event.UserAgent),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return Record{}, fmt.Errorf("insert audit event: %w", err)
	}
	return Record{EventID: id, IntegritySHA256: integrity}, nil
}

// Verify recomputes the hash of a stored event and compares it with want.
func Verify(event Event, want string) error {
	payloadJSON, err := marshalPayload(event.Payload)
	if err != nil {
		return err
	}
	got, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(strings.TrimSpace(want))) != 1 {
		return ErrIntegrityMismatch
	}
	return nil
}

func marshalPayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return []byte("{}"), nil
		}
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		Actor        string          `json:"actor"`
		Action       string          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		OrgID        string          `json:"org_id,omitempty"`
		RequestID    string          `json:"request_id,omitempty"`
		IP           string          `json:"ip,omitempty"`
		UserAgent    string          `json:"user_agent,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}

	blob, err := json.Marshal(integrityInput{
		OccurredAt:   event.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		OrgID:        strings.TrimSpace(event.OrgID),
		RequestID:    strings.TrimSpace(event.RequestID),
		IP:           ipString(event.IP),
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Payload:      payloadJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return strings.TrimSpace(ip.String())
}

func nullTrimmed(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
