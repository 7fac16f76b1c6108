// Package requestid assigns and propagates the id that ties log lines, error
// bodies and audit rows to a single request.
package requestid

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Header carries the id in both directions.
const Header = "X-Request-Id"

const maxLen = 64

type ctxKey struct{}

// New returns a random 32 character hex identifier.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(id[:]), nil
}

// Valid reports whether an inbound id is safe to echo into headers and logs.
func Valid(id string) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// FromRequest returns the caller's id when it is valid and a fresh one
// otherwise. ok is false only when no id could be produced.
func FromRequest(r *http.Request) (id string, ok bool) {
	if v := strings.TrimSpace(r.Header.Get(Header)); Valid(v) {
		return v, true
	}
	id, err := New()
	if err != nil {
		return "", false
	}
	return id, true
}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok && v != ""
}
