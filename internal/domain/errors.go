package domain

import (
	"fmt"
	"sort"
	"strings"
)

const NonFieldKey = "non_field_errors"

// ValidationError collects request problems keyed by field, plus problems
// that belong to the request as a whole.
type ValidationError struct {
	FieldErrors    map[string][]string
	NonFieldErrors []string
}

func (e *ValidationError) AddField(field, msg string) {
	if e.FieldErrors == nil {
		e.FieldErrors = map[string][]string{}
	}
	e.FieldErrors[field] = append(e.FieldErrors[field], msg)
}

func (e *ValidationError) AddNonField(msg string) {
	e.NonFieldErrors = append(e.NonFieldErrors, msg)
}

func (e *ValidationError) Empty() bool {
	return e == nil || (len(e.FieldErrors) == 0 && len(e.NonFieldErrors) == 0)
}

func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.FieldErrors)+len(e.NonFieldErrors))
	parts = append(parts, e.NonFieldErrors...)
	fields := make([]string, 0, len(e.FieldErrors))
	for field := range e.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(e.FieldErrors[field], "; ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Body renders the error in the shape clients expect:
// {"non_field_errors": [...], "<field>": [...]}.
func (e *ValidationError) Body() map[string][]string {
	out := map[string][]string{}
	if e == nil {
		return out
	}
	for field, msgs := range e.FieldErrors {
		out[field] = append([]string(nil), msgs...)
	}
	if len(e.NonFieldErrors) > 0 {
		out[NonFieldKey] = append([]string(nil), e.NonFieldErrors...)
	}
	return out
}

func PendingJobMessage(jobID string) string {
	return fmt.Sprintf("Pending job %s exists. Please try again later, or cancel that job.", jobID)
}

const (
	MsgNotAllowed       = "You are not allowed to install this plan."
	MsgNoValidPreflight = "No valid preflight."
	MsgInvalidSteps     = "Invalid steps for plan."
	MsgStepsNotUpdated  = "Updating steps not supported."
)
