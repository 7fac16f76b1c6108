// Package checks evaluates preflight rules against a plan, its steps and the
// connected org.
package checks

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

const SpecSchemaV1 = "metadeploy.preflight.v1"

const (
	ScopePlan = "plan"
	ScopeStep = "step"
)

type Spec struct {
	Schema string `json:"schema" yaml:"schema"`
	Rules  []Rule `json:"rules" yaml:"rules"`
}

type Rule struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Scope       string         `json:"scope,omitempty" yaml:"scope,omitempty"`
	Effect      string         `json:"effect" yaml:"effect"`
	Message     string         `json:"message,omitempty" yaml:"message,omitempty"`
	When        ConditionGroup `json:"when" yaml:"when"`
}

type ConditionGroup struct {
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

type Condition struct {
	Field  string   `json:"field" yaml:"field"`
	Op     string   `json:"op" yaml:"op"`
	Value  string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

//go:embed default_rules.yaml
var defaultRules []byte

// Default returns the built-in rule set used when PREFLIGHT_RULES_FILE is unset.
func Default() Spec {
	spec, err := ParseSpec(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("default preflight rules: %v", err))
	}
	return spec
}

// LoadFile reads a rule spec from path, or returns Default when path is empty.
func LoadFile(path string) (Spec, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read preflight rules: %w", err)
	}
	return ParseSpec(raw)
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	if len(s.Rules) == 0 {
		return errors.New("spec.rules must be non-empty")
	}

	seen := make(map[string]struct{}, len(s.Rules))
	for i, rule := range s.Rules {
		ruleID := strings.TrimSpace(rule.ID)
		if ruleID == "" {
			return fmt.Errorf("spec.rules[%d].id is required", i)
		}
		if _, ok := seen[ruleID]; ok {
			return fmt.Errorf("spec.rules[%d].id must be unique (duplicate %q)", i, ruleID)
		}
		seen[ruleID] = struct{}{}

		switch normalizeScope(rule.Scope) {
		case ScopePlan, ScopeStep:
		default:
			return fmt.Errorf("spec.rules[%d].scope unsupported: %q", i, rule.Scope)
		}

		effect := normalizeString(rule.Effect)
		if effect == "" {
			return fmt.Errorf("spec.rules[%d].effect is required", i)
		}
		if !isEffectAllowed(effect) {
			return fmt.Errorf("spec.rules[%d].effect unsupported: %q", i, rule.Effect)
		}
		if normalizeScope(rule.Scope) == ScopePlan && effect != string(domain.ResultError) && effect != string(domain.ResultWarn) {
			return fmt.Errorf("spec.rules[%d].effect %q is not valid for plan scope", i, rule.Effect)
		}
		if effect == string(domain.ResultError) && strings.TrimSpace(rule.Message) == "" {
			return fmt.Errorf("spec.rules[%d].message is required for error", i)
		}

		if len(rule.When.All) == 0 && len(rule.When.Any) == 0 {
			return fmt.Errorf("spec.rules[%d].when must include all or any", i)
		}
		if err := validateConditions(rule.When.All, fmt.Sprintf("spec.rules[%d].when.all", i)); err != nil {
			return err
		}
		if err := validateConditions(rule.When.Any, fmt.Sprintf("spec.rules[%d].when.any", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateConditions(conds []Condition, prefix string) error {
	for i, cond := range conds {
		if strings.TrimSpace(cond.Field) == "" {
			return fmt.Errorf("%s[%d].field is required", prefix, i)
		}
		op := normalizeString(cond.Op)
		if op == "" {
			return fmt.Errorf("%s[%d].op is required", prefix, i)
		}
		if !isOpAllowed(op) {
			return fmt.Errorf("%s[%d].op unsupported: %q", prefix, i, cond.Op)
		}

		switch op {
		case "exists", "missing":
		case "in", "not_in":
			if len(trimNonEmpty(cond.Values)) == 0 {
				return fmt.Errorf("%s[%d].values must be non-empty for %s", prefix, i, op)
			}
		default:
			if strings.TrimSpace(cond.Value) == "" {
				return fmt.Errorf("%s[%d].value is required for %s", prefix, i, op)
			}
		}
	}
	return nil
}

func isEffectAllowed(effect string) bool {
	switch domain.ResultStatus(effect) {
	case domain.ResultError, domain.ResultWarn, domain.ResultSkip, domain.ResultOptional, domain.ResultHide:
		return true
	default:
		return false
	}
}

func isOpAllowed(op string) bool {
	switch op {
	case "eq", "neq", "in", "not_in", "contains", "matches", "exists", "missing", "gt", "gte", "lt", "lte":
		return true
	default:
		return false
	}
}

func normalizeScope(scope string) string {
	scope = normalizeString(scope)
	if scope == "" {
		return ScopeStep
	}
	return scope
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, item := range values {
		v := normalizeString(item)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
