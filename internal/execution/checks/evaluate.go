package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

// PlanResultKey holds plan-wide results in a preflight's results map.
const PlanResultKey = "plan"

type Context struct {
	Org  OrgContext     `json:"org"`
	Plan PlanContext    `json:"plan"`
	Step *StepContext   `json:"step,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

type OrgContext struct {
	ID           string `json:"id"`
	Type         string `json:"type,omitempty"`
	IsProduction bool   `json:"is_production"`
	IsScratch    bool   `json:"is_scratch"`
}

type PlanContext struct {
	Slug          string `json:"slug"`
	Tier          string `json:"tier"`
	SupportedOrgs string `json:"supported_orgs,omitempty"`
}

type StepContext struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Path       string `json:"path"`
	TaskClass  string `json:"task_class,omitempty"`
	IsRequired bool   `json:"is_required"`
}

type Decision struct {
	Effect      domain.ResultStatus `json:"effect"`
	RuleID      string              `json:"rule_id"`
	Description string              `json:"description,omitempty"`
	Message     string              `json:"message,omitempty"`
}

// Evaluate returns the first rule matching ctx. Step-scoped rules are only
// considered when ctx carries a step, plan-scoped rules only when it does not.
func Evaluate(spec Spec, ctx Context) (Decision, bool) {
	scope := ScopePlan
	if ctx.Step != nil {
		scope = ScopeStep
	}
	for _, rule := range spec.Rules {
		if normalizeScope(rule.Scope) != scope {
			continue
		}
		if ruleMatches(rule, ctx) {
			return Decision{
				Effect:      domain.ResultStatus(normalizeString(rule.Effect)),
				RuleID:      strings.TrimSpace(rule.ID),
				Description: strings.TrimSpace(rule.Description),
				Message:     strings.TrimSpace(rule.Message),
			}, true
		}
	}
	return Decision{}, false
}

// EvaluatePlan runs the plan-scoped rules once and the step-scoped rules for
// every step. Steps without a matching rule have no entry.
func EvaluatePlan(spec Spec, plan domain.Plan, org OrgContext, meta map[string]any) domain.Results {
	base := Context{
		Org: org,
		Plan: PlanContext{
			Slug:          plan.Slug,
			Tier:          string(plan.Tier),
			SupportedOrgs: string(plan.SupportedOrgs),
		},
		Meta: meta,
	}

	results := domain.Results{}
	if decision, ok := Evaluate(spec, base); ok {
		results[PlanResultKey] = append(results[PlanResultKey], decision.result())
	}
	for _, step := range plan.Steps {
		ctx := base
		ctx.Step = &StepContext{
			ID:         step.ID,
			Name:       step.Name,
			Kind:       string(step.Kind),
			Path:       step.Path,
			TaskClass:  step.TaskClass,
			IsRequired: step.IsRequired,
		}
		if decision, ok := Evaluate(spec, ctx); ok {
			results[step.ID] = append(results[step.ID], decision.result())
		}
	}
	return results
}

func (d Decision) result() domain.StepResult {
	return domain.StepResult{Status: d.Effect, Message: d.Message}
}

func ruleMatches(rule Rule, ctx Context) bool {
	for _, cond := range rule.When.All {
		if !conditionMatches(cond, ctx) {
			return false
		}
	}
	if len(rule.When.Any) > 0 {
		for _, cond := range rule.When.Any {
			if conditionMatches(cond, ctx) {
				return true
			}
		}
		return false
	}
	return true
}

func conditionMatches(cond Condition, ctx Context) bool {
	value, ok := ctx.Field(cond.Field)
	op := normalizeString(cond.Op)
	if op == "missing" {
		return !ok
	}
	if !ok {
		return false
	}
	switch op {
	case "exists":
		return true
	case "eq":
		return compareEqual(value, cond.Value)
	case "neq":
		return !compareEqual(value, cond.Value)
	case "in":
		return compareIn(value, cond.Values)
	case "not_in":
		return !compareIn(value, cond.Values)
	case "contains":
		return strings.Contains(normalizeString(fmt.Sprint(value)), normalizeString(cond.Value))
	case "matches":
		return compareRegex(value, cond.Value)
	case "gt", "gte", "lt", "lte":
		return compareNumber(value, cond.Value, op)
	default:
		return false
	}
}

// Field resolves a dotted field name. Booleans always resolve; strings
// resolve only when non-empty.
func (c Context) Field(name string) (any, bool) {
	key := normalizeString(name)
	switch key {
	case "org.id":
		return nonEmpty(c.Org.ID)
	case "org.type":
		return nonEmpty(c.Org.Type)
	case "org.is_production":
		return c.Org.IsProduction, true
	case "org.is_scratch":
		return c.Org.IsScratch, true
	case "plan.slug":
		return nonEmpty(c.Plan.Slug)
	case "plan.tier":
		return nonEmpty(c.Plan.Tier)
	case "plan.supported_orgs":
		return nonEmpty(c.Plan.SupportedOrgs)
	}
	if strings.HasPrefix(key, "step.") {
		if c.Step == nil {
			return nil, false
		}
		switch strings.TrimPrefix(key, "step.") {
		case "id":
			return nonEmpty(c.Step.ID)
		case "name":
			return nonEmpty(c.Step.Name)
		case "kind":
			return nonEmpty(c.Step.Kind)
		case "path":
			return nonEmpty(c.Step.Path)
		case "task_class":
			return nonEmpty(c.Step.TaskClass)
		case "is_required":
			return c.Step.IsRequired, true
		}
		return nil, false
	}
	if strings.HasPrefix(key, "meta.") {
		return resolveMapPath(c.Meta, strings.TrimPrefix(key, "meta."))
	}
	return nil, false
}

func nonEmpty(value string) (any, bool) {
	return value, strings.TrimSpace(value) != ""
}

func resolveMapPath(root map[string]any, path string) (any, bool) {
	if len(root) == 0 {
		return nil, false
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	var current any = root
	for _, part := range strings.Split(path, ".") {
		key := strings.TrimSpace(part)
		if key == "" {
			return nil, false
		}
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[key]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(key)
			if err != nil || index < 0 || index >= len(typed) {
				return nil, false
			}
			current = typed[index]
		default:
			return nil, false
		}
	}
	return current, true
}

func compareEqual(value any, target string) bool {
	target = normalizeString(target)
	switch typed := value.(type) {
	case []string:
		for _, item := range typed {
			if normalizeString(item) == target {
				return true
			}
		}
		return false
	case []any:
		for _, item := range typed {
			if normalizeString(fmt.Sprint(item)) == target {
				return true
			}
		}
		return false
	default:
		return normalizeString(fmt.Sprint(value)) == target
	}
}

func compareIn(value any, targets []string) bool {
	normalized := trimNonEmpty(targets)
	if len(normalized) == 0 {
		return false
	}
	switch typed := value.(type) {
	case []string:
		for _, item := range typed {
			if sliceContains(normalized, normalizeString(item)) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range typed {
			if sliceContains(normalized, normalizeString(fmt.Sprint(item))) {
				return true
			}
		}
		return false
	default:
		return sliceContains(normalized, normalizeString(fmt.Sprint(value)))
	}
}

func compareRegex(value any, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(fmt.Sprint(value))
}

func compareNumber(value any, target string, op string) bool {
	left, ok := toFloat64(value)
	if !ok {
		return false
	}
	right, ok := parseFloat(target)
	if !ok {
		return false
	}
	switch op {
	case "gt":
		return left > right
	case "gte":
		return left >= right
	case "lt":
		return left < right
	case "lte":
		return left <= right
	default:
		return false
	}
}

func toFloat64(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		return parseFloat(typed)
	default:
		return parseFloat(fmt.Sprint(typed))
	}
}

func parseFloat(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func sliceContains(values []string, target string) bool {
	for _, item := range values {
		if item == target {
			return true
		}
	}
	return false
}

func normalizeString(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
