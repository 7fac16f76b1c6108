package checks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

func TestSpecValidate(t *testing.T) {
	spec := Spec{
		Schema: SpecSchemaV1,
		Rules: []Rule{
			{
				ID:     "warn-data",
				Effect: "warn",
				When: ConditionGroup{
					All: []Condition{{Field: "step.kind", Op: "eq", Value: "data"}},
				},
			},
		},
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := spec
	invalid.Schema = "bad"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected schema error")
	}

	noMessage := Spec{Schema: SpecSchemaV1, Rules: []Rule{{
		ID:     "err",
		Effect: "error",
		When:   ConditionGroup{All: []Condition{{Field: "org.id", Op: "exists"}}},
	}}}
	if err := noMessage.Validate(); err == nil {
		t.Fatalf("expected message error")
	}

	planSkip := Spec{Schema: SpecSchemaV1, Rules: []Rule{{
		ID:     "skip-plan",
		Scope:  ScopePlan,
		Effect: "skip",
		When:   ConditionGroup{All: []Condition{{Field: "org.id", Op: "exists"}}},
	}}}
	if err := planSkip.Validate(); err == nil {
		t.Fatalf("expected plan scope effect error")
	}

	badOp := Spec{Schema: SpecSchemaV1, Rules: []Rule{{
		ID:     "bad-op",
		Effect: "warn",
		When:   ConditionGroup{All: []Condition{{Field: "org.id", Op: "like", Value: "x"}}},
	}}}
	if err := badOp.Validate(); err == nil {
		t.Fatalf("expected op error")
	}
}

func TestDefaultRulesParse(t *testing.T) {
	spec := Default()
	if len(spec.Rules) == 0 {
		t.Fatalf("expected default rules")
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	spec := Spec{
		Schema: SpecSchemaV1,
		Rules: []Rule{
			{
				ID:      "hide-sample",
				Effect:  "hide",
				Message: "hidden",
				When: ConditionGroup{
					All: []Condition{{Field: "step.path", Op: "contains", Value: "sample"}},
				},
			},
			{
				ID:     "optional-unrequired",
				Effect: "optional",
				When: ConditionGroup{
					All: []Condition{{Field: "step.is_required", Op: "eq", Value: "false"}},
				},
			},
		},
	}

	decision, ok := Evaluate(spec, Context{Step: &StepContext{Path: "tasks.load_sample", IsRequired: false}})
	if !ok {
		t.Fatalf("expected a match")
	}
	if decision.RuleID != "hide-sample" || decision.Effect != domain.ResultHide {
		t.Fatalf("decision=%+v, want hide-sample/hide", decision)
	}

	decision, ok = Evaluate(spec, Context{Step: &StepContext{Path: "tasks.deploy", IsRequired: false}})
	if !ok || decision.Effect != domain.ResultOptional {
		t.Fatalf("decision=%+v ok=%v, want optional", decision, ok)
	}

	if _, ok := Evaluate(spec, Context{Step: &StepContext{Path: "tasks.deploy", IsRequired: true}}); ok {
		t.Fatalf("expected no match for required step")
	}
}

func TestEvaluateScopes(t *testing.T) {
	spec := Spec{
		Schema: SpecSchemaV1,
		Rules: []Rule{
			{
				ID:      "prod-plan",
				Scope:   ScopePlan,
				Effect:  "error",
				Message: "Production orgs are not supported.",
				When: ConditionGroup{
					All: []Condition{{Field: "org.is_production", Op: "eq", Value: "true"}},
				},
			},
		},
	}
	ctx := Context{Org: OrgContext{IsProduction: true}}
	if _, ok := Evaluate(spec, ctx); !ok {
		t.Fatalf("expected plan rule to match")
	}
	ctx.Step = &StepContext{ID: "s1"}
	if _, ok := Evaluate(spec, ctx); ok {
		t.Fatalf("plan rule must not match a step context")
	}
}

func TestEvaluateAnyAndIn(t *testing.T) {
	spec := Spec{
		Schema: SpecSchemaV1,
		Rules: []Rule{
			{
				ID:     "edition",
				Effect: "warn",
				When: ConditionGroup{
					Any: []Condition{
						{Field: "org.type", Op: "in", Values: []string{"Developer Edition", "Enterprise Edition"}},
						{Field: "meta.flags.beta", Op: "eq", Value: "true"},
					},
				},
			},
		},
	}
	step := &StepContext{ID: "s1"}

	if _, ok := Evaluate(spec, Context{Org: OrgContext{Type: "developer edition"}, Step: step}); !ok {
		t.Fatalf("expected org type match")
	}
	meta := map[string]any{"flags": map[string]any{"beta": true}}
	if _, ok := Evaluate(spec, Context{Org: OrgContext{Type: "Unlimited"}, Step: step, Meta: meta}); !ok {
		t.Fatalf("expected meta match")
	}
	if _, ok := Evaluate(spec, Context{Org: OrgContext{Type: "Unlimited"}, Step: step}); ok {
		t.Fatalf("expected no match")
	}
}

func TestEvaluatePlanResults(t *testing.T) {
	plan := domain.Plan{
		Slug:          "install",
		Tier:          domain.TierPrimary,
		SupportedOrgs: domain.SupportedScratch,
		Steps: []domain.Step{
			{ID: "s1", Kind: domain.KindMetadata, Path: "deploy", IsRequired: true},
			{ID: "s2", Kind: domain.KindData, Path: "load_sample_data", IsRequired: false},
		},
	}

	results := EvaluatePlan(Default(), plan, OrgContext{ID: "00D000000000001", IsProduction: true}, nil)

	planResults := results[PlanResultKey]
	if len(planResults) != 1 || planResults[0].Status != domain.ResultError {
		t.Fatalf("plan results=%+v, want one error", planResults)
	}
	if _, ok := results["s1"]; ok {
		t.Fatalf("s1 should have no result")
	}
	if got := results["s2"]; len(got) != 1 || got[0].Status != domain.ResultWarn {
		t.Fatalf("s2 results=%+v, want warn", got)
	}

	preflight := domain.PreflightResult{Status: domain.PreflightComplete, IsValid: true, Results: results}
	if preflight.ErrorCount() != 1 || preflight.WarningCount() != 1 {
		t.Fatalf("errors=%d warnings=%d, want 1/1", preflight.ErrorCount(), preflight.WarningCount())
	}
}

func TestLoadFile(t *testing.T) {
	spec, err := LoadFile("")
	if err != nil || len(spec.Rules) == 0 {
		t.Fatalf("LoadFile(\"\") err=%v rules=%d", err, len(spec.Rules))
	}

	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "schema: metadeploy.preflight.v1\nrules:\n  - id: r1\n    effect: skip\n    when:\n      all:\n        - field: step.task_class\n          op: matches\n          value: \"^cumulusci\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	spec, err = LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	if len(spec.Rules) != 1 || spec.Rules[0].ID != "r1" {
		t.Fatalf("rules=%+v", spec.Rules)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
