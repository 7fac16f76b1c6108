// Package runner executes plan steps against a connected org and drives
// preflights and jobs to a terminal state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/env"
)

const (
	ModeCCI    = "cci"
	ModeDryRun = "dryrun"
)

// Runner executes a single step.
type Runner interface {
	Kind() string
	RunStep(ctx context.Context, spec StepSpec) (StepOutcome, error)
}

type StepSpec struct {
	JobID       string
	StepID      string
	Name        string
	Path        string
	TaskClass   string
	TaskConfig  domain.Metadata
	OrgID       string
	InstanceURL string
}

type StepOutcome struct {
	Status  domain.ResultStatus
	Message string
	Output  string
}

type Config struct {
	Mode        string
	CCIBin      string
	StepTimeout time.Duration
	RulesFile   string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("STEP_TIMEOUT", 30*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Mode:        strings.ToLower(env.String("RUNNER_MODE", ModeCCI)),
		CCIBin:      env.String("CCI_BIN", "cci"),
		StepTimeout: timeout,
		RulesFile:   env.String("PREFLIGHT_RULES_FILE", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeCCI, ModeDryRun:
	default:
		return fmt.Errorf("RUNNER_MODE must be %q or %q", ModeCCI, ModeDryRun)
	}
	if c.StepTimeout <= 0 {
		return errors.New("STEP_TIMEOUT must be positive")
	}
	return nil
}

// New builds the runner selected by cfg.Mode.
func New(cfg Config) (Runner, error) {
	if cfg.Mode == ModeDryRun {
		return DryRunRunner{}, nil
	}
	return NewCCIRunner(cfg.CCIBin)
}

// CCIRunner shells out to the CumulusCI command line.
type CCIRunner struct {
	bin string
}

func NewCCIRunner(bin string) (*CCIRunner, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = "cci"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("cci binary not found: %w", err)
	}
	return &CCIRunner{bin: bin}, nil
}

func (r *CCIRunner) Kind() string {
	return ModeCCI
}

// RunStep runs `cci task run <task_class> --org <org>` with the step's task
// options. A non-zero exit is reported as an error outcome; a failure to start
// the process or a done context is returned as err.
func (r *CCIRunner) RunStep(ctx context.Context, spec StepSpec) (StepOutcome, error) {
	args, err := commandArgs(spec)
	if err != nil {
		return StepOutcome{Status: domain.ResultError, Message: err.Error()}, nil
	}

	cmd := exec.CommandContext(ctx, r.bin, args...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return StepOutcome{}, ctxErr
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return StepOutcome{}, fmt.Errorf("cci task run: %w", err)
		}
		return StepOutcome{Status: domain.ResultError, Message: lastLine(text, "Step failed."), Output: text}, nil
	}
	return StepOutcome{Status: domain.ResultOK, Output: text}, nil
}

func commandArgs(spec StepSpec) ([]string, error) {
	task := strings.TrimSpace(spec.TaskClass)
	if task == "" {
		task = strings.TrimSpace(spec.Path)
	}
	if task == "" {
		return nil, errors.New("step has no task to run")
	}
	org := strings.TrimSpace(spec.OrgID)
	if org == "" {
		return nil, errors.New("no org connected")
	}

	args := []string{"task", "run", task, "--org", org}
	options, _ := spec.TaskConfig["options"].(map[string]any)
	keys := make([]string, 0, len(options))
	for k := range options {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "-o", key, fmt.Sprint(options[key]))
	}
	return args, nil
}

func lastLine(text, fallback string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return fallback
}

// DryRunRunner reports every step as successful without touching an org.
type DryRunRunner struct{}

func (DryRunRunner) Kind() string {
	return ModeDryRun
}

func (DryRunRunner) RunStep(ctx context.Context, spec StepSpec) (StepOutcome, error) {
	if err := ctx.Err(); err != nil {
		return StepOutcome{}, err
	}
	return StepOutcome{Status: domain.ResultOK, Output: "dry run: " + spec.Path}, nil
}
