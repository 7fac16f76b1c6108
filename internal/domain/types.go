// Package domain holds the MetaDeploy entities and the rules that depend only
// on them: visibility, preflight outcomes and step ordering.
package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Metadata is free-form JSON attached to steps and task configuration.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

const DefaultLanguage = "en-us"

type ProductCategory struct {
	ID          string
	Title       string
	Description string
	OrderKey    int
	IsListed    bool
}

type Product struct {
	ID                    string
	Slug                  string
	Title                 string
	ShortDescription      string
	Description           string
	ClickThroughAgreement string
	CategoryID            string
	Color                 string
	Image                 string
	IconURL               string
	SLDSIconCategory      string
	SLDSIconName          string
	RepoURL               string
	IsListed              bool
	OrderKey              int
	VisibleToID           string
	CreatedAt             time.Time
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(p.Slug) == "" {
		return errors.New("slug is required")
	}
	if strings.TrimSpace(p.CategoryID) == "" {
		return errors.New("category is required")
	}
	return nil
}

type Version struct {
	ID           string
	ProductID    string
	Label        string
	Description  string
	IsProduction bool
	CommitIsh    string
	IsListed     bool
	CreatedAt    time.Time
}

func (v Version) Validate() error {
	if strings.TrimSpace(v.ProductID) == "" {
		return errors.New("product is required")
	}
	if strings.TrimSpace(v.Label) == "" {
		return errors.New("label is required")
	}
	return nil
}

type PlanTemplate struct {
	ID                 string
	ProductID          string
	Name               string
	PreflightMessage   string
	PostInstallMessage string
	ErrorMessage       string
}

type Tier string

const (
	TierPrimary    Tier = "primary"
	TierSecondary  Tier = "secondary"
	TierAdditional Tier = "additional"
)

func (t Tier) Valid() bool {
	switch t {
	case TierPrimary, TierSecondary, TierAdditional:
		return true
	}
	return false
}

type SupportedOrgs string

const (
	SupportedPersistent SupportedOrgs = "Persistent"
	SupportedScratch    SupportedOrgs = "Scratch"
	SupportedBoth       SupportedOrgs = "Both"
)

func (s SupportedOrgs) Valid() bool {
	switch s {
	case SupportedPersistent, SupportedScratch, SupportedBoth:
		return true
	}
	return false
}

type Plan struct {
	ID                           string
	VersionID                    string
	PlanTemplateID               string
	Title                        string
	Slug                         string
	PreflightMessageAdditional   string
	PostInstallMessageAdditional string
	Tier                         Tier
	IsListed                     bool
	PreflightFlowName            string
	VisibleToID                  string
	OrderKey                     int
	SupportedOrgs                SupportedOrgs
	CreatedAt                    time.Time
	Steps                        []Step
}

func (p Plan) Validate() error {
	if strings.TrimSpace(p.VersionID) == "" {
		return errors.New("version is required")
	}
	if strings.TrimSpace(p.PlanTemplateID) == "" {
		return errors.New("plan_template is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	if !p.Tier.Valid() {
		return errors.New("tier must be one of primary, secondary, additional")
	}
	if !p.SupportedOrgs.Valid() {
		return errors.New("supported_orgs must be one of Persistent, Scratch, Both")
	}
	for _, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RequiredStepIDs returns the ids of steps the user cannot deselect.
func (p Plan) RequiredStepIDs() []string {
	out := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		if step.IsRequired {
			out = append(out, step.ID)
		}
	}
	return out
}

func (p Plan) StepByID(id string) (Step, bool) {
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

type StepKind string

const (
	KindMetadata StepKind = "metadata"
	KindOnetime  StepKind = "onetime"
	KindManaged  StepKind = "managed"
	KindData     StepKind = "data"
	KindOther    StepKind = "other"
)

func (k StepKind) Valid() bool {
	switch k {
	case KindMetadata, KindOnetime, KindManaged, KindData, KindOther:
		return true
	}
	return false
}

type Step struct {
	ID            string
	PlanID        string
	Name          string
	Description   string
	IsRequired    bool
	IsRecommended bool
	Kind          StepKind
	Path          string
	StepNum       string
	TaskClass     string
	TaskConfig    Metadata
	Source        Metadata
}

// NewStep returns a step with the defaults applied to unset admin input.
func NewStep() Step {
	return Step{
		IsRequired:    true,
		IsRecommended: true,
		Kind:          KindMetadata,
		TaskConfig:    Metadata{},
	}
}

func (s Step) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("step name is required")
	}
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("step path is required")
	}
	if _, err := ParseStepNum(s.StepNum); err != nil {
		return err
	}
	if !s.Kind.Valid() {
		return errors.New("step kind is invalid")
	}
	return nil
}

type AllowedList struct {
	ID                   string
	Title                string
	Description          string
	OrgTypes             []string
	ListForAllowedByOrgs bool
}

type AllowedListOrg struct {
	ID            string
	AllowedListID string
	OrgID         string
	Description   string
	CreatedBy     string
	CreatedAt     time.Time
}

var orgIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{15}([a-zA-Z0-9]{3})?$`)

func ValidateOrgID(orgID string) error {
	if !orgIDPattern.MatchString(strings.TrimSpace(orgID)) {
		return errors.New("org_id must be a 15 or 18 character identifier")
	}
	return nil
}

type User struct {
	ID              string
	Subject         string
	Username        string
	Email           string
	IsStaff         bool
	OrgID           string
	OrgType         string
	OrgName         string
	InstanceURL     string
	IsProductionOrg bool
	CreatedAt       time.Time
	LastSeenAt      time.Time
}
