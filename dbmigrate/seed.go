package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

// SeedFile is the YAML layout accepted by -seed. Rows carry explicit ids so a
// file can be applied repeatedly; rows that already exist are skipped.
type SeedFile struct {
	Categories   []SeedCategory    `yaml:"categories"`
	AllowedLists []SeedAllowedList `yaml:"allowed_lists"`
	Products     []SeedProduct     `yaml:"products"`
	Translations []SeedTranslation `yaml:"translations"`
}

type SeedCategory struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	OrderKey    int    `yaml:"order_key"`
	IsListed    *bool  `yaml:"is_listed"`
}

type SeedAllowedList struct {
	ID                   string   `yaml:"id"`
	Title                string   `yaml:"title"`
	Description          string   `yaml:"description"`
	OrgTypes             []string `yaml:"org_type"`
	ListForAllowedByOrgs bool     `yaml:"list_for_allowed_by_orgs"`
	Orgs                 []struct {
		ID          string `yaml:"id"`
		OrgID       string `yaml:"org_id"`
		Description string `yaml:"description"`
	} `yaml:"orgs"`
}

type SeedProduct struct {
	ID                    string             `yaml:"id"`
	Slug                  string             `yaml:"slug"`
	Title                 string             `yaml:"title"`
	ShortDescription      string             `yaml:"short_description"`
	Description           string             `yaml:"description"`
	ClickThroughAgreement string             `yaml:"click_through_agreement"`
	Category              string             `yaml:"category"`
	Color                 string             `yaml:"color"`
	Image                 string             `yaml:"image"`
	IconURL               string             `yaml:"icon_url"`
	SLDSIconCategory      string             `yaml:"slds_icon_category"`
	SLDSIconName          string             `yaml:"slds_icon_name"`
	RepoURL               string             `yaml:"repo_url"`
	IsListed              *bool              `yaml:"is_listed"`
	OrderKey              int                `yaml:"order_key"`
	VisibleTo             string             `yaml:"visible_to"`
	PlanTemplates         []SeedPlanTemplate `yaml:"plan_templates"`
	Versions              []SeedVersion      `yaml:"versions"`
}

type SeedPlanTemplate struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	PreflightMessage   string `yaml:"preflight_message"`
	PostInstallMessage string `yaml:"post_install_message"`
	ErrorMessage       string `yaml:"error_message"`
}

type SeedVersion struct {
	ID           string     `yaml:"id"`
	Label        string     `yaml:"label"`
	Description  string     `yaml:"description"`
	IsProduction *bool      `yaml:"is_production"`
	CommitIsh    string     `yaml:"commit_ish"`
	IsListed     *bool      `yaml:"is_listed"`
	CreatedAt    time.Time  `yaml:"created_at"`
	Plans        []SeedPlan `yaml:"plans"`
}

type SeedPlan struct {
	ID                           string     `yaml:"id"`
	Title                        string     `yaml:"title"`
	Slug                         string     `yaml:"slug"`
	PlanTemplate                 string     `yaml:"plan_template"`
	PreflightMessageAdditional   string     `yaml:"preflight_message_additional"`
	PostInstallMessageAdditional string     `yaml:"post_install_message_additional"`
	Tier                         string     `yaml:"tier"`
	IsListed                     *bool      `yaml:"is_listed"`
	PreflightFlowName            string     `yaml:"preflight_flow_name"`
	VisibleTo                    string     `yaml:"visible_to"`
	OrderKey                     int        `yaml:"order_key"`
	SupportedOrgs                string     `yaml:"supported_orgs"`
	Steps                        []SeedStep `yaml:"steps"`
}

type SeedStep struct {
	ID            string          `yaml:"id"`
	Name          string          `yaml:"name"`
	Description   string          `yaml:"description"`
	IsRequired    *bool           `yaml:"is_required"`
	IsRecommended *bool           `yaml:"is_recommended"`
	Kind          string          `yaml:"kind"`
	Path          string          `yaml:"path"`
	StepNum       string          `yaml:"step_num"`
	TaskClass     string          `yaml:"task_class"`
	TaskConfig    domain.Metadata `yaml:"task_config"`
	Source        domain.Metadata `yaml:"source"`
}

type SeedTranslation struct {
	Kind     string            `yaml:"kind"`
	MasterID string            `yaml:"master_id"`
	Language string            `yaml:"language"`
	Fields   map[string]string `yaml:"fields"`
}

// LoadSeedFile reads and validates a seed file. Unknown keys are rejected.
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (*SeedFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var f SeedFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids and the per-row rules before anything is written.
func (f SeedFile) Validate() error {
	seen := map[string]bool{}
	claim := func(kind, id string) error {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%s: id is required", kind)
		}
		key := kind + "/" + id
		if seen[key] {
			return fmt.Errorf("%s %q: duplicate id", kind, id)
		}
		seen[key] = true
		return nil
	}
	for _, c := range f.Categories {
		if err := claim("category", c.ID); err != nil {
			return err
		}
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("category %q: title is required", c.ID)
		}
	}
	for _, l := range f.AllowedLists {
		if err := claim("allowed_list", l.ID); err != nil {
			return err
		}
		if strings.TrimSpace(l.Title) == "" {
			return fmt.Errorf("allowed_list %q: title is required", l.ID)
		}
		for _, o := range l.Orgs {
			if err := claim("allowed_list_org", o.ID); err != nil {
				return err
			}
			if err := domain.ValidateOrgID(o.OrgID); err != nil {
				return fmt.Errorf("allowed_list_org %q: %w", o.ID, err)
			}
		}
	}
	for _, sp := range f.Products {
		if err := claim("product", sp.ID); err != nil {
			return err
		}
		if err := sp.product().Validate(); err != nil {
			return fmt.Errorf("product %q: %w", sp.ID, err)
		}
		for _, t := range sp.PlanTemplates {
			if err := claim("plan_template", t.ID); err != nil {
				return err
			}
		}
		for _, sv := range sp.Versions {
			if err := claim("version", sv.ID); err != nil {
				return err
			}
			if err := sv.version(sp.ID).Validate(); err != nil {
				return fmt.Errorf("version %q: %w", sv.ID, err)
			}
			for _, pl := range sv.Plans {
				if err := claim("plan", pl.ID); err != nil {
					return err
				}
				for _, st := range pl.Steps {
					if err := claim("step", st.ID); err != nil {
						return err
					}
				}
				if err := pl.plan(sv.ID).Validate(); err != nil {
					return fmt.Errorf("plan %q: %w", pl.ID, err)
				}
			}
		}
	}
	for i, tr := range f.Translations {
		switch repo.TranslationKind(tr.Kind) {
		case repo.TranslateProduct, repo.TranslateVersion, repo.TranslatePlan, repo.TranslateStep:
		default:
			return fmt.Errorf("translations[%d]: unknown kind %q", i, tr.Kind)
		}
		if strings.TrimSpace(tr.MasterID) == "" || strings.TrimSpace(tr.Language) == "" {
			return fmt.Errorf("translations[%d]: master_id and language are required", i)
		}
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (c SeedCategory) category() domain.ProductCategory {
	return domain.ProductCategory{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		OrderKey:    c.OrderKey,
		IsListed:    boolOr(c.IsListed, true),
	}
}

func (sp SeedProduct) product() domain.Product {
	return domain.Product{
		ID:                    sp.ID,
		Slug:                  sp.Slug,
		Title:                 sp.Title,
		ShortDescription:      sp.ShortDescription,
		Description:           sp.Description,
		ClickThroughAgreement: sp.ClickThroughAgreement,
		CategoryID:            sp.Category,
		Color:                 sp.Color,
		Image:                 sp.Image,
		IconURL:               sp.IconURL,
		SLDSIconCategory:      sp.SLDSIconCategory,
		SLDSIconName:          sp.SLDSIconName,
		RepoURL:               sp.RepoURL,
		IsListed:              boolOr(sp.IsListed, true),
		OrderKey:              sp.OrderKey,
		VisibleToID:           sp.VisibleTo,
	}
}

func (sv SeedVersion) version(productID string) domain.Version {
	return domain.Version{
		ID:           sv.ID,
		ProductID:    productID,
		Label:        sv.Label,
		Description:  sv.Description,
		IsProduction: boolOr(sv.IsProduction, true),
		CommitIsh:    sv.CommitIsh,
		IsListed:     boolOr(sv.IsListed, true),
		CreatedAt:    sv.CreatedAt,
	}
}

func (pl SeedPlan) plan(versionID string) domain.Plan {
	p := domain.Plan{
		ID:                           pl.ID,
		VersionID:                    versionID,
		PlanTemplateID:               pl.PlanTemplate,
		Title:                        pl.Title,
		Slug:                         pl.Slug,
		PreflightMessageAdditional:   pl.PreflightMessageAdditional,
		PostInstallMessageAdditional: pl.PostInstallMessageAdditional,
		Tier:                         domain.Tier(pl.Tier),
		IsListed:                     boolOr(pl.IsListed, true),
		PreflightFlowName:            pl.PreflightFlowName,
		VisibleToID:                  pl.VisibleTo,
		OrderKey:                     pl.OrderKey,
		SupportedOrgs:                domain.SupportedOrgs(pl.SupportedOrgs),
	}
	if p.Tier == "" {
		p.Tier = domain.TierPrimary
	}
	if p.SupportedOrgs == "" {
		p.SupportedOrgs = domain.SupportedPersistent
	}
	for _, st := range pl.Steps {
		step := domain.NewStep()
		step.ID = st.ID
		step.PlanID = pl.ID
		step.Name = st.Name
		step.Description = st.Description
		step.IsRequired = boolOr(st.IsRequired, step.IsRequired)
		step.IsRecommended = boolOr(st.IsRecommended, step.IsRecommended)
		if st.Kind != "" {
			step.Kind = domain.StepKind(st.Kind)
		}
		step.Path = st.Path
		step.StepNum = st.StepNum
		step.TaskClass = st.TaskClass
		if st.TaskConfig != nil {
			step.TaskConfig = st.TaskConfig
		}
		step.Source = st.Source
		p.Steps = append(p.Steps, step)
	}
	domain.SortSteps(p.Steps)
	return p
}

type Summary struct {
	Created int
	Skipped int
}

// Seeder writes a SeedFile through the repositories in dependency order.
type Seeder struct {
	Logger       *slog.Logger
	Categories   repo.CategoryRepository
	AllowedLists repo.AllowedListRepository
	Products     repo.ProductRepository
	Versions     repo.VersionRepository
	Templates    repo.PlanTemplateRepository
	Plans        repo.PlanRepository
	Translations repo.TranslationRepository
}

func (s Seeder) Apply(ctx context.Context, f SeedFile) (Summary, error) {
	var sum Summary
	write := func(kind, id string, err error) error {
		switch {
		case err == nil:
			sum.Created++
			return nil
		case errors.Is(err, repo.ErrConflict):
			sum.Skipped++
			if s.Logger != nil {
				s.Logger.Info("seed row exists", "kind", kind, "id", id)
			}
			return nil
		default:
			return fmt.Errorf("seed %s %q: %w", kind, id, err)
		}
	}

	for _, c := range f.Categories {
		if err := write("category", c.ID, s.Categories.Create(ctx, c.category())); err != nil {
			return sum, err
		}
	}
	for _, l := range f.AllowedLists {
		list := domain.AllowedList{
			ID:                   l.ID,
			Title:                l.Title,
			Description:          l.Description,
			OrgTypes:             l.OrgTypes,
			ListForAllowedByOrgs: l.ListForAllowedByOrgs,
		}
		if err := write("allowed_list", l.ID, s.AllowedLists.CreateList(ctx, list)); err != nil {
			return sum, err
		}
		for _, o := range l.Orgs {
			org := domain.AllowedListOrg{
				ID:            o.ID,
				AllowedListID: l.ID,
				OrgID:         strings.TrimSpace(o.OrgID),
				Description:   o.Description,
			}
			if err := write("allowed_list_org", o.ID, s.AllowedLists.CreateOrg(ctx, org)); err != nil {
				return sum, err
			}
		}
	}
	for _, sp := range f.Products {
		if err := write("product", sp.ID, s.Products.Create(ctx, sp.product())); err != nil {
			return sum, err
		}
		for _, t := range sp.PlanTemplates {
			tmpl := domain.PlanTemplate{
				ID:                 t.ID,
				ProductID:          sp.ID,
				Name:               t.Name,
				PreflightMessage:   t.PreflightMessage,
				PostInstallMessage: t.PostInstallMessage,
				ErrorMessage:       t.ErrorMessage,
			}
			if err := write("plan_template", t.ID, s.Templates.Create(ctx, tmpl)); err != nil {
				return sum, err
			}
		}
		for _, sv := range sp.Versions {
			if err := write("version", sv.ID, s.Versions.Create(ctx, sv.version(sp.ID))); err != nil {
				return sum, err
			}
			for _, pl := range sv.Plans {
				if err := write("plan", pl.ID, s.Plans.Create(ctx, pl.plan(sv.ID))); err != nil {
					return sum, err
				}
			}
		}
	}
	for _, tr := range f.Translations {
		t := domain.Translation{
			LanguageCode: tr.Language,
			MasterID:     tr.MasterID,
			Fields:       tr.Fields,
		}
		if err := s.Translations.Upsert(ctx, repo.TranslationKind(tr.Kind), t); err != nil {
			return sum, fmt.Errorf("seed %s translation %q: %w", tr.Kind, tr.MasterID, err)
		}
		sum.Created++
	}
	return sum, nil
}
