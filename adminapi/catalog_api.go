package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type categoryView struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	OrderKey    int    `json:"order_key"`
	IsListed    bool   `json:"is_listed"`
}

type categoryInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	OrderKey    *int    `json:"order_key"`
	IsListed    *bool   `json:"is_listed"`
}

func (in categoryInput) apply(c *domain.ProductCategory) {
	setString(&c.Title, in.Title)
	setString(&c.Description, in.Description)
	setInt(&c.OrderKey, in.OrderKey)
	setBool(&c.IsListed, in.IsListed)
}

func (api *adminAPI) categoryView(r *http.Request, c domain.ProductCategory) categoryView {
	return categoryView{
		ID:          c.ID,
		URL:         api.link(r, "productcategory", c.ID),
		Title:       c.Title,
		Description: c.Description,
		OrderKey:    c.OrderKey,
		IsListed:    c.IsListed,
	}
}

func (api *adminAPI) handleListCategories(w http.ResponseWriter, r *http.Request) {
	list, err := api.stores.Categories.List(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	limit, offset := pageParams(r)
	page := pageOf(list, limit, offset)
	out := make([]categoryView, 0, len(page))
	for _, c := range page {
		out = append(out, api.categoryView(r, c))
	}
	writeList(w, out, len(list), api.pageLinks(r, len(list), limit, offset))
}

func (api *adminAPI) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := api.stores.Categories.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, api.categoryView(r, c))
}

func (api *adminAPI) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var in categoryInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	c := domain.ProductCategory{ID: api.newID(), IsListed: true}
	in.apply(&c)
	if err := api.stores.Categories.Create(r.Context(), c); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.category.create", "product_category", c.ID)
	httpserver.WriteJSON(w, http.StatusCreated, api.categoryView(r, c))
}

func (api *adminAPI) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var in categoryInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	c, err := api.stores.Categories.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	in.apply(&c)
	if err := api.stores.Categories.Update(r.Context(), c); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.category.update", "product_category", c.ID)
	httpserver.WriteJSON(w, http.StatusOK, api.categoryView(r, c))
}

type productView struct {
	ID                    string    `json:"id"`
	URL                   string    `json:"url"`
	Title                 string    `json:"title"`
	Slug                  string    `json:"slug"`
	ShortDescription      string    `json:"short_description"`
	Description           string    `json:"description"`
	ClickThroughAgreement string    `json:"click_through_agreement"`
	Category              string    `json:"category"`
	Color                 string    `json:"color"`
	Image                 *string   `json:"image"`
	IconURL               string    `json:"icon_url"`
	SLDSIconCategory      string    `json:"slds_icon_category"`
	SLDSIconName          string    `json:"slds_icon_name"`
	RepoURL               string    `json:"repo_url"`
	IsListed              bool      `json:"is_listed"`
	OrderKey              int       `json:"order_key"`
	VisibleTo             *string   `json:"visible_to"`
	CreatedAt             time.Time `json:"created_at"`
}

type productInput struct {
	Title                 *string  `json:"title"`
	Slug                  *string  `json:"slug"`
	ShortDescription      *string  `json:"short_description"`
	Description           *string  `json:"description"`
	ClickThroughAgreement *string  `json:"click_through_agreement"`
	Category              *string  `json:"category"`
	Color                 *string  `json:"color"`
	IconURL               *string  `json:"icon_url"`
	SLDSIconCategory      *string  `json:"slds_icon_category"`
	SLDSIconName          *string  `json:"slds_icon_name"`
	RepoURL               *string  `json:"repo_url"`
	IsListed              *bool    `json:"is_listed"`
	OrderKey              *int     `json:"order_key"`
	VisibleTo             nullable `json:"visible_to"`
}

func (in productInput) apply(p *domain.Product) {
	setString(&p.Title, in.Title)
	setString(&p.Slug, in.Slug)
	setString(&p.ShortDescription, in.ShortDescription)
	setString(&p.Description, in.Description)
	setString(&p.ClickThroughAgreement, in.ClickThroughAgreement)
	setRelated(&p.CategoryID, in.Category)
	setString(&p.Color, in.Color)
	setString(&p.IconURL, in.IconURL)
	setString(&p.SLDSIconCategory, in.SLDSIconCategory)
	setString(&p.SLDSIconName, in.SLDSIconName)
	setString(&p.RepoURL, in.RepoURL)
	setBool(&p.IsListed, in.IsListed)
	setInt(&p.OrderKey, in.OrderKey)
	in.VisibleTo.applyRelated(&p.VisibleToID)
	if strings.TrimSpace(p.Slug) == "" {
		p.Slug = slugify(p.Title)
	}
}

func (api *adminAPI) productView(r *http.Request, p domain.Product) productView {
	return productView{
		ID:                    p.ID,
		URL:                   api.link(r, "products", p.ID),
		Title:                 p.Title,
		Slug:                  p.Slug,
		ShortDescription:      p.ShortDescription,
		Description:           p.Description,
		ClickThroughAgreement: p.ClickThroughAgreement,
		Category:              api.link(r, "productcategory", p.CategoryID),
		Color:                 p.Color,
		Image:                 optional(p.Image),
		IconURL:               p.IconURL,
		SLDSIconCategory:      p.SLDSIconCategory,
		SLDSIconName:          p.SLDSIconName,
		RepoURL:               p.RepoURL,
		IsListed:              p.IsListed,
		OrderKey:              p.OrderKey,
		VisibleTo:             api.optionalLink(r, "allowedlists", p.VisibleToID),
		CreatedAt:             p.CreatedAt,
	}
}

func (api *adminAPI) checkProduct(r *http.Request, p domain.Product) error {
	if err := p.Validate(); err != nil {
		return invalid(err)
	}
	var verr domain.ValidationError
	if _, err := api.stores.Categories.Get(r.Context(), p.CategoryID); err != nil {
		if err := checkRelated(&verr, "category", err); err != nil {
			return err
		}
	}
	if p.VisibleToID != "" {
		if _, err := api.stores.AllowedLists.GetList(r.Context(), p.VisibleToID); err != nil {
			if err := checkRelated(&verr, "visible_to", err); err != nil {
				return err
			}
		}
	}
	return verr.OrNil()
}

func (api *adminAPI) handleListProducts(w http.ResponseWriter, r *http.Request) {
	filter := repo.ProductFilter{RepoURL: strings.TrimSpace(r.URL.Query().Get("repo_url"))}
	filter.Limit, filter.Offset = pageParams(r)
	total, err := api.stores.Products.Count(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	list, err := api.stores.Products.List(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	out := make([]productView, 0, len(list))
	for _, p := range list {
		out = append(out, api.productView(r, p))
	}
	writeList(w, out, total, api.pageLinks(r, total, filter.Limit, filter.Offset))
}

func (api *adminAPI) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := api.stores.Products.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, api.productView(r, p))
}

func (api *adminAPI) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	p := domain.Product{ID: api.newID(), IsListed: true, CreatedAt: api.now().UTC()}
	in.apply(&p)
	if err := api.checkProduct(r, p); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.stores.Products.Create(r.Context(), p); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.product.create", "product", p.ID)
	httpserver.WriteJSON(w, http.StatusCreated, api.productView(r, p))
}

func (api *adminAPI) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	p, err := api.stores.Products.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	in.apply(&p)
	if err := api.checkProduct(r, p); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.stores.Products.Update(r.Context(), p); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.product.update", "product", p.ID)
	httpserver.WriteJSON(w, http.StatusOK, api.productView(r, p))
}

type versionView struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Product      string    `json:"product"`
	Label        string    `json:"label"`
	Description  string    `json:"description"`
	IsProduction bool      `json:"is_production"`
	CommitIsh    string    `json:"commit_ish"`
	IsListed     bool      `json:"is_listed"`
	CreatedAt    time.Time `json:"created_at"`
}

type versionInput struct {
	Product      *string `json:"product"`
	Label        *string `json:"label"`
	Description  *string `json:"description"`
	IsProduction *bool   `json:"is_production"`
	CommitIsh    *string `json:"commit_ish"`
	IsListed     *bool   `json:"is_listed"`
}

func (in versionInput) apply(v *domain.Version) {
	setRelated(&v.ProductID, in.Product)
	setString(&v.Label, in.Label)
	setString(&v.Description, in.Description)
	setBool(&v.IsProduction, in.IsProduction)
	setString(&v.CommitIsh, in.CommitIsh)
	setBool(&v.IsListed, in.IsListed)
}

func (api *adminAPI) versionView(r *http.Request, v domain.Version) versionView {
	return versionView{
		ID:           v.ID,
		URL:          api.link(r, "versions", v.ID),
		Product:      api.link(r, "products", v.ProductID),
		Label:        v.Label,
		Description:  v.Description,
		IsProduction: v.IsProduction,
		CommitIsh:    v.CommitIsh,
		IsListed:     v.IsListed,
		CreatedAt:    v.CreatedAt,
	}
}

func (api *adminAPI) checkVersion(r *http.Request, v domain.Version) error {
	if err := v.Validate(); err != nil {
		return invalid(err)
	}
	var verr domain.ValidationError
	if _, err := api.stores.Products.Get(r.Context(), v.ProductID); err != nil {
		if err := checkRelated(&verr, "product", err); err != nil {
			return err
		}
	}
	return verr.OrNil()
}

func (api *adminAPI) handleListVersions(w http.ResponseWriter, r *http.Request) {
	filter := repo.VersionFilter{ProductID: relatedID(r.URL.Query().Get("product"))}
	filter.Limit, filter.Offset = pageParams(r)
	total, err := api.stores.Versions.Count(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	list, err := api.stores.Versions.List(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	out := make([]versionView, 0, len(list))
	for _, v := range list {
		out = append(out, api.versionView(r, v))
	}
	writeList(w, out, total, api.pageLinks(r, total, filter.Limit, filter.Offset))
}

func (api *adminAPI) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := api.stores.Versions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, api.versionView(r, v))
}

func (api *adminAPI) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var in versionInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	v := domain.Version{ID: api.newID(), IsProduction: true, IsListed: true, CreatedAt: api.now().UTC()}
	in.apply(&v)
	if err := api.checkVersion(r, v); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.stores.Versions.Create(r.Context(), v); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.version.create", "version", v.ID)
	httpserver.WriteJSON(w, http.StatusCreated, api.versionView(r, v))
}

func (api *adminAPI) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	var in versionInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	v, err := api.stores.Versions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	in.apply(&v)
	if err := api.checkVersion(r, v); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.stores.Versions.Update(r.Context(), v); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.version.update", "version", v.ID)
	httpserver.WriteJSON(w, http.StatusOK, api.versionView(r, v))
}

type templateView struct {
	ID                 string `json:"id"`
	URL                string `json:"url"`
	Product            string `json:"product"`
	Name               string `json:"name"`
	PreflightMessage   string `json:"preflight_message"`
	PostInstallMessage string `json:"post_install_message"`
	ErrorMessage       string `json:"error_message"`
}

type templateInput struct {
	Product            *string `json:"product"`
	Name               *string `json:"name"`
	PreflightMessage   *string `json:"preflight_message"`
	PostInstallMessage *string `json:"post_install_message"`
	ErrorMessage       *string `json:"error_message"`
}

func (in templateInput) apply(t *domain.PlanTemplate) {
	setRelated(&t.ProductID, in.Product)
	setString(&t.Name, in.Name)
	setString(&t.PreflightMessage, in.PreflightMessage)
	setString(&t.PostInstallMessage, in.PostInstallMessage)
	setString(&t.ErrorMessage, in.ErrorMessage)
}

func (api *adminAPI) templateView(r *http.Request, t domain.PlanTemplate) templateView {
	return templateView{
		ID:                 t.ID,
		URL:                api.link(r, "plantemplates", t.ID),
		Product:            api.link(r, "products", t.ProductID),
		Name:               t.Name,
		PreflightMessage:   t.PreflightMessage,
		PostInstallMessage: t.PostInstallMessage,
		ErrorMessage:       t.ErrorMessage,
	}
}

func (api *adminAPI) checkTemplate(r *http.Request, t domain.PlanTemplate) error {
	var verr domain.ValidationError
	if strings.TrimSpace(t.Name) == "" {
		verr.AddField("name", "This field may not be blank.")
	}
	if _, err := api.stores.Products.Get(r.Context(), t.ProductID); err != nil {
		if err := checkRelated(&verr, "product", err); err != nil {
			return err
		}
	}
	return verr.OrNil()
}

func (api *adminAPI) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := api.stores.Templates.List(r.Context(), relatedID(r.URL.Query().Get("product")))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	limit, offset := pageParams(r)
	page := pageOf(list, limit, offset)
	out := make([]templateView, 0, len(page))
	for _, t := range page {
		out = append(out, api.templateView(r, t))
	}
	writeList(w, out, len(list), api.pageLinks(r, len(list), limit, offset))
}

func (api *adminAPI) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := api.stores.Templates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, api.templateView(r, t))
}

func (api *adminAPI) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in templateInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	t := domain.PlanTemplate{ID: api.newID()}
	in.apply(&t)
	if err := api.checkTemplate(r, t); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.stores.Templates.Create(r.Context(), t); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.plan_template.create", "plan_template", t.ID)
	httpserver.WriteJSON(w, http.StatusCreated, api.templateView(r, t))
}

func (api *adminAPI) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in templateInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	t, err := api.stores.Templates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	in.apply(&t)
	if err := api.checkTemplate(r, t); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.stores.Templates.Update(r.Context(), t); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.plan_template.update", "plan_template", t.ID)
	httpserver.WriteJSON(w, http.StatusOK, api.templateView(r, t))
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setRelated(dst *string, v *string) {
	if v != nil {
		*dst = relatedID(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
