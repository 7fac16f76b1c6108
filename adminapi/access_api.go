package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
)

type allowedListView struct {
	ID                   string   `json:"id"`
	URL                  string   `json:"url"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	OrgType              []string `json:"org_type"`
	ListForAllowedByOrgs bool     `json:"list_for_allowed_by_orgs"`
}

type allowedListInput struct {
	Title                *string   `json:"title"`
	Description          *string   `json:"description"`
	OrgType              *[]string `json:"org_type"`
	ListForAllowedByOrgs *bool     `json:"list_for_allowed_by_orgs"`
}

func (in allowedListInput) apply(l *domain.AllowedList) {
	setString(&l.Title, in.Title)
	setString(&l.Description, in.Description)
	if in.OrgType != nil {
		l.OrgTypes = append([]string(nil), (*in.OrgType)...)
	}
	setBool(&l.ListForAllowedByOrgs, in.ListForAllowedByOrgs)
}

func (api *adminAPI) allowedListView(r *http.Request, l domain.AllowedList) allowedListView {
	orgTypes := l.OrgTypes
	if orgTypes == nil {
		orgTypes = []string{}
	}
	return allowedListView{
		ID:                   l.ID,
		URL:                  api.link(r, "allowedlists", l.ID),
		Title:                l.Title,
		Description:          l.Description,
		OrgType:              orgTypes,
		ListForAllowedByOrgs: l.ListForAllowedByOrgs,
	}
}

func (api *adminAPI) handleListAllowedLists(w http.ResponseWriter, r *http.Request) {
	lists, err := api.stores.AllowedLists.ListLists(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	limit, offset := pageParams(r)
	page := pageOf(lists, limit, offset)
	out := make([]allowedListView, 0, len(page))
	for _, l := range page {
		out = append(out, api.allowedListView(r, l))
	}
	writeList(w, out, len(lists), api.pageLinks(r, len(lists), limit, offset))
}

func (api *adminAPI) handleGetAllowedList(w http.ResponseWriter, r *http.Request) {
	l, err := api.stores.AllowedLists.GetList(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, api.allowedListView(r, l))
}

func (api *adminAPI) handleCreateAllowedList(w http.ResponseWriter, r *http.Request) {
	var in allowedListInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	l := domain.AllowedList{ID: api.newID()}
	in.apply(&l)
	if strings.TrimSpace(l.Title) == "" {
		var verr domain.ValidationError
		verr.AddField("title", "This field may not be blank.")
		api.writeError(w, r, &verr)
		return
	}
	if err := api.stores.AllowedLists.CreateList(r.Context(), l); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.allowed_list.create", "allowed_list", l.ID)
	httpserver.WriteJSON(w, http.StatusCreated, api.allowedListView(r, l))
}

func (api *adminAPI) handleUpdateAllowedList(w http.ResponseWriter, r *http.Request) {
	var in allowedListInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	l, err := api.stores.AllowedLists.GetList(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	in.apply(&l)
	if err := api.stores.AllowedLists.UpdateList(r.Context(), l); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.allowed_list.update", "allowed_list", l.ID)
	httpserver.WriteJSON(w, http.StatusOK, api.allowedListView(r, l))
}

type allowedListOrgView struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	AllowedList string    `json:"allowed_list"`
	OrgID       string    `json:"org_id"`
	Description string    `json:"description"`
	CreatedBy   *string   `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type allowedListOrgInput struct {
	AllowedList string `json:"allowed_list"`
	OrgID       string `json:"org_id"`
	Description string `json:"description"`
}

func (api *adminAPI) allowedListOrgView(r *http.Request, o domain.AllowedListOrg) allowedListOrgView {
	return allowedListOrgView{
		ID:          o.ID,
		URL:         api.link(r, "allowedlistorgs", o.ID),
		AllowedList: api.link(r, "allowedlists", o.AllowedListID),
		OrgID:       o.OrgID,
		Description: o.Description,
		CreatedBy:   optional(o.CreatedBy),
		CreatedAt:   o.CreatedAt,
	}
}

func (api *adminAPI) handleListAllowedListOrgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := api.stores.AllowedLists.ListOrgs(r.Context(), relatedID(r.URL.Query().Get("allowed_list")))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	limit, offset := pageParams(r)
	page := pageOf(orgs, limit, offset)
	out := make([]allowedListOrgView, 0, len(page))
	for _, o := range page {
		out = append(out, api.allowedListOrgView(r, o))
	}
	writeList(w, out, len(orgs), api.pageLinks(r, len(orgs), limit, offset))
}

func (api *adminAPI) handleGetAllowedListOrg(w http.ResponseWriter, r *http.Request) {
	o, err := api.stores.AllowedLists.GetOrg(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, api.allowedListOrgView(r, o))
}

// handleCreateAllowedListOrg records the requesting admin as created_by.
func (api *adminAPI) handleCreateAllowedListOrg(w http.ResponseWriter, r *http.Request) {
	var in allowedListOrgInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	o := domain.AllowedListOrg{
		ID:            api.newID(),
		AllowedListID: relatedID(in.AllowedList),
		OrgID:         strings.TrimSpace(in.OrgID),
		Description:   in.Description,
		CreatedAt:     api.now().UTC(),
	}
	var verr domain.ValidationError
	if err := domain.ValidateOrgID(o.OrgID); err != nil {
		verr.AddField("org_id", err.Error())
	}
	if _, err := api.stores.AllowedLists.GetList(r.Context(), o.AllowedListID); err != nil {
		if err := checkRelated(&verr, "allowed_list", err); err != nil {
			api.writeError(w, r, err)
			return
		}
	}
	if err := verr.OrNil(); err != nil {
		api.writeError(w, r, err)
		return
	}
	user, err := api.actor(r)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	o.CreatedBy = user.ID
	if err := api.stores.AllowedLists.CreateOrg(r.Context(), o); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.allowed_list_org.create", "allowed_list_org", o.ID)
	httpserver.WriteJSON(w, http.StatusCreated, api.allowedListOrgView(r, o))
}
