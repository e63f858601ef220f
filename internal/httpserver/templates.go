package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"confcrm/internal/domain"
)

func (a *API) listTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, page, err := a.Templates.List(r.Context(), owner(r), q.Get("category"), domain.ChannelType(q.Get("channel_type")),
		queryInt(r, "page", 1), a.pageSize(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.Template]{Items: items, Pagination: page})
}

func (a *API) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req domain.TemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := a.Templates.Create(r.Context(), owner(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := a.Templates.Get(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var req domain.TemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := a.Templates.Update(r.Context(), owner(r), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := a.Templates.Delete(r.Context(), owner(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) useTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := a.Templates.Use(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
