package httpserver

import (
	"net/http"

	"confcrm/internal/assistant"
)

func (a *API) draftEmail(w http.ResponseWriter, r *http.Request) {
	var req assistant.EmailDraftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := a.Assistant.DraftEmail(r.Context(), req)
	if err != nil {
		dependencyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) summarizeNotes(w http.ResponseWriter, r *http.Request) {
	var req assistant.NotesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := a.Assistant.SummarizeNotes(r.Context(), req)
	if err != nil {
		dependencyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) campaignCopy(w http.ResponseWriter, r *http.Request) {
	var req assistant.CampaignCopyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := a.Assistant.CampaignCopy(r.Context(), req)
	if err != nil {
		dependencyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}
