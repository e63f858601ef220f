package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"confcrm/internal/domain"
)

func (a *API) listCampaigns(w http.ResponseWriter, r *http.Request) {
	status := domain.CampaignStatus(r.URL.Query().Get("status"))
	items, page, err := a.Campaigns.ListCampaigns(r.Context(), owner(r), status, queryInt(r, "page", 1), a.pageSize(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.Campaign]{Items: items, Pagination: page})
}

func (a *API) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := a.Campaigns.CreateCampaign(r.Context(), owner(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) getCampaign(w http.ResponseWriter, r *http.Request) {
	out, err := a.Campaigns.GetCampaign(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) updateCampaign(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := a.Campaigns.UpdateCampaign(r.Context(), owner(r), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := a.Campaigns.DeleteCampaign(r.Context(), owner(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) replaceSequence(w http.ResponseWriter, r *http.Request) {
	var req domain.ReplaceSequenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := a.Campaigns.UpdateSequence(r.Context(), owner(r), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) addRecipients(w http.ResponseWriter, r *http.Request) {
	var req domain.AddRecipientsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := a.Campaigns.AddRecipients(r.Context(), owner(r), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) removeRecipient(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.Campaigns.RemoveRecipient(r.Context(), owner(r), vars["id"], vars["contact_id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) campaignAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctx, ownerID, id := r.Context(), owner(r), vars["id"]

	var (
		out domain.Campaign
		err error
	)
	switch vars["action"] {
	case "start":
		out, err = a.Campaigns.Start(ctx, ownerID, id)
	case "pause":
		out, err = a.Campaigns.Pause(ctx, ownerID, id)
	case "resume":
		out, err = a.Campaigns.Resume(ctx, ownerID, id)
	case "cancel":
		out, err = a.Campaigns.Cancel(ctx, ownerID, id)
	case "complete":
		out, err = a.Campaigns.Complete(ctx, ownerID, id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
