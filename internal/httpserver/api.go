package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"confcrm/internal/assistant"
	"confcrm/internal/auth"
	"confcrm/internal/providers/linkedin"
	"confcrm/internal/service"
)

// API is the management surface. LinkedIn and Assistant are optional; their
// routes are only mounted when set.
type API struct {
	Campaigns *service.CampaignService
	Templates *service.TemplateService
	LinkedIn  *linkedin.OAuth
	Poster    *linkedin.Poster
	Assistant *assistant.Assistant
	Tokens    *auth.Tokens
	PageSize  int
}

func (a *API) Register(r *mux.Router) {
	private := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, RequireAuth(a.Tokens)(h)).Methods(methods...)
	}

	private("/v1/campaigns", a.listCampaigns, http.MethodGet)
	private("/v1/campaigns", a.createCampaign, http.MethodPost)
	private("/v1/campaigns/{id}", a.getCampaign, http.MethodGet)
	private("/v1/campaigns/{id}", a.updateCampaign, http.MethodPatch, http.MethodPut)
	private("/v1/campaigns/{id}", a.deleteCampaign, http.MethodDelete)
	private("/v1/campaigns/{id}/messages", a.replaceSequence, http.MethodPut)
	private("/v1/campaigns/{id}/recipients", a.addRecipients, http.MethodPost)
	private("/v1/campaigns/{id}/recipients/{contact_id}", a.removeRecipient, http.MethodDelete)
	private("/v1/campaigns/{id}/{action:start|pause|resume|cancel|complete}", a.campaignAction, http.MethodPost)

	private("/v1/templates", a.listTemplates, http.MethodGet)
	private("/v1/templates", a.createTemplate, http.MethodPost)
	private("/v1/templates/{id}", a.getTemplate, http.MethodGet)
	private("/v1/templates/{id}", a.updateTemplate, http.MethodPut)
	private("/v1/templates/{id}", a.deleteTemplate, http.MethodDelete)
	private("/v1/templates/{id}/use", a.useTemplate, http.MethodPost)

	if a.LinkedIn != nil {
		private("/v1/linkedin/connect", a.linkedInConnect, http.MethodGet)
		// The state token identifies the owner, so the callback is public.
		r.HandleFunc("/v1/linkedin/callback", a.linkedInCallback).Methods(http.MethodGet)
		private("/v1/linkedin/profile", a.linkedInProfile, http.MethodGet)
		private("/v1/linkedin/posts", a.linkedInPost, http.MethodPost)
	}

	if a.Assistant != nil {
		private("/v1/ai/email-draft", a.draftEmail, http.MethodPost)
		private("/v1/ai/summarize", a.summarizeNotes, http.MethodPost)
		private("/v1/ai/campaign-copy", a.campaignCopy, http.MethodPost)
	}
}

func (a *API) pageSize(r *http.Request) int {
	def := a.PageSize
	if def <= 0 {
		def = 20
	}
	return queryInt(r, "page_size", def)
}

type listResponse[T any] struct {
	Items      []T                `json:"items"`
	Pagination service.Pagination `json:"pagination"`
}
