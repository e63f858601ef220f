package httpserver

import (
	"errors"
	"net/http"

	"confcrm/internal/domain"
	"confcrm/internal/providers/linkedin"
)

func (a *API) linkedInConnect(w http.ResponseWriter, r *http.Request) {
	url, err := a.LinkedIn.Begin(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": url})
}

func (a *API) linkedInCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		writeMessage(w, http.StatusBadRequest, "linkedin authorization denied: "+msg)
		return
	}
	acct, err := a.LinkedIn.Complete(r.Context(), q.Get("state"), q.Get("code"))
	switch {
	case errors.Is(err, linkedin.ErrStateExpired), errors.Is(err, domain.ErrNotFound):
		writeMessage(w, http.StatusBadRequest, "invalid or expired state")
		return
	case err != nil:
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, r, err)
			return
		}
		writeMessage(w, http.StatusBadGateway, ErrDependency)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected":  true,
		"member_urn": acct.MemberURN,
		"name":       acct.Name,
	})
}

func (a *API) linkedInProfile(w http.ResponseWriter, r *http.Request) {
	if a.Poster == nil {
		http.NotFound(w, r)
		return
	}
	p, err := a.Poster.Profile(r.Context(), owner(r))
	if err != nil {
		dependencyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type postRequest struct {
	Text       string              `json:"text" validate:"required,max=3000"`
	Visibility linkedin.Visibility `json:"visibility" validate:"omitempty,oneof=PUBLIC CONNECTIONS"`
}

func (a *API) linkedInPost(w http.ResponseWriter, r *http.Request) {
	if a.Poster == nil {
		http.NotFound(w, r)
		return
	}
	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := domain.ValidateStruct(req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := a.Poster.Post(r.Context(), owner(r), req.Text, req.Visibility)
	if err != nil {
		dependencyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"post_id": id})
}
