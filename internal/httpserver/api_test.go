package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/assistant"
	"confcrm/internal/auth"
	"confcrm/internal/domain"
	"confcrm/internal/service"
	"confcrm/internal/store/memory"
)

type fakeGen struct {
	out string
	err error
}

func (g fakeGen) Generate(context.Context, assistant.Prompt) (string, error) { return g.out, g.err }

type testAPI struct {
	handler http.Handler
	token   string
	store   *memory.Store
}

func newTestAPI(t *testing.T, gen assistant.Generator) *testAPI {
	t.Helper()
	st := memory.New()
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens := &auth.Tokens{Secret: []byte("test-secret"), Issuer: "confcrm", Now: clock}

	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, st.UpsertContact(context.Background(), domain.Contact{ID: id, Email: id + "@example.com", FirstName: "Ana"}))
	}

	api := &API{
		Campaigns: &service.CampaignService{Store: st, Templates: st, Contacts: st, Now: clock},
		Templates: &service.TemplateService{Store: st, Now: clock},
		Tokens:    tokens,
		PageSize:  10,
	}
	if gen != nil {
		api.Assistant = &assistant.Assistant{Gen: gen}
	}
	s := New()
	api.Register(s.Mux)

	tok, err := tokens.Issue("u1", time.Hour)
	require.NoError(t, err)
	return &testAPI{handler: s.Handler(), token: tok, store: st}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+a.token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func campaignBody() map[string]any {
	return map[string]any{
		"name":          "Booth follow-up",
		"channel_type":  "email",
		"interval_days": 3,
		"messages": []map[string]any{
			{"sequence_number": 1, "subject": "Hi", "message_body": "Hi {{first_name}}"},
			{"sequence_number": 2, "subject": "Again", "message_body": "Following up"},
		},
	}
}

func TestCampaignLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/v1/campaigns", campaignBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[service.CampaignDetails](t, rec)
	id := created.Campaign.ID
	require.NotEmpty(t, id)
	assert.Equal(t, domain.StatusDraft, created.Campaign.Status)

	rec = a.do(t, http.MethodPost, "/v1/campaigns/"+id+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "no recipients yet")

	rec = a.do(t, http.MethodPost, "/v1/campaigns/"+id+"/recipients", map[string]any{"contact_ids": []string{"c1", "c2", "c1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decode[service.AddRecipientsResult](t, rec)
	assert.Equal(t, 2, added.Added)
	assert.Equal(t, 1, added.Duplicates)

	rec = a.do(t, http.MethodPost, "/v1/campaigns/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusActive, decode[domain.Campaign](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/v1/campaigns/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusPaused, decode[domain.Campaign](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/v1/campaigns/"+id+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/campaigns?status=paused", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse[domain.Campaign]](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Pagination.TotalCount)

	rec = a.do(t, http.MethodDelete, "/v1/campaigns/"+id+"/recipients/c2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/campaigns/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[service.CampaignDetails](t, rec).Recipients, 1)

	rec = a.do(t, http.MethodPost, "/v1/campaigns/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusCancelled, decode[domain.Campaign](t, rec).Status)
}

func TestCampaignErrorsMapToStatus(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/v1/campaigns/cmp_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := campaignBody()
	delete(body, "name")
	rec = a.do(t, http.MethodPost, "/v1/campaigns", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	eb := decode[errorBody](t, rec)
	assert.Equal(t, ErrValidation, eb.Error)
	assert.NotEmpty(t, eb.Details)

	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+a.token)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, ErrInvalidJSON, decode[errorBody](t, rr).Error)
}

func TestRequireAuth(t *testing.T) {
	a := newTestAPI(t, nil)

	for _, header := range []string{"", "Bearer ", "Bearer not-a-jwt", "Basic dTE6cGFzcw=="} {
		req := httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestCampaignsAreScopedToOwner(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodPost, "/v1/campaigns", campaignBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[service.CampaignDetails](t, rec).Campaign.ID

	other, err := (&auth.Tokens{Secret: []byte("test-secret"), Issuer: "confcrm"}).Issue("u2", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/campaigns/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTemplateRoutes(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodPost, "/v1/templates", map[string]any{
		"name": "Intro", "category": "follow_up", "channel_type": "email",
		"subject": "Hi", "message_body": "Hi {{first_name}}",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tpl := decode[domain.Template](t, rec)

	rec = a.do(t, http.MethodPost, "/v1/templates/"+tpl.ID+"/use", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/templates?category=follow_up", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse[domain.Template]](t, rec)
	require.Len(t, list.Items, 1)

	rec = a.do(t, http.MethodDelete, "/v1/templates/"+tpl.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, http.MethodGet, "/v1/templates/"+tpl.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssistantRoutes(t *testing.T) {
	t.Run("not mounted without a generator", func(t *testing.T) {
		a := newTestAPI(t, nil)
		rec := a.do(t, http.MethodPost, "/v1/ai/summarize", map[string]any{"notes": "x"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("validation is a 400", func(t *testing.T) {
		a := newTestAPI(t, fakeGen{out: `{"summary":"s"}`})
		rec := a.do(t, http.MethodPost, "/v1/ai/summarize", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("generator failure is a 502", func(t *testing.T) {
		a := newTestAPI(t, fakeGen{err: errors.New("quota exceeded")})
		rec := a.do(t, http.MethodPost, "/v1/ai/summarize", map[string]any{"notes": "met at booth"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, ErrDependency, decode[errorBody](t, rec).Error)
	})

	t.Run("summary", func(t *testing.T) {
		a := newTestAPI(t, fakeGen{out: `{"summary":"Met Ana","action_items":["send deck"],"topics":["pricing"]}`})
		rec := a.do(t, http.MethodPost, "/v1/ai/summarize", map[string]any{"notes": "met Ana, wants deck"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		out := decode[assistant.NotesSummary](t, rec)
		assert.Equal(t, "Met Ana", out.Summary)
		assert.Equal(t, []string{"send deck"}, out.ActionItems)
	})
}
