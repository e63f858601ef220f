package linkedin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"confcrm/internal/channel"
	"confcrm/internal/domain"
	"confcrm/internal/store"
	"confcrm/internal/store/memory"
)

type fakeLinkedIn struct {
	*httptest.Server
	messageStatus int
	lastMessage   messageRequest
	lastPost      ugcPost
}

func newFake(t *testing.T) *fakeLinkedIn {
	f := &fakeLinkedIn{messageStatus: http.StatusCreated}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"status":401,"message":"Invalid access token"}`))
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/v2/userinfo", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Profile{Sub: "abc123", Name: "Ada Lovelace", Email: "ada@example.com"})
	}))
	mux.HandleFunc("/v2/messages", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastMessage)
		if f.messageStatus != http.StatusCreated {
			w.WriteHeader(f.messageStatus)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
			return
		}
		w.Header().Set("X-RestLi-Id", "urn:li:message:42")
		w.WriteHeader(http.StatusCreated)
	}))
	mux.HandleFunc("/v2/ugcPosts", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastPost)
		w.Header().Set("X-RestLi-Id", "urn:li:share:7")
		w.WriteHeader(http.StatusCreated)
	}))
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newOAuth(f *fakeLinkedIn, st *memory.Store, now time.Time) *OAuth {
	cfg := NewConfig("client", "secret", "https://crm.example.com/v1/linkedin/callback")
	cfg.Endpoint = oauth2.Endpoint{
		AuthURL:   f.URL + "/oauth/v2/authorization",
		TokenURL:  f.URL + "/oauth/v2/accessToken",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return &OAuth{
		Config:   cfg,
		States:   st,
		Accounts: st,
		API:      &Client{BaseURL: f.URL},
		StateTTL: 10 * time.Minute,
		Now:      func() time.Time { return now },
	}
}

func stateFrom(t *testing.T, authURL string) string {
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestOAuthHandshake(t *testing.T) {
	f := newFake(t)
	st := memory.New()
	now := time.Now().UTC()
	o := newOAuth(f, st, now)
	ctx := context.Background()

	authURL, err := o.Begin(ctx, "u1")
	require.NoError(t, err)
	state := stateFrom(t, authURL)
	require.NotEmpty(t, state)

	acct, err := o.Complete(ctx, state, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "u1", acct.OwnerID)
	assert.Equal(t, "urn:li:person:abc123", acct.MemberURN)
	assert.Equal(t, "tok-1", acct.AccessToken)

	_, err = o.Complete(ctx, state, "good-code")
	assert.ErrorIs(t, err, domain.ErrNotFound, "state is single use")
}

func TestOAuthExpiredState(t *testing.T) {
	f := newFake(t)
	st := memory.New()
	now := time.Now().UTC()
	require.NoError(t, st.SaveOAuthState(context.Background(), store.OAuthState{State: "old", OwnerID: "u1", ExpiresAt: now.Add(-time.Second)}))
	o := newOAuth(f, st, now)
	_, err := o.Complete(context.Background(), "old", "good-code")
	assert.ErrorIs(t, err, ErrStateExpired)

	n, err := o.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "consumed states are already gone")
}

func TestAdapterSendsAsOwner(t *testing.T) {
	f := newFake(t)
	st := memory.New()
	o := newOAuth(f, st, time.Now().UTC())
	require.NoError(t, st.SaveLinkedInAccount(context.Background(), store.LinkedInAccount{
		OwnerID: "u1", MemberURN: "urn:li:person:abc123", AccessToken: "tok-1", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour),
	}))
	a := &Adapter{OAuth: o, API: o.API}

	rc, err := a.Send(context.Background(), channel.Message{Channel: domain.ChannelLinkedIn, OwnerID: "u1", To: "urn:li:person:zzz", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:message:42", rc.ExternalMessageID)
	assert.Equal(t, []string{"urn:li:person:zzz"}, f.lastMessage.Recipients)

	f.messageStatus = http.StatusTooManyRequests
	_, err = a.Send(context.Background(), channel.Message{OwnerID: "u1", To: "urn:li:person:zzz", Body: "hello"})
	require.Error(t, err)
	assert.False(t, channel.IsPermanent(err))

	f.messageStatus = http.StatusForbidden
	_, err = a.Send(context.Background(), channel.Message{OwnerID: "u1", To: "urn:li:person:zzz", Body: "hello"})
	assert.True(t, channel.IsPermanent(err))

	_, err = a.Send(context.Background(), channel.Message{OwnerID: "nobody", To: "x", Body: "hello"})
	assert.True(t, channel.IsPermanent(err))
}

func TestPosterCreatesPost(t *testing.T) {
	f := newFake(t)
	st := memory.New()
	o := newOAuth(f, st, time.Now().UTC())
	require.NoError(t, st.SaveLinkedInAccount(context.Background(), store.LinkedInAccount{
		OwnerID: "u1", MemberURN: "urn:li:person:abc123", AccessToken: "tok-1", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour),
	}))
	p := &Poster{OAuth: o, API: o.API}
	id, err := p.Post(context.Background(), "u1", "Heading to GopherCon!", "")
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:7", id)
	assert.Equal(t, "urn:li:person:abc123", f.lastPost.Author)

	prof, err := p.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", prof.Name)
}
