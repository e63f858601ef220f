package linkedin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"confcrm/internal/domain"
	"confcrm/internal/store"
	"confcrm/internal/util"
)

var Endpoint = EndpointAt("https://www.linkedin.com")

// EndpointAt points the handshake at base, e.g. a local mock.
func EndpointAt(base string) oauth2.Endpoint {
	base = strings.TrimRight(base, "/")
	return oauth2.Endpoint{
		AuthURL:   base + "/oauth/v2/authorization",
		TokenURL:  base + "/oauth/v2/accessToken",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

var DefaultScopes = []string{"openid", "profile", "email", "w_member_social"}

const provider = "linkedin"

var ErrStateExpired = errors.New("oauth state expired")

type StateStore interface {
	SaveOAuthState(ctx context.Context, st store.OAuthState) error
	ConsumeOAuthState(ctx context.Context, state string) (store.OAuthState, error)
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)
}

type AccountStore interface {
	SaveLinkedInAccount(ctx context.Context, a store.LinkedInAccount) error
	GetLinkedInAccount(ctx context.Context, ownerID string) (store.LinkedInAccount, error)
}

// OAuth runs the authorization-code handshake. State tokens are persisted
// with an expiry and consumed exactly once, so any instance can finish a
// handshake another one began.
type OAuth struct {
	Config   *oauth2.Config
	States   StateStore
	Accounts AccountStore
	API      *Client
	StateTTL time.Duration
	Now      func() time.Time
}

func NewConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     Endpoint,
		Scopes:       DefaultScopes,
	}
}

func (o *OAuth) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return util.NowUTC()
}

// Begin records a fresh state for ownerID and returns the consent URL.
func (o *OAuth) Begin(ctx context.Context, ownerID string) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", err
	}
	ttl := o.StateTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	now := o.now()
	if err := o.States.SaveOAuthState(ctx, store.OAuthState{
		State:     state,
		OwnerID:   ownerID,
		Provider:  provider,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}); err != nil {
		return "", err
	}
	return o.Config.AuthCodeURL(state), nil
}

// Complete validates state, exchanges code and stores the member's tokens.
func (o *OAuth) Complete(ctx context.Context, state, code string) (store.LinkedInAccount, error) {
	if state == "" || code == "" {
		return store.LinkedInAccount{}, domain.Invalid("state and code are required")
	}
	st, err := o.States.ConsumeOAuthState(ctx, state)
	if err != nil {
		return store.LinkedInAccount{}, err
	}
	if !st.ExpiresAt.After(o.now()) {
		return store.LinkedInAccount{}, ErrStateExpired
	}

	tok, err := o.Config.Exchange(ctx, code)
	if err != nil {
		return store.LinkedInAccount{}, fmt.Errorf("exchange code: %w", err)
	}
	profile, err := o.API.GetProfile(ctx, o.Config.Client(ctx, tok))
	if err != nil {
		return store.LinkedInAccount{}, fmt.Errorf("fetch profile: %w", err)
	}

	acct := store.LinkedInAccount{
		OwnerID:      st.OwnerID,
		MemberURN:    profile.MemberURN(),
		Name:         profile.Name,
		Email:        profile.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		UpdatedAt:    o.now(),
	}
	if err := o.Accounts.SaveLinkedInAccount(ctx, acct); err != nil {
		return store.LinkedInAccount{}, err
	}
	slog.Info("linkedin account connected", "owner_id", st.OwnerID, "member_urn", acct.MemberURN)
	return acct, nil
}

// PurgeExpired removes abandoned handshakes.
func (o *OAuth) PurgeExpired(ctx context.Context) (int64, error) {
	return o.States.DeleteExpiredOAuthStates(ctx, o.now())
}

// HTTPClient returns a client authorized as ownerID. Refreshed tokens are
// written back to the account store.
func (o *OAuth) HTTPClient(ctx context.Context, ownerID string) (*http.Client, store.LinkedInAccount, error) {
	acct, err := o.Accounts.GetLinkedInAccount(ctx, ownerID)
	if err != nil {
		return nil, store.LinkedInAccount{}, err
	}
	tok := &oauth2.Token{
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
		TokenType:    acct.TokenType,
		Expiry:       acct.Expiry,
	}
	src := &persistingSource{
		base:     o.Config.TokenSource(context.WithoutCancel(ctx), tok),
		accounts: o.Accounts,
		acct:     acct,
		now:      o.now,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), acct, nil
}

type persistingSource struct {
	mu       sync.Mutex
	base     oauth2.TokenSource
	accounts AccountStore
	acct     store.LinkedInAccount
	now      func() time.Time
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.acct.AccessToken {
		p.acct.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			p.acct.RefreshToken = tok.RefreshToken
		}
		p.acct.Expiry = tok.Expiry
		p.acct.UpdatedAt = p.now()
		if err := p.accounts.SaveLinkedInAccount(context.Background(), p.acct); err != nil {
			slog.Warn("refreshed linkedin token not saved", "owner_id", p.acct.OwnerID, "err", err)
		}
	}
	return tok, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
