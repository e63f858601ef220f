// Package linkedin talks to the LinkedIn REST API on behalf of a user who
// connected their account through OAuth.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"confcrm/internal/channel"
)

const DefaultBaseURL = "https://api.linkedin.com"

// Client issues API calls with an *http.Client that already carries the
// member's token (see OAuth.HTTPClient).
type Client struct {
	BaseURL string
}

type Profile struct {
	Sub        string `json:"sub"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
	Picture    string `json:"picture"`
}

// MemberURN is the person URN LinkedIn expects as author or sender.
func (p Profile) MemberURN() string { return "urn:li:person:" + p.Sub }

type apiError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) GetProfile(ctx context.Context, hc *http.Client) (Profile, error) {
	var out Profile
	_, err := c.do(ctx, hc, http.MethodGet, "/v2/userinfo", nil, &out)
	return out, err
}

type messageRequest struct {
	Recipients  []string `json:"recipients"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body"`
	MessageType string   `json:"messageType"`
}

// SendMessage delivers a direct message to recipientURN and returns the id
// LinkedIn assigned to it.
func (c *Client) SendMessage(ctx context.Context, hc *http.Client, recipientURN, subject, body string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	hdr, err := c.do(ctx, hc, http.MethodPost, "/v2/messages", messageRequest{
		Recipients:  []string{recipientURN},
		Subject:     subject,
		Body:        body,
		MessageType: "MEMBER_TO_MEMBER",
	}, &out)
	if err != nil {
		return "", err
	}
	if id := hdr.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	return out.ID, nil
}

type Visibility string

const (
	VisibilityPublic      Visibility = "PUBLIC"
	VisibilityConnections Visibility = "CONNECTIONS"
)

type ugcPost struct {
	Author          string         `json:"author"`
	LifecycleState  string         `json:"lifecycleState"`
	SpecificContent map[string]any `json:"specificContent"`
	Visibility      map[string]any `json:"visibility"`
}

// CreatePost shares a text post as authorURN.
func (c *Client) CreatePost(ctx context.Context, hc *http.Client, authorURN, text string, vis Visibility) (string, error) {
	if vis == "" {
		vis = VisibilityPublic
	}
	body := ugcPost{
		Author:         authorURN,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": text},
				"shareMediaCategory": "NONE",
			},
		},
		Visibility: map[string]any{"com.linkedin.ugc.MemberNetworkVisibility": string(vis)},
	}
	var out struct {
		ID string `json:"id"`
	}
	hdr, err := c.do(ctx, hc, http.MethodPost, "/v2/ugcPosts", body, &out)
	if err != nil {
		return "", err
	}
	if id := hdr.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	return out.ID, nil
}

// do performs one JSON call. Non-2xx responses come back as *channel.Error
// carrying the status so callers can tell retryable failures apart.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any) (http.Header, error) {
	var rdr io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, channel.Transient(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(b, &ae)
		msg := ae.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.Header, channel.FromHTTP(resp.StatusCode, errors.New(msg))
	}
	if out != nil && len(b) > 0 {
		if err := json.Unmarshal(b, out); err != nil {
			return resp.Header, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.Header, nil
}
