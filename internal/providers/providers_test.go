package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/channel"
	"confcrm/internal/config"
	"confcrm/internal/domain"
	"confcrm/internal/store/memory"
)

func TestNewRegistryRegistersConfiguredChannels(t *testing.T) {
	reg := NewRegistry(Options{}, nil)
	assert.Empty(t, reg.Channels())

	st := memory.New()
	oauth := NewLinkedInOAuth(config.LinkedInConfig{
		ClientID: "id", ClientSecret: "secret", RedirectURL: "http://localhost/cb", APIBaseURL: "http://127.0.0.1:1",
		RPS: 5, Burst: 5,
	}, st)
	require.NotNil(t, oauth)

	reg = NewRegistry(Options{
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "team@example.com", RPS: 10, Burst: 10},
	}, oauth)
	assert.ElementsMatch(t, []domain.ChannelType{domain.ChannelEmail, domain.ChannelLinkedIn}, reg.Channels())
}

func TestLinkedInSendWithoutAccountIsPermanent(t *testing.T) {
	st := memory.New()
	oauth := NewLinkedInOAuth(config.LinkedInConfig{ClientID: "id", ClientSecret: "secret", APIBaseURL: "http://127.0.0.1:1"}, st)
	reg := NewRegistry(Options{}, oauth)

	_, err := reg.Send(context.Background(), channel.Message{
		Channel: domain.ChannelLinkedIn, OwnerID: "u1", To: "urn:li:person:abc", Body: "hi",
	})
	require.Error(t, err)
	assert.True(t, channel.IsPermanent(err))
}

func TestNewLinkedInOAuthDisabled(t *testing.T) {
	assert.Nil(t, NewLinkedInOAuth(config.LinkedInConfig{}, memory.New()))
}

func TestNewLinkedInOAuthUsesAuthBaseURL(t *testing.T) {
	oauth := NewLinkedInOAuth(config.LinkedInConfig{ClientID: "id", ClientSecret: "secret", AuthBaseURL: "http://localhost:9090/"}, memory.New())
	require.NotNil(t, oauth)
	assert.Equal(t, "http://localhost:9090/oauth/v2/accessToken", oauth.Config.Endpoint.TokenURL)
	assert.Equal(t, "http://localhost:9090/oauth/v2/authorization", oauth.Config.Endpoint.AuthURL)
}
