// Package providers wires the concrete channel adapters behind their rate
// limiters and circuit breakers.
package providers

import (
	"time"

	"golang.org/x/time/rate"

	"confcrm/internal/channel"
	"confcrm/internal/config"
	"confcrm/internal/domain"
	"confcrm/internal/providers/email"
	"confcrm/internal/providers/linkedin"
)

type LinkedInStore interface {
	linkedin.StateStore
	linkedin.AccountStore
}

// NewLinkedInOAuth returns nil when no LinkedIn app is configured.
func NewLinkedInOAuth(cfg config.LinkedInConfig, st LinkedInStore) *linkedin.OAuth {
	if !cfg.Enabled() {
		return nil
	}
	oc := linkedin.NewConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL)
	if cfg.AuthBaseURL != "" {
		oc.Endpoint = linkedin.EndpointAt(cfg.AuthBaseURL)
	}
	return &linkedin.OAuth{
		Config:   oc,
		States:   st,
		Accounts: st,
		API:      &linkedin.Client{BaseURL: cfg.APIBaseURL},
		StateTTL: 10 * time.Minute,
	}
}

type Options struct {
	SMTP            config.SMTPConfig
	LinkedIn        config.LinkedInConfig
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// NewRegistry registers every channel that is configured. A campaign step on
// an unregistered channel fails permanently at send time.
func NewRegistry(opts Options, oauth *linkedin.OAuth) *channel.Registry {
	reg := channel.NewRegistry()
	if opts.SMTP.Enabled() {
		reg.Register(domain.ChannelEmail, guard("email", email.New(email.Config{
			Host:            opts.SMTP.Host,
			Port:            opts.SMTP.Port,
			Username:        opts.SMTP.Username,
			Password:        opts.SMTP.Password,
			From:            opts.SMTP.From,
			FromName:        opts.SMTP.FromName,
			MessageIDDomain: opts.SMTP.MessageIDDomain,
		}), opts.SMTP.RPS, opts.SMTP.Burst, opts))
	}
	if oauth != nil {
		reg.Register(domain.ChannelLinkedIn, guard("linkedin", &linkedin.Adapter{
			OAuth: oauth,
			API:   oauth.API,
		}, opts.LinkedIn.RPS, opts.LinkedIn.Burst, opts))
	}
	return reg
}

func guard(name string, next channel.Adapter, rps, burst int, opts Options) *channel.Guarded {
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 10
	}
	openFor := opts.BreakerOpenFor
	if openFor <= 0 {
		openFor = 20 * time.Second
	}
	g := &channel.Guarded{
		Name:    name,
		Next:    next,
		Breaker: channel.NewBreaker(name, failures, openFor),
	}
	if rps > 0 {
		g.Limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
	return g
}
