package linkedin

import (
	"context"
	"errors"
	"fmt"

	"confcrm/internal/channel"
	"confcrm/internal/domain"
)

// Adapter sends sequence messages as the campaign owner's LinkedIn member.
type Adapter struct {
	OAuth *OAuth
	API   *Client
}

func (a *Adapter) Send(ctx context.Context, m channel.Message) (channel.Receipt, error) {
	hc, _, err := a.OAuth.HTTPClient(ctx, m.OwnerID)
	if errors.Is(err, domain.ErrNotFound) {
		return channel.Receipt{}, channel.Permanent(fmt.Errorf("owner %s has not connected a LinkedIn account", m.OwnerID))
	}
	if err != nil {
		return channel.Receipt{}, channel.Transient(err)
	}
	id, err := a.API.SendMessage(ctx, hc, m.To, m.Subject, m.Body)
	if err != nil {
		var ce *channel.Error
		if errors.As(err, &ce) {
			return channel.Receipt{}, err
		}
		// token refresh failures and transport errors land here
		return channel.Receipt{}, channel.Transient(err)
	}
	return channel.Receipt{ExternalMessageID: id}, nil
}

// Poster publishes posts for the connected owner.
type Poster struct {
	OAuth *OAuth
	API   *Client
}

func (p *Poster) Post(ctx context.Context, ownerID, text string, vis Visibility) (string, error) {
	hc, acct, err := p.OAuth.HTTPClient(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return p.API.CreatePost(ctx, hc, acct.MemberURN, text, vis)
}

func (p *Poster) Profile(ctx context.Context, ownerID string) (Profile, error) {
	hc, _, err := p.OAuth.HTTPClient(ctx, ownerID)
	if err != nil {
		return Profile{}, err
	}
	return p.API.GetProfile(ctx, hc)
}
