// Package email delivers sequence messages over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/badoux/checkmail"
	"gopkg.in/gomail.v2"

	"confcrm/internal/channel"
	"confcrm/internal/util"
)

type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// MessageIDDomain is the right-hand side of generated Message-IDs.
	MessageIDDomain string
}

type Adapter struct {
	Dialer Dialer
	Config Config
	NewID  func(prefix string) string
}

func New(cfg Config) *Adapter {
	return &Adapter{
		Dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		Config: cfg,
	}
}

// Send returns the Message-ID it stamped as the external id, so replies and
// bounces can be matched back.
func (a *Adapter) Send(ctx context.Context, m channel.Message) (channel.Receipt, error) {
	if err := checkmail.ValidateFormat(m.To); err != nil {
		return channel.Receipt{}, channel.Permanent(fmt.Errorf("invalid recipient address %q: %w", m.To, err))
	}

	newID := util.NewID
	if a.NewID != nil {
		newID = a.NewID
	}
	domainPart := a.Config.MessageIDDomain
	if domainPart == "" {
		if at := strings.LastIndex(a.Config.From, "@"); at >= 0 {
			domainPart = a.Config.From[at+1:]
		}
	}
	msgID := fmt.Sprintf("<%s@%s>", newID("msg"), domainPart)

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", a.Config.From, a.Config.FromName)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetHeader("Message-ID", msgID)
	if m.IdempotencyKey != "" {
		msg.SetHeader("X-CRM-Delivery", m.IdempotencyKey)
	}
	msg.SetBody("text/plain", m.Body)

	done := make(chan error, 1)
	go func() { done <- a.Dialer.DialAndSend(msg) }()
	select {
	case <-ctx.Done():
		return channel.Receipt{}, channel.Transient(ctx.Err())
	case err := <-done:
		if err != nil {
			return channel.Receipt{}, classify(err)
		}
	}
	return channel.Receipt{ExternalMessageID: msgID}, nil
}

// classify maps SMTP replies to retry semantics: 4xx and auth problems are
// transient, other 5xx replies reject the recipient for good.
func classify(err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch {
		case tp.Code == 530 || tp.Code == 534 || tp.Code == 535:
			return channel.Transient(err)
		case tp.Code >= 500:
			return channel.Permanent(err)
		}
	}
	return channel.Transient(err)
}
