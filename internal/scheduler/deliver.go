package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"confcrm/internal/channel"
	"confcrm/internal/domain"
	"confcrm/internal/observability"
	"confcrm/internal/store"
)

// deliver handles one claimed recipient end to end. Outcome writes use a
// context detached from shutdown so an in-flight send is still recorded.
func (s *Scheduler) deliver(ctx context.Context, cfg Config, lease string, cl store.Claim, t *tally) {
	c, r := cl.Campaign, cl.Recipient
	seq := r.CurrentSequence
	log := slog.With("campaign_id", c.ID, "contact_id", r.ContactID, "sequence_number", seq)
	work := context.WithoutCancel(ctx)

	fail := func(cause error, permanent bool) {
		ch := "unknown"
		if cl.Entry != nil {
			ch = string(cl.Entry.ChannelType)
		}
		attempts := r.Attempts + 1
		terminal := permanent || attempts >= cfg.MaxAttempts
		detail := cause.Error()
		if !permanent {
			detail = fmt.Sprintf("%s (attempt %d of %d)", detail, attempts, cfg.MaxAttempts)
		}
		now := s.now()
		err := s.record(work, cfg, func(ctx context.Context) error {
			return s.Store.RecordSendFailure(ctx, store.SendFailure{
				CampaignID:     c.ID,
				ContactID:      r.ContactID,
				Lease:          lease,
				SequenceNumber: seq,
				Attempts:       attempts,
				Terminal:       terminal,
				At:             now,
				Event:          domain.InteractionEvent{At: now, Event: domain.EventFailed, SequenceNumber: seq, Detail: detail},
			})
		})
		switch {
		case errors.Is(err, store.ErrLeaseLost):
			log.Warn("lease lost before failure was recorded")
			t.add(func(p *PassResult) { p.LeaseLost++ })
		case err != nil:
			log.Error("could not record send failure", "err", err)
		case terminal:
			log.Warn("recipient failed", "err", cause, "attempts", attempts)
			observability.Deliveries.WithLabelValues(ch, "failed").Inc()
			t.add(func(p *PassResult) { p.Failed++ })
		default:
			log.Info("send will be retried", "err", cause, "attempts", attempts)
			observability.Deliveries.WithLabelValues(ch, "retry").Inc()
			t.add(func(p *PassResult) { p.Retrying++ })
		}
	}

	// 1) the step must exist
	if cl.Entry == nil {
		fail(&domain.RenderError{Reason: fmt.Sprintf("campaign has no message %d", seq)}, true)
		return
	}
	entry := *cl.Entry

	// 2) contact data
	contact, err := s.Contacts.GetContact(ctx, r.ContactID)
	if errors.Is(err, domain.ErrNotFound) {
		fail(&domain.RenderError{Reason: "contact " + r.ContactID + " not found"}, true)
		return
	}
	if err != nil {
		fail(err, false)
		return
	}

	// 3) render
	msg, err := domain.RenderEntry(entry, domain.MergeValues(contact.Values(), r.PersonalizedData))
	if err != nil {
		fail(err, true)
		return
	}
	to := contact.Address(entry.ChannelType)
	if to == "" {
		fail(fmt.Errorf("contact has no %s address", entry.ChannelType), true)
		return
	}

	// 4) renew: earlier sends in the batch may have used up most of the lease
	err = s.record(work, cfg, func(ctx context.Context) error {
		return s.Store.RenewLease(ctx, store.LeaseRenewal{
			CampaignID:     c.ID,
			ContactID:      r.ContactID,
			Lease:          lease,
			SequenceNumber: seq,
			Now:            s.now(),
			LeaseTTL:       cfg.LeaseTTL,
		})
	})
	switch {
	case errors.Is(err, store.ErrLeaseLost):
		log.Info("lease gone before send; skipping")
		t.add(func(p *PassResult) { p.LeaseLost++ })
		return
	case err != nil:
		log.Error("could not renew lease; skipping", "err", err)
		return
	}

	// 5) send
	sendCtx, cancel := context.WithTimeout(work, cfg.SendTimeout)
	receipt, err := s.Sender.Send(sendCtx, channel.Message{
		Channel:        entry.ChannelType,
		OwnerID:        c.OwnerID,
		To:             to,
		Subject:        msg.Subject,
		Body:           msg.Body,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", c.ID, r.ContactID, seq),
	})
	cancel()
	if err != nil {
		fail(err, channel.IsPermanent(err))
		return
	}

	// 6) advance
	sentAt := s.now()
	var next *time.Time
	if seq+1 <= c.MessageCount {
		at := sentAt.Add(c.Interval())
		next = &at
	}
	err = s.record(work, cfg, func(ctx context.Context) error {
		return s.Store.RecordSendSuccess(ctx, store.SendSuccess{
			CampaignID:        c.ID,
			ContactID:         r.ContactID,
			Lease:             lease,
			SequenceNumber:    seq,
			Channel:           entry.ChannelType,
			ExternalMessageID: receipt.ExternalMessageID,
			SentAt:            sentAt,
			NextAt:            next,
			Event:             domain.InteractionEvent{At: sentAt, Event: domain.EventSent, SequenceNumber: seq, Detail: receipt.ExternalMessageID},
		})
	})
	switch {
	case errors.Is(err, store.ErrLeaseLost):
		// another worker owns the recipient now; the send cannot be undone
		log.Warn("lease lost after send; message may be delivered twice", "external_message_id", receipt.ExternalMessageID)
		t.add(func(p *PassResult) { p.LeaseLost++ })
	case err != nil:
		log.Error("send succeeded but could not be recorded", "err", err, "external_message_id", receipt.ExternalMessageID)
	default:
		observability.Deliveries.WithLabelValues(string(entry.ChannelType), "sent").Inc()
		t.add(func(p *PassResult) { p.Sent++ })
	}
}

// record retries transient store failures; a lost lease is final.
func (s *Scheduler) record(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < cfg.RecordRetries; attempt++ {
		err = fn(ctx)
		if err == nil || errors.Is(err, store.ErrLeaseLost) {
			return err
		}
		if attempt < cfg.RecordRetries-1 {
			time.Sleep(cfg.RecordBackoff(attempt))
		}
	}
	return err
}
