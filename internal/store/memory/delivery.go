package memory

import (
	"context"
	"sort"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

func (s *Store) ClaimDueRecipients(_ context.Context, p store.ClaimParams) ([]store.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type due struct {
		row *campaignRow
		rr  *recipientRow
	}
	var candidates []due
	for _, row := range s.campaigns {
		if row.c.Status != domain.StatusActive || row.c.Ended(p.Now) {
			continue
		}
		for _, id := range row.order {
			rr := row.recipients[id]
			r := rr.r
			switch {
			case r.NextMessageScheduledAt == nil || r.NextMessageScheduledAt.After(p.Now):
			case r.Terminal(row.c.MessageCount):
			case rr.lease != "" && rr.leaseExpires.After(p.Now):
			case rr.lastPass == p.Lease:
			default:
				candidates = append(candidates, due{row: row, rr: rr})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rr.r.NextMessageScheduledAt.Before(*candidates[j].rr.r.NextMessageScheduledAt)
	})
	if p.Limit > 0 && len(candidates) > p.Limit {
		candidates = candidates[:p.Limit]
	}

	out := make([]store.Claim, 0, len(candidates))
	for _, d := range candidates {
		d.rr.lease = p.Lease
		d.rr.leaseExpires = p.Now.Add(p.LeaseTTL)
		d.rr.lastPass = p.Lease
		d.rr.r.UpdatedAt = p.Now
		cl := store.Claim{Campaign: d.row.c, Recipient: cloneRecipient(d.rr.r)}
		if n := d.rr.r.CurrentSequence; n >= 1 && n <= len(d.row.seq) {
			e := cloneEntries(d.row.seq[n-1 : n])[0]
			cl.Entry = &e
		}
		out = append(out, cl)
	}
	return out, nil
}

// leased finds a recipient still held by lease at the given step.
func (s *Store) leased(campaignID, contactID, lease string, seq int) (*campaignRow, *recipientRow, error) {
	row, ok := s.campaigns[campaignID]
	if !ok {
		return nil, nil, store.ErrLeaseLost
	}
	rr, ok := row.recipients[contactID]
	if !ok || rr.lease != lease || rr.r.CurrentSequence != seq {
		return nil, nil, store.ErrLeaseLost
	}
	return row, rr, nil
}

func (s *Store) RenewLease(_ context.Context, p store.LeaseRenewal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, rr, err := s.leased(p.CampaignID, p.ContactID, p.Lease, p.SequenceNumber)
	if err != nil {
		return err
	}
	if !rr.leaseExpires.After(p.Now) || rr.r.Status.Terminal() ||
		row.c.Status != domain.StatusActive || row.c.Ended(p.Now) {
		rr.lease = ""
		return store.ErrLeaseLost
	}
	rr.leaseExpires = p.Now.Add(p.LeaseTTL)
	return nil
}

func (s *Store) RecordSendSuccess(_ context.Context, in store.SendSuccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, rr, err := s.leased(in.CampaignID, in.ContactID, in.Lease, in.SequenceNumber)
	if err != nil {
		return err
	}
	r := &rr.r
	sentAt := in.SentAt
	next := in.NextAt
	if r.Status.Terminal() || !schedulable(row.c.Status) {
		next = nil
	}
	if !r.Status.Terminal() {
		r.Status = domain.RecipientSent
	}
	r.CurrentSequence++
	r.Attempts = 0
	r.LastMessageSentAt = &sentAt
	r.NextMessageScheduledAt = next
	r.History = append(r.History, in.Event)
	r.UpdatedAt = in.SentAt
	rr.lease = ""
	row.c.Stats.Sent++
	row.c.UpdatedAt = in.SentAt
	if in.ExternalMessageID != "" {
		s.messages[messageKey{in.Channel, in.ExternalMessageID}] = messageRef{in.CampaignID, in.ContactID, in.SequenceNumber}
	}
	return nil
}

// schedulable reports whether recipients of a campaign in status st may
// carry a due time.
func schedulable(st domain.CampaignStatus) bool {
	return st == domain.StatusActive || st == domain.StatusPaused
}

func (s *Store) RecordSendFailure(_ context.Context, in store.SendFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, rr, err := s.leased(in.CampaignID, in.ContactID, in.Lease, in.SequenceNumber)
	if err != nil {
		return err
	}
	r := &rr.r
	r.Attempts = in.Attempts
	if in.Terminal {
		if !r.Status.Terminal() {
			r.Status = domain.RecipientFailed
		}
		r.NextMessageScheduledAt = nil
	}
	r.History = append(r.History, in.Event)
	r.UpdatedAt = in.At
	rr.lease = ""
	return nil
}

func (s *Store) FinishedActiveCampaigns(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, row := range s.campaigns {
		if row.c.Status != domain.StatusActive || len(row.recipients) == 0 {
			continue
		}
		done := true
		for _, rr := range row.recipients {
			if !rr.r.Terminal(row.c.MessageCount) {
				done = false
				break
			}
		}
		if done {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) UpdateRecipientByMessage(_ context.Context, channel domain.ChannelType, externalID string, fn store.RecipientUpdateFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.messages[messageKey{channel, externalID}]
	if !ok {
		return false, nil
	}
	row, ok := s.campaigns[ref.campaignID]
	if !ok {
		return false, nil
	}
	rr, ok := row.recipients[ref.contactID]
	if !ok {
		return false, nil
	}
	r := cloneRecipient(rr.r)
	c := row.c
	if err := fn(&r, &c, ref.seq); err != nil {
		return true, err
	}
	rr.r = r
	row.c.Stats = c.Stats
	return true, nil
}
