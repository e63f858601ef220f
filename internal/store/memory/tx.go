package memory

import (
	"context"
	"time"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

type campaignTx struct {
	row     *campaignRow
	deleted bool
}

func (t *campaignTx) Campaign() domain.Campaign { return t.row.c }

func (t *campaignTx) Sequence(context.Context) ([]domain.SequenceEntry, error) {
	return cloneEntries(t.row.seq), nil
}

func (t *campaignTx) RecipientStats(context.Context) (store.RecipientStats, error) {
	var st store.RecipientStats
	for _, rr := range t.row.recipients {
		st.Total++
		if rr.r.Terminal(t.row.c.MessageCount) {
			st.Terminal++
		}
		st.MaxSequence = max(st.MaxSequence, rr.r.CurrentSequence)
	}
	return st, nil
}

func (t *campaignTx) SaveCampaign(_ context.Context, c domain.Campaign) error {
	t.row.c = c
	return nil
}

func (t *campaignTx) ReplaceSequence(_ context.Context, entries []domain.SequenceEntry) error {
	if err := domain.CheckContiguous(entries); err != nil {
		return err
	}
	t.row.seq = cloneEntries(entries)
	return nil
}

func (t *campaignTx) InsertRecipients(_ context.Context, in []store.NewRecipient, nextAt *time.Time, now time.Time) (int, error) {
	added := 0
	for _, nr := range in {
		if _, ok := t.row.recipients[nr.ContactID]; ok {
			continue
		}
		r := domain.Recipient{
			CampaignID:       t.row.c.ID,
			ContactID:        nr.ContactID,
			Status:           domain.RecipientPending,
			CurrentSequence:  1,
			PersonalizedData: nr.PersonalizedData,
			History:          []domain.InteractionEvent{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if nextAt != nil {
			at := *nextAt
			r.NextMessageScheduledAt = &at
		}
		t.row.recipients[nr.ContactID] = &recipientRow{r: r}
		t.row.order = append(t.row.order, nr.ContactID)
		added++
	}
	return added, nil
}

func (t *campaignTx) Delete(context.Context) error {
	t.deleted = true
	return nil
}

func (t *campaignTx) ScheduleUnscheduled(_ context.Context, at time.Time) (int64, error) {
	var n int64
	for _, rr := range t.row.recipients {
		r := &rr.r
		if r.NextMessageScheduledAt != nil || r.Terminal(t.row.c.MessageCount) {
			continue
		}
		due := at
		if r.LastMessageSentAt != nil {
			if spaced := r.LastMessageSentAt.Add(t.row.c.Interval()); spaced.After(due) {
				due = spaced
			}
		}
		r.NextMessageScheduledAt = &due
		n++
	}
	return n, nil
}

func (t *campaignTx) PullForwardOverdue(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, rr := range t.row.recipients {
		r := &rr.r
		if r.Terminal(t.row.c.MessageCount) {
			continue
		}
		if r.NextMessageScheduledAt == nil || r.NextMessageScheduledAt.Before(now) {
			at := now
			r.NextMessageScheduledAt = &at
			n++
		}
	}
	return n, nil
}

func (t *campaignTx) UnscheduleAll(context.Context) (int64, error) {
	var n int64
	for _, rr := range t.row.recipients {
		if rr.r.NextMessageScheduledAt != nil {
			rr.r.NextMessageScheduledAt = nil
			n++
		}
	}
	return n, nil
}

func (t *campaignTx) UnscheduleExhausted(context.Context) (int64, error) {
	var n int64
	for _, rr := range t.row.recipients {
		if rr.r.NextMessageScheduledAt != nil && rr.r.Exhausted(t.row.c.MessageCount) {
			rr.r.NextMessageScheduledAt = nil
			n++
		}
	}
	return n, nil
}
