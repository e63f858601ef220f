package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

// terminalRecipient matches recipients the scheduler will never claim again;
// $2 must be the campaign's message_count.
const terminalRecipient = `(status IN ('bounced', 'failed') OR current_message_sequence > $2)`

type campaignTx struct {
	tx pgx.Tx
	c  domain.Campaign
}

func (t *campaignTx) Campaign() domain.Campaign { return t.c }

func (t *campaignTx) Sequence(ctx context.Context) ([]domain.SequenceEntry, error) {
	return listSequence(ctx, t.tx, t.c.ID)
}

func (t *campaignTx) RecipientStats(ctx context.Context) (store.RecipientStats, error) {
	var st store.RecipientStats
	err := t.tx.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE `+terminalRecipient+`),
		       COALESCE(max(current_message_sequence), 0)
		FROM campaign_recipients WHERE campaign_id=$1
	`, t.c.ID, t.c.MessageCount).Scan(&st.Total, &st.Terminal, &st.MaxSequence)
	return st, err
}

func (t *campaignTx) SaveCampaign(ctx context.Context, c domain.Campaign) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE campaigns SET
			name=$2, description=$3, status=$4, message_count=$5, interval_days=$6,
			start_date=$7, end_date=$8, target_audience=$9::jsonb, settings=$10::jsonb,
			started_at=$11, completed_at=$12, updated_at=$13
		WHERE id=$1
	`, t.c.ID, c.Name, c.Description, c.Status, c.MessageCount, c.IntervalDays,
		c.StartDate, c.EndDate, rawJSON(c.TargetAudience), rawJSON(c.Settings),
		c.StartedAt, c.CompletedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	// Stats are owned by the scheduler and event writers.
	c.Stats = t.c.Stats
	t.c = c
	return nil
}

func (t *campaignTx) ReplaceSequence(ctx context.Context, entries []domain.SequenceEntry) error {
	if err := domain.CheckContiguous(entries); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM campaign_messages WHERE campaign_id=$1`, t.c.ID); err != nil {
		return err
	}
	return insertEntries(ctx, t.tx, t.c.ID, entries)
}

func (t *campaignTx) InsertRecipients(ctx context.Context, in []store.NewRecipient, nextAt *time.Time, now time.Time) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, nr := range in {
		var data any
		if nr.PersonalizedData != nil {
			s, err := marshalJSON(nr.PersonalizedData)
			if err != nil {
				return 0, err
			}
			data = s
		}
		batch.Queue(`
			INSERT INTO campaign_recipients (campaign_id, contact_id, status, current_message_sequence,
				next_message_scheduled_at, personalized_data, created_at, updated_at)
			VALUES ($1,$2,'pending',1,$3,$4::jsonb,$5,$5)
			ON CONFLICT (campaign_id, contact_id) DO NOTHING
		`, t.c.ID, nr.ContactID, nextAt, data, now)
	}

	br := t.tx.SendBatch(ctx, batch)
	added := 0
	for range in {
		ct, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, err
		}
		added += int(ct.RowsAffected())
	}
	return added, br.Close()
}

func (t *campaignTx) Delete(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM campaigns WHERE id=$1`, t.c.ID)
	return err
}

func (t *campaignTx) ScheduleUnscheduled(ctx context.Context, at time.Time) (int64, error) {
	// GREATEST ignores NULL, so recipients that never received a message get at.
	ct, err := t.tx.Exec(ctx, `
		UPDATE campaign_recipients
		SET next_message_scheduled_at = GREATEST($3::timestamptz, last_message_sent_at + make_interval(days => $4))
		WHERE campaign_id=$1 AND next_message_scheduled_at IS NULL AND NOT `+terminalRecipient+`
	`, t.c.ID, t.c.MessageCount, at, t.c.IntervalDays)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *campaignTx) PullForwardOverdue(ctx context.Context, now time.Time) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE campaign_recipients
		SET next_message_scheduled_at = $3
		WHERE campaign_id=$1 AND NOT `+terminalRecipient+`
		  AND (next_message_scheduled_at IS NULL OR next_message_scheduled_at < $3)
	`, t.c.ID, t.c.MessageCount, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *campaignTx) UnscheduleAll(ctx context.Context) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE campaign_recipients SET next_message_scheduled_at = NULL
		WHERE campaign_id=$1 AND next_message_scheduled_at IS NOT NULL
	`, t.c.ID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *campaignTx) UnscheduleExhausted(ctx context.Context) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE campaign_recipients SET next_message_scheduled_at = NULL
		WHERE campaign_id=$1 AND next_message_scheduled_at IS NOT NULL AND current_message_sequence > $2
	`, t.c.ID, t.c.MessageCount)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
