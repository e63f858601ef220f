package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

// ClaimDueRecipients leases up to p.Limit due recipients of active campaigns.
// SKIP LOCKED lets concurrent schedulers split the due set instead of
// queueing behind each other; the lease columns keep a recipient exclusive
// after this statement commits.
func (s *Store) ClaimDueRecipients(ctx context.Context, p store.ClaimParams) ([]store.Claim, error) {
	limit := any(nil)
	if p.Limit > 0 {
		limit = p.Limit
	}
	rows, err := s.DB.Query(ctx, `
		WITH due AS (
			SELECT r.campaign_id, r.contact_id
			FROM campaign_recipients r
			JOIN campaigns c ON c.id = r.campaign_id
			WHERE c.status = 'active'
			  AND (c.end_date IS NULL OR c.end_date > $1)
			  AND r.next_message_scheduled_at IS NOT NULL
			  AND r.next_message_scheduled_at <= $1
			  AND r.status NOT IN ('bounced', 'failed')
			  AND r.current_message_sequence <= c.message_count
			  AND (r.lease_owner IS NULL OR r.lease_expires_at <= $1)
			  AND r.last_pass IS DISTINCT FROM $2
			ORDER BY r.next_message_scheduled_at
			LIMIT $4
			FOR UPDATE OF r SKIP LOCKED
		)
		UPDATE campaign_recipients r
		SET lease_owner = $2, lease_expires_at = $3, last_pass = $2, updated_at = $1
		FROM due
		WHERE r.campaign_id = due.campaign_id AND r.contact_id = due.contact_id
		RETURNING `+recipientColumns+`
	`, p.Now, p.Lease, p.Now.Add(p.LeaseTTL), limit)
	if err != nil {
		return nil, err
	}
	recipients, err := collect(rows, scanRecipient)
	if err != nil || len(recipients) == 0 {
		return nil, err
	}

	ids := make([]string, 0, len(recipients))
	seen := map[string]bool{}
	for _, r := range recipients {
		if !seen[r.CampaignID] {
			seen[r.CampaignID] = true
			ids = append(ids, r.CampaignID)
		}
	}

	rows, err = s.DB.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns c WHERE c.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	campaigns, err := collect(rows, scanCampaign)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Campaign, len(campaigns))
	for _, c := range campaigns {
		byID[c.ID] = c
	}

	rows, err = s.DB.Query(ctx, `SELECT `+entryColumns+` FROM campaign_messages WHERE campaign_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	entries, err := collect(rows, scanEntry)
	if err != nil {
		return nil, err
	}
	type stepKey struct {
		campaignID string
		seq        int
	}
	steps := make(map[stepKey]domain.SequenceEntry, len(entries))
	for _, e := range entries {
		steps[stepKey{e.CampaignID, e.SequenceNumber}] = e
	}

	out := make([]store.Claim, 0, len(recipients))
	for _, r := range recipients {
		cl := store.Claim{Campaign: byID[r.CampaignID], Recipient: r}
		if e, ok := steps[stepKey{r.CampaignID, r.CurrentSequence}]; ok {
			cl.Entry = &e
		}
		out = append(out, cl)
	}
	return out, nil
}

// RenewLease pushes the lease expiry out just before a send. When the
// renewal fails but the lease is still ours it is released so the recipient
// is not held until expiry.
func (s *Store) RenewLease(ctx context.Context, p store.LeaseRenewal) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_recipients r
		SET lease_expires_at = $6
		FROM campaigns c
		WHERE c.id = r.campaign_id
		  AND r.campaign_id = $1 AND r.contact_id = $2
		  AND r.lease_owner = $3 AND r.current_message_sequence = $4
		  AND r.lease_expires_at > $5
		  AND r.status NOT IN ('bounced', 'failed')
		  AND c.status = 'active'
		  AND (c.end_date IS NULL OR c.end_date > $5)
	`, p.CampaignID, p.ContactID, p.Lease, p.SequenceNumber, p.Now, p.Now.Add(p.LeaseTTL))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.DB.Exec(ctx, `
		UPDATE campaign_recipients SET lease_owner = NULL, lease_expires_at = NULL
		WHERE campaign_id = $1 AND contact_id = $2 AND lease_owner = $3
	`, p.CampaignID, p.ContactID, p.Lease); err != nil {
		return err
	}
	return store.ErrLeaseLost
}

func (s *Store) RecordSendSuccess(ctx context.Context, in store.SendSuccess) error {
	event, err := marshalJSON([]domain.InteractionEvent{in.Event})
	if err != nil {
		return err
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Campaign row first, matching WithCampaign's lock order.
	var status domain.CampaignStatus
	err = tx.QueryRow(ctx, `
		UPDATE campaigns SET messages_sent = messages_sent + 1, updated_at = $2 WHERE id = $1
		RETURNING status
	`, in.CampaignID, in.SentAt).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrLeaseLost
	}
	if err != nil {
		return err
	}
	next := in.NextAt
	if status != domain.StatusActive && status != domain.StatusPaused {
		next = nil
	}
	// A bounce applied while the send was in flight stays terminal.
	ct, err := tx.Exec(ctx, `
		UPDATE campaign_recipients SET
			status = CASE WHEN status IN ('bounced', 'failed') THEN status ELSE 'sent' END,
			current_message_sequence = current_message_sequence + 1,
			attempts = 0,
			last_message_sent_at = $5,
			next_message_scheduled_at = CASE WHEN status IN ('bounced', 'failed') THEN NULL ELSE $6::timestamptz END,
			interaction_history = interaction_history || $7::jsonb,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = $5
		WHERE campaign_id = $1 AND contact_id = $2 AND lease_owner = $3 AND current_message_sequence = $4
	`, in.CampaignID, in.ContactID, in.Lease, in.SequenceNumber, in.SentAt, next, event)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrLeaseLost
	}
	if in.ExternalMessageID != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO recipient_messages (channel_type, external_message_id, campaign_id, contact_id, sequence_number, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (channel_type, external_message_id) DO NOTHING
		`, in.Channel, in.ExternalMessageID, in.CampaignID, in.ContactID, in.SequenceNumber, in.SentAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) RecordSendFailure(ctx context.Context, in store.SendFailure) error {
	event, err := marshalJSON([]domain.InteractionEvent{in.Event})
	if err != nil {
		return err
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaign_recipients SET
			attempts = $5,
			status = CASE WHEN $6 AND status NOT IN ('bounced', 'failed') THEN 'failed' ELSE status END,
			next_message_scheduled_at = CASE WHEN $6 THEN NULL ELSE next_message_scheduled_at END,
			interaction_history = interaction_history || $7::jsonb,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = $8
		WHERE campaign_id = $1 AND contact_id = $2 AND lease_owner = $3 AND current_message_sequence = $4
	`, in.CampaignID, in.ContactID, in.Lease, in.SequenceNumber, in.Attempts, in.Terminal, event, in.At)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrLeaseLost
	}
	return nil
}

func (s *Store) FinishedActiveCampaigns(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT c.id FROM campaigns c
		WHERE c.status = 'active'
		  AND EXISTS (SELECT 1 FROM campaign_recipients r WHERE r.campaign_id = c.id)
		  AND NOT EXISTS (
			SELECT 1 FROM campaign_recipients r
			WHERE r.campaign_id = c.id
			  AND r.status NOT IN ('bounced', 'failed')
			  AND r.current_message_sequence <= c.message_count
		  )
		ORDER BY c.id
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
}

// UpdateRecipientByMessage applies fn to the recipient that was sent the
// external message. It reports false when the message is unknown.
func (s *Store) UpdateRecipientByMessage(ctx context.Context, channel domain.ChannelType, externalID string, fn store.RecipientUpdateFunc) (bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var campaignID, contactID string
	var seq int
	err = tx.QueryRow(ctx, `
		SELECT campaign_id, contact_id, sequence_number FROM recipient_messages
		WHERE channel_type = $1 AND external_message_id = $2
	`, channel, externalID).Scan(&campaignID, &contactID, &seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c, err := scanCampaign(tx.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns c WHERE c.id=$1 FOR UPDATE`, campaignID))
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r, err := scanRecipient(tx.QueryRow(ctx, `
		SELECT `+recipientColumns+` FROM campaign_recipients r
		WHERE r.campaign_id=$1 AND r.contact_id=$2 FOR UPDATE
	`, campaignID, contactID))
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := fn(&r, &c, seq); err != nil {
		return true, err
	}

	history, err := marshalJSON(r.History)
	if err != nil {
		return true, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE campaign_recipients SET
			status = $3, next_message_scheduled_at = $4, interaction_history = $5::jsonb, updated_at = $6
		WHERE campaign_id = $1 AND contact_id = $2
	`, campaignID, contactID, r.Status, r.NextMessageScheduledAt, history, r.UpdatedAt); err != nil {
		return true, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE campaigns SET messages_delivered = $2, messages_opened = $3, replies_received = $4 WHERE id = $1
	`, campaignID, c.Stats.Delivered, c.Stats.Opened, c.Stats.Replied); err != nil {
		return true, err
	}
	return true, tx.Commit(ctx)
}
