package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const campaignColumns = `
	c.id, c.owner_id, c.name, c.description, c.channel_type, c.status, c.message_count, c.interval_days,
	c.start_date, c.end_date, c.target_audience, c.settings,
	c.messages_sent, c.messages_delivered, c.messages_opened, c.replies_received,
	c.started_at, c.completed_at, c.created_at, c.updated_at`

func scanCampaign(row pgx.Row) (domain.Campaign, error) {
	var c domain.Campaign
	var audience, settings []byte
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &c.ChannelType, &c.Status, &c.MessageCount, &c.IntervalDays,
		&c.StartDate, &c.EndDate, &audience, &settings,
		&c.Stats.Sent, &c.Stats.Delivered, &c.Stats.Opened, &c.Stats.Replied,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Campaign{}, err
	}
	if len(audience) > 0 {
		c.TargetAudience = json.RawMessage(audience)
	}
	if len(settings) > 0 {
		c.Settings = json.RawMessage(settings)
	}
	return c, nil
}

const recipientColumns = `
	r.campaign_id, r.contact_id, r.status, r.current_message_sequence, r.attempts,
	r.last_message_sent_at, r.next_message_scheduled_at, r.personalized_data, r.interaction_history,
	r.created_at, r.updated_at`

func scanRecipient(row pgx.Row) (domain.Recipient, error) {
	var r domain.Recipient
	var data, history []byte
	err := row.Scan(&r.CampaignID, &r.ContactID, &r.Status, &r.CurrentSequence, &r.Attempts,
		&r.LastMessageSentAt, &r.NextMessageScheduledAt, &data, &history,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Recipient{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.PersonalizedData); err != nil {
			return domain.Recipient{}, fmt.Errorf("decode personalized_data: %w", err)
		}
	}
	r.History = []domain.InteractionEvent{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &r.History); err != nil {
			return domain.Recipient{}, fmt.Errorf("decode interaction_history: %w", err)
		}
	}
	return r, nil
}

const entryColumns = `campaign_id, sequence_number, channel_type, subject, message_body, personalization_fields`

func scanEntry(row pgx.Row) (domain.SequenceEntry, error) {
	var e domain.SequenceEntry
	var fields []byte
	if err := row.Scan(&e.CampaignID, &e.SequenceNumber, &e.ChannelType, &e.Subject, &e.Body, &fields); err != nil {
		return domain.SequenceEntry{}, err
	}
	if err := json.Unmarshal(fields, &e.PersonalizationFields); err != nil {
		return domain.SequenceEntry{}, fmt.Errorf("decode personalization_fields: %w", err)
	}
	return e, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c domain.Campaign, entries []domain.SequenceEntry) error {
	if err := domain.CheckContiguous(entries); err != nil {
		return err
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO campaigns (id, owner_id, name, description, channel_type, status, message_count, interval_days,
			start_date, end_date, target_audience, settings, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12::jsonb,$13,$14)
	`, c.ID, c.OwnerID, c.Name, c.Description, c.ChannelType, c.Status, c.MessageCount, c.IntervalDays,
		c.StartDate, c.EndDate, rawJSON(c.TargetAudience), rawJSON(c.Settings), c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return &domain.ConflictError{Reason: "campaign " + c.ID + " already exists"}
	}
	if err != nil {
		return err
	}
	if err := insertEntries(ctx, tx, c.ID, entries); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertEntries(ctx context.Context, tx pgx.Tx, campaignID string, entries []domain.SequenceEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		fields, err := json.Marshal(nonNil(e.PersonalizationFields))
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO campaign_messages (campaign_id, sequence_number, channel_type, subject, message_body, personalization_fields)
			VALUES ($1,$2,$3,$4,$5,$6::jsonb)
		`, campaignID, e.SequenceNumber, e.ChannelType, e.Subject, e.Body, string(fields))
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (s *Store) GetCampaign(ctx context.Context, ownerID, id string) (domain.Campaign, error) {
	c, err := scanCampaign(s.DB.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns c WHERE c.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && ownerID != "" && c.OwnerID != ownerID) {
		return domain.Campaign{}, domain.NotFound("campaign", id)
	}
	return c, err
}

func (s *Store) ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]domain.Campaign, int, error) {
	const where = `WHERE ($1::text = '' OR c.owner_id = $1) AND ($2::text = '' OR c.status = $2)`
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM campaigns c `+where, f.OwnerID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := any(nil)
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns c `+where+`
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $3 OFFSET $4
	`, f.OwnerID, string(f.Status), limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := collect(rows, scanCampaign)
	return out, total, err
}

func (s *Store) ListSequence(ctx context.Context, campaignID string) ([]domain.SequenceEntry, error) {
	out, err := listSequence(ctx, s.DB, campaignID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if err := s.mustExist(ctx, campaignID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func listSequence(ctx context.Context, q querier, campaignID string) ([]domain.SequenceEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT `+entryColumns+` FROM campaign_messages WHERE campaign_id=$1 ORDER BY sequence_number
	`, campaignID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEntry)
}

func (s *Store) ListRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+recipientColumns+` FROM campaign_recipients r WHERE r.campaign_id=$1 ORDER BY r.position
	`, campaignID)
	if err != nil {
		return nil, err
	}
	out, err := collect(rows, scanRecipient)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if err := s.mustExist(ctx, campaignID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) RemoveRecipient(ctx context.Context, campaignID, contactID string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM campaign_recipients WHERE campaign_id=$1 AND contact_id=$2`, campaignID, contactID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, s.mustExist(ctx, campaignID)
	}
	return true, nil
}

// WithCampaign locks the campaign row for the duration of fn. Recipient rows
// are only ever locked after their campaign row, so this cannot deadlock
// against the scheduler's outcome writes.
func (s *Store) WithCampaign(ctx context.Context, ownerID, id string, fn func(store.CampaignTx) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := scanCampaign(tx.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns c WHERE c.id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && ownerID != "" && c.OwnerID != ownerID) {
		return domain.NotFound("campaign", id)
	}
	if err != nil {
		return err
	}
	if err := fn(&campaignTx{tx: tx, c: c}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) mustExist(ctx context.Context, campaignID string) error {
	var ok bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM campaigns WHERE id=$1)`, campaignID).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("campaign", campaignID)
	}
	return nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func rawJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
