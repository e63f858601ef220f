package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

const templateColumns = `id, owner_id, is_public, name, category, channel_type, subject, message_body,
	personalization_fields, usage_count, created_at, updated_at`

func scanTemplate(row pgx.Row) (domain.Template, error) {
	var t domain.Template
	var fields []byte
	err := row.Scan(&t.ID, &t.OwnerID, &t.IsPublic, &t.Name, &t.Category, &t.ChannelType, &t.Subject, &t.Body,
		&fields, &t.UsageCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Template{}, err
	}
	if err := json.Unmarshal(fields, &t.PersonalizationFields); err != nil {
		return domain.Template{}, fmt.Errorf("decode personalization_fields: %w", err)
	}
	return t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t domain.Template) error {
	fields, err := marshalJSON(nonNil(t.PersonalizationFields))
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO templates (id, owner_id, is_public, name, category, channel_type, subject, message_body,
			personalization_fields, usage_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10,$11,$12)
	`, t.ID, t.OwnerID, t.IsPublic, t.Name, t.Category, t.ChannelType, t.Subject, t.Body,
		fields, t.UsageCount, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return &domain.ConflictError{Reason: "template " + t.ID + " already exists"}
	}
	return err
}

// GetTemplate returns a template the owner created or any public one.
func (s *Store) GetTemplate(ctx context.Context, ownerID, id string) (domain.Template, error) {
	t, err := scanTemplate(s.DB.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && ownerID != "" && t.OwnerID != ownerID && !t.IsPublic) {
		return domain.Template{}, domain.NotFound("template", id)
	}
	return t, err
}

func (s *Store) ListTemplates(ctx context.Context, f store.TemplateFilter) ([]domain.Template, int, error) {
	const where = `WHERE ($1::text = '' OR owner_id = $1 OR is_public)
		AND ($2::text = '' OR category = $2)
		AND ($3::text = '' OR channel_type = $3)`
	args := []any{f.OwnerID, f.Category, string(f.ChannelType)}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM templates `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := any(nil)
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+templateColumns+` FROM templates `+where+`
		ORDER BY usage_count DESC, id
		LIMIT $4 OFFSET $5
	`, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collect(rows, scanTemplate)
	return out, total, err
}

// UpdateTemplate overwrites the editable fields; only the owner may do so.
func (s *Store) UpdateTemplate(ctx context.Context, t domain.Template) error {
	fields, err := marshalJSON(nonNil(t.PersonalizationFields))
	if err != nil {
		return err
	}
	ct, err := s.DB.Exec(ctx, `
		UPDATE templates SET is_public=$3, name=$4, category=$5, channel_type=$6, subject=$7, message_body=$8,
			personalization_fields=$9::jsonb, updated_at=$10
		WHERE id=$1 AND owner_id=$2
	`, t.ID, t.OwnerID, t.IsPublic, t.Name, t.Category, t.ChannelType, t.Subject, t.Body, fields, t.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFound("template", t.ID)
	}
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, ownerID, id string) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM templates WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFound("template", id)
	}
	return nil
}

func (s *Store) IncrementTemplateUsage(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `UPDATE templates SET usage_count = usage_count + 1 WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFound("template", id)
	}
	return nil
}

func (s *Store) UpsertContact(ctx context.Context, c domain.Contact) error {
	fields := "{}"
	if c.Fields != nil {
		var err error
		if fields, err = marshalJSON(c.Fields); err != nil {
			return err
		}
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO contacts (id, owner_id, first_name, last_name, email, linkedin_urn, company, title, fields)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			owner_id=EXCLUDED.owner_id, first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name,
			email=EXCLUDED.email, linkedin_urn=EXCLUDED.linkedin_urn, company=EXCLUDED.company,
			title=EXCLUDED.title, fields=EXCLUDED.fields, updated_at=now()
	`, c.ID, c.OwnerID, c.FirstName, c.LastName, c.Email, c.LinkedInURN, c.Company, c.Title, fields)
	return err
}

func (s *Store) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	var c domain.Contact
	var fields []byte
	err := s.DB.QueryRow(ctx, `
		SELECT id, owner_id, first_name, last_name, email, linkedin_urn, company, title, fields
		FROM contacts WHERE id=$1
	`, id).Scan(&c.ID, &c.OwnerID, &c.FirstName, &c.LastName, &c.Email, &c.LinkedInURN, &c.Company, &c.Title, &fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Contact{}, domain.NotFound("contact", id)
	}
	if err != nil {
		return domain.Contact{}, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return domain.Contact{}, fmt.Errorf("decode contact fields: %w", err)
		}
	}
	return c, nil
}

func (s *Store) SaveOAuthState(ctx context.Context, st store.OAuthState) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO oauth_states (state, owner_id, provider, expires_at, created_at) VALUES ($1,$2,$3,$4,$5)
	`, st.State, st.OwnerID, st.Provider, st.ExpiresAt, st.CreatedAt)
	return err
}

// ConsumeOAuthState deletes and returns the state; a state can be used once.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (store.OAuthState, error) {
	var st store.OAuthState
	err := s.DB.QueryRow(ctx, `
		DELETE FROM oauth_states WHERE state=$1
		RETURNING state, owner_id, provider, expires_at, created_at
	`, state).Scan(&st.State, &st.OwnerID, &st.Provider, &st.ExpiresAt, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.OAuthState{}, domain.NotFound("oauth state", state)
	}
	return st, err
}

func (s *Store) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *Store) SaveLinkedInAccount(ctx context.Context, a store.LinkedInAccount) error {
	var expiry *time.Time
	if !a.Expiry.IsZero() {
		expiry = &a.Expiry
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO linkedin_accounts (owner_id, member_urn, name, email, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (owner_id) DO UPDATE SET
			member_urn=EXCLUDED.member_urn, name=EXCLUDED.name, email=EXCLUDED.email,
			access_token=EXCLUDED.access_token,
			refresh_token=COALESCE(NULLIF(EXCLUDED.refresh_token, ''), linkedin_accounts.refresh_token),
			token_type=EXCLUDED.token_type, expiry=EXCLUDED.expiry, updated_at=EXCLUDED.updated_at
	`, a.OwnerID, a.MemberURN, a.Name, a.Email, a.AccessToken, a.RefreshToken, a.TokenType, expiry, a.UpdatedAt)
	return err
}

func (s *Store) GetLinkedInAccount(ctx context.Context, ownerID string) (store.LinkedInAccount, error) {
	var a store.LinkedInAccount
	var expiry *time.Time
	err := s.DB.QueryRow(ctx, `
		SELECT owner_id, member_urn, name, email, access_token, refresh_token, token_type, expiry, updated_at
		FROM linkedin_accounts WHERE owner_id=$1
	`, ownerID).Scan(&a.OwnerID, &a.MemberURN, &a.Name, &a.Email, &a.AccessToken, &a.RefreshToken, &a.TokenType, &expiry, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.LinkedInAccount{}, domain.NotFound("linkedin account", ownerID)
	}
	if err != nil {
		return store.LinkedInAccount{}, err
	}
	if expiry != nil {
		a.Expiry = *expiry
	}
	return a, nil
}
