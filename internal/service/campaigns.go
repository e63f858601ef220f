package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"confcrm/internal/domain"
	"confcrm/internal/observability"
	"confcrm/internal/store"
	"confcrm/internal/util"
)

type CampaignStore interface {
	CreateCampaign(ctx context.Context, c domain.Campaign, entries []domain.SequenceEntry) error
	GetCampaign(ctx context.Context, ownerID, id string) (domain.Campaign, error)
	ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]domain.Campaign, int, error)
	ListSequence(ctx context.Context, campaignID string) ([]domain.SequenceEntry, error)
	ListRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error)
	RemoveRecipient(ctx context.Context, campaignID, contactID string) (bool, error)
	WithCampaign(ctx context.Context, ownerID, id string, fn func(store.CampaignTx) error) error
}

type TemplateLookup interface {
	GetTemplate(ctx context.Context, ownerID, id string) (domain.Template, error)
	IncrementTemplateUsage(ctx context.Context, id string) error
}

type ContactLookup interface {
	GetContact(ctx context.Context, id string) (domain.Contact, error)
}

// CampaignService owns the campaign lifecycle. Every state change runs
// under the campaign row lock so it cannot interleave with another
// change to the same campaign.
type CampaignService struct {
	Store     CampaignStore
	Templates TemplateLookup
	// Contacts, when set, is used to reject recipients that do not exist.
	Contacts ContactLookup
	Now      func() time.Time
	NewID    func(prefix string) string
}

type CampaignDetails struct {
	Campaign   domain.Campaign        `json:"campaign"`
	Sequence   []domain.SequenceEntry `json:"messages"`
	Recipients []domain.Recipient     `json:"recipients,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// AddRecipientsResult counts the request's ids: Duplicates were already on
// the campaign or repeated in the request, Skipped were blank.
type AddRecipientsResult struct {
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped,omitempty"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return util.NowUTC()
}

func (s *CampaignService) newID(prefix string) string {
	if s.NewID != nil {
		return s.NewID(prefix)
	}
	return util.NewID(prefix)
}

func (s *CampaignService) CreateCampaign(ctx context.Context, ownerID string, req domain.CreateCampaignRequest) (CampaignDetails, error) {
	// 1) request shape
	if err := req.Validate(); err != nil {
		return CampaignDetails{}, err
	}

	// 2) resolve templates and normalize the sequence
	id := s.newID("cmp")
	entries, used, err := s.resolveEntries(ctx, ownerID, req.Messages)
	if err != nil {
		return CampaignDetails{}, err
	}
	entries = domain.NormalizeSequence(id, req.ChannelType, entries)
	if err := domain.ValidateSequence(req.ChannelType, entries); err != nil {
		return CampaignDetails{}, err
	}

	// 3) campaign and sequence land together or not at all
	now := s.now()
	c := domain.Campaign{
		ID:             id,
		OwnerID:        ownerID,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		ChannelType:    req.ChannelType,
		Status:         domain.StatusDraft,
		MessageCount:   len(entries),
		IntervalDays:   req.IntervalDays,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		TargetAudience: req.TargetAudience,
		Settings:       req.Settings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreateCampaign(ctx, c, entries); err != nil {
		return CampaignDetails{}, err
	}

	// 4) template usage is counted only once the campaign exists
	s.countTemplateUse(ctx, used)

	slog.Info("campaign created", "campaign_id", c.ID, "owner_id", ownerID, "messages", c.MessageCount)
	return CampaignDetails{Campaign: c, Sequence: entries}, nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, ownerID, id string) (CampaignDetails, error) {
	c, err := s.Store.GetCampaign(ctx, ownerID, id)
	if err != nil {
		return CampaignDetails{}, err
	}
	seq, err := s.Store.ListSequence(ctx, id)
	if err != nil {
		return CampaignDetails{}, err
	}
	recipients, err := s.Store.ListRecipients(ctx, id)
	if err != nil {
		return CampaignDetails{}, err
	}
	return CampaignDetails{Campaign: c, Sequence: seq, Recipients: recipients}, nil
}

func (s *CampaignService) ListCampaigns(ctx context.Context, ownerID string, status domain.CampaignStatus, page, pageSize int) ([]domain.Campaign, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	if status != "" {
		switch status {
		case domain.StatusDraft, domain.StatusActive, domain.StatusPaused, domain.StatusCompleted, domain.StatusCancelled:
		default:
			return nil, Pagination{}, domain.Invalid("unknown status %q", status)
		}
	}
	items, total, err := s.Store.ListCampaigns(ctx, store.CampaignFilter{
		OwnerID: ownerID,
		Status:  status,
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	})
	if err != nil {
		return nil, Pagination{}, err
	}
	return items, Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

func (s *CampaignService) UpdateCampaign(ctx context.Context, ownerID, id string, req domain.UpdateCampaignRequest) (domain.Campaign, error) {
	if err := req.Validate(); err != nil {
		return domain.Campaign{}, err
	}
	var out domain.Campaign
	err := s.Store.WithCampaign(ctx, ownerID, id, func(tx store.CampaignTx) error {
		c := tx.Campaign()
		if !domain.Editable(c.Status) {
			return &domain.InvalidTransitionError{From: c.Status, Action: domain.ActionUpdate}
		}
		if err := req.Apply(&c); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		if err := tx.SaveCampaign(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// DeleteCampaign removes a campaign with its sequence and recipients. An
// active campaign has to be paused or cancelled first.
func (s *CampaignService) DeleteCampaign(ctx context.Context, ownerID, id string) error {
	err := s.Store.WithCampaign(ctx, ownerID, id, func(tx store.CampaignTx) error {
		c := tx.Campaign()
		if c.Status == domain.StatusActive {
			return &domain.InvalidTransitionError{From: c.Status, Action: domain.ActionDelete, Reason: "pause or cancel it first"}
		}
		return tx.Delete(ctx)
	})
	if err == nil {
		slog.Info("campaign deleted", "campaign_id", id, "owner_id", ownerID)
	}
	return err
}

// UpdateSequence replaces the message sequence. It refuses to rewrite any
// step some recipient has already moved past.
func (s *CampaignService) UpdateSequence(ctx context.Context, ownerID, id string, req domain.ReplaceSequenceRequest) (CampaignDetails, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return CampaignDetails{}, err
	}
	resolved, used, err := s.resolveEntries(ctx, ownerID, req.Messages)
	if err != nil {
		return CampaignDetails{}, err
	}

	var out CampaignDetails
	changed := false
	err = s.Store.WithCampaign(ctx, ownerID, id, func(tx store.CampaignTx) error {
		c := tx.Campaign()
		if !domain.Editable(c.Status) {
			return &domain.InvalidTransitionError{From: c.Status, Action: domain.ActionUpdateSequence}
		}
		entries := domain.NormalizeSequence(c.ID, c.ChannelType, resolved)
		if err := domain.ValidateSequence(c.ChannelType, entries); err != nil {
			return err
		}

		old, err := tx.Sequence(ctx)
		if err != nil {
			return err
		}
		out = CampaignDetails{Campaign: c, Sequence: old}
		lowest := domain.FirstChangedStep(old, entries)
		if lowest == 0 {
			return nil
		}

		stats, err := tx.RecipientStats(ctx)
		if err != nil {
			return err
		}
		if stats.MaxSequence > lowest {
			return &domain.ConflictError{Reason: fmt.Sprintf("message %d has already been sent to some recipients", lowest)}
		}

		if err := tx.ReplaceSequence(ctx, entries); err != nil {
			return err
		}
		c.MessageCount = len(entries)
		c.UpdatedAt = s.now()
		if err := tx.SaveCampaign(ctx, c); err != nil {
			return err
		}

		// keep due times consistent with the new length
		if c.Status != domain.StatusDraft {
			if _, err := tx.UnscheduleExhausted(ctx); err != nil {
				return err
			}
		}
		if c.Status == domain.StatusActive {
			if _, err := tx.ScheduleUnscheduled(ctx, c.UpdatedAt); err != nil {
				return err
			}
		}
		out = CampaignDetails{Campaign: c, Sequence: entries}
		changed = true
		return nil
	})
	if err != nil {
		return CampaignDetails{}, err
	}
	if changed {
		s.countTemplateUse(ctx, used)
		slog.Info("campaign sequence replaced", "campaign_id", id, "messages", out.Campaign.MessageCount)
	}
	return out, nil
}

func (s *CampaignService) AddRecipients(ctx context.Context, ownerID, id string, req domain.AddRecipientsRequest) (AddRecipientsResult, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return AddRecipientsResult{}, err
	}

	seen := map[string]bool{}
	var batch []store.NewRecipient
	blank := 0
	for _, cid := range req.ContactIDs {
		cid = strings.TrimSpace(cid)
		if cid == "" {
			blank++
			continue
		}
		if seen[cid] {
			continue
		}
		seen[cid] = true
		batch = append(batch, store.NewRecipient{ContactID: cid, PersonalizedData: req.PersonalizedData[cid]})
	}
	if len(batch) == 0 {
		return AddRecipientsResult{}, domain.Invalid("contact_ids must contain at least one id")
	}
	if err := s.checkContacts(ctx, batch); err != nil {
		return AddRecipientsResult{}, err
	}

	var res AddRecipientsResult
	err := s.Store.WithCampaign(ctx, ownerID, id, func(tx store.CampaignTx) error {
		c := tx.Campaign()
		if !domain.Editable(c.Status) {
			return &domain.InvalidTransitionError{From: c.Status, Action: domain.ActionAddRecipients}
		}
		now := s.now()
		var next *time.Time
		if c.Status == domain.StatusActive {
			next = &now
		}
		added, err := tx.InsertRecipients(ctx, batch, next, now)
		if err != nil {
			return err
		}
		res = AddRecipientsResult{Added: added, Duplicates: len(req.ContactIDs) - blank - added, Skipped: blank}
		return nil
	})
	return res, err
}

func (s *CampaignService) RemoveRecipient(ctx context.Context, ownerID, id, contactID string) error {
	if _, err := s.Store.GetCampaign(ctx, ownerID, id); err != nil {
		return err
	}
	ok, err := s.Store.RemoveRecipient(ctx, id, contactID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("recipient", contactID)
	}
	return nil
}

func (s *CampaignService) Start(ctx context.Context, ownerID, id string) (domain.Campaign, error) {
	return s.transition(ctx, ownerID, id, domain.ActionStart, func(tx store.CampaignTx, c *domain.Campaign, now time.Time) error {
		seq, err := tx.Sequence(ctx)
		if err != nil {
			return err
		}
		if len(seq) == 0 || len(seq) != c.MessageCount || domain.CheckContiguous(seq) != nil {
			return &domain.InvalidTransitionError{From: c.Status, Action: domain.ActionStart, Reason: "message sequence is incomplete"}
		}
		stats, err := tx.RecipientStats(ctx)
		if err != nil {
			return err
		}
		if stats.Total == 0 {
			return &domain.InvalidTransitionError{From: c.Status, Action: domain.ActionStart, Reason: "campaign has no recipients"}
		}
		c.StartedAt = &now
		first := now
		if c.StartDate != nil && c.StartDate.After(now) {
			first = *c.StartDate
		}
		_, err = tx.ScheduleUnscheduled(ctx, first)
		return err
	})
}

// Pause leaves due times in place; the scheduler only claims recipients of
// active campaigns.
func (s *CampaignService) Pause(ctx context.Context, ownerID, id string) (domain.Campaign, error) {
	return s.transition(ctx, ownerID, id, domain.ActionPause, nil)
}

func (s *CampaignService) Resume(ctx context.Context, ownerID, id string) (domain.Campaign, error) {
	return s.transition(ctx, ownerID, id, domain.ActionResume, func(tx store.CampaignTx, _ *domain.Campaign, now time.Time) error {
		_, err := tx.PullForwardOverdue(ctx, now)
		return err
	})
}

func (s *CampaignService) Cancel(ctx context.Context, ownerID, id string) (domain.Campaign, error) {
	return s.transition(ctx, ownerID, id, domain.ActionCancel, func(tx store.CampaignTx, _ *domain.Campaign, _ time.Time) error {
		_, err := tx.UnscheduleAll(ctx)
		return err
	})
}

func (s *CampaignService) Complete(ctx context.Context, ownerID, id string) (domain.Campaign, error) {
	return s.transition(ctx, ownerID, id, domain.ActionComplete, func(tx store.CampaignTx, c *domain.Campaign, now time.Time) error {
		stats, err := tx.RecipientStats(ctx)
		if err != nil {
			return err
		}
		if !stats.AllTerminal() {
			return &domain.InvalidTransitionError{
				From:   c.Status,
				Action: domain.ActionComplete,
				Reason: fmt.Sprintf("%d of %d recipients still have messages to receive", stats.Total-stats.Terminal, stats.Total),
			}
		}
		c.CompletedAt = &now
		_, err = tx.UnscheduleAll(ctx)
		return err
	})
}

// AutoComplete completes an active campaign whose recipients are all
// terminal. It reports false, without error, when the campaign no longer
// qualifies.
func (s *CampaignService) AutoComplete(ctx context.Context, id string) (bool, error) {
	c, err := s.Store.GetCampaign(ctx, "", id)
	if err != nil {
		return false, err
	}
	if c.Status != domain.StatusActive {
		return false, nil
	}
	_, err = s.Complete(ctx, "", id)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return false, nil
	}
	return err == nil, err
}

type effectFunc func(tx store.CampaignTx, c *domain.Campaign, now time.Time) error

func (s *CampaignService) transition(ctx context.Context, ownerID, id string, action domain.Action, effects effectFunc) (domain.Campaign, error) {
	var out domain.Campaign
	err := s.Store.WithCampaign(ctx, ownerID, id, func(tx store.CampaignTx) error {
		c := tx.Campaign()
		to, err := domain.NextStatus(c.Status, action)
		if err != nil {
			return err
		}
		now := s.now()
		if effects != nil {
			if err := effects(tx, &c, now); err != nil {
				return err
			}
		}
		from := c.Status
		c.Status = to
		c.UpdatedAt = now
		if err := tx.SaveCampaign(ctx, c); err != nil {
			return err
		}
		slog.Info("campaign transition", "campaign_id", c.ID, "action", string(action), "from", string(from), "to", string(to))
		out = c
		return nil
	})
	result := "ok"
	if err != nil {
		result = "rejected"
		if !errors.Is(err, domain.ErrInvalidTransition) && !errors.Is(err, domain.ErrNotFound) {
			result = "error"
		}
	}
	observability.CampaignTransitions.WithLabelValues(string(action), result).Inc()
	return out, err
}

func (s *CampaignService) resolveEntries(ctx context.Context, ownerID string, in []domain.SequenceEntryInput) ([]domain.SequenceEntry, []string, error) {
	out := make([]domain.SequenceEntry, 0, len(in))
	var used []string
	var problems []string
	for i, m := range in {
		e := m.Entry()
		if m.TemplateID != "" {
			if s.Templates == nil {
				return nil, nil, domain.Invalid("messages[%d].template_id: templates are not available", i)
			}
			t, err := s.Templates.GetTemplate(ctx, ownerID, m.TemplateID)
			if errors.Is(err, domain.ErrNotFound) {
				problems = append(problems, fmt.Sprintf("messages[%d].template_id %q not found", i, m.TemplateID))
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			e = applyTemplate(e, t)
			used = append(used, t.ID)
		}
		out = append(out, e)
	}
	if len(problems) > 0 {
		return nil, nil, &domain.ValidationError{Problems: problems}
	}
	return out, used, nil
}

// applyTemplate fills the entry from t; fields set on the entry win.
func applyTemplate(e domain.SequenceEntry, t domain.Template) domain.SequenceEntry {
	if e.ChannelType == "" {
		e.ChannelType = t.ChannelType
	}
	if e.Subject == "" {
		e.Subject = t.Subject
	}
	if e.Body == "" {
		e.Body = t.Body
	}
	if len(e.PersonalizationFields) == 0 {
		e.PersonalizationFields = append([]string(nil), t.PersonalizationFields...)
	}
	return e
}

func (s *CampaignService) countTemplateUse(ctx context.Context, ids []string) {
	if s.Templates == nil {
		return
	}
	for _, id := range ids {
		if err := s.Templates.IncrementTemplateUsage(ctx, id); err != nil {
			slog.Warn("template usage not counted", "template_id", id, "err", err)
		}
	}
}

func (s *CampaignService) checkContacts(ctx context.Context, batch []store.NewRecipient) error {
	if s.Contacts == nil {
		return nil
	}
	var problems []string
	for _, nr := range batch {
		_, err := s.Contacts.GetContact(ctx, nr.ContactID)
		if errors.Is(err, domain.ErrNotFound) {
			problems = append(problems, fmt.Sprintf("contact %q not found", nr.ContactID))
			continue
		}
		if err != nil {
			return err
		}
	}
	if len(problems) > 0 {
		return &domain.ValidationError{Problems: problems}
	}
	return nil
}
