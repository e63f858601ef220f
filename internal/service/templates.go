package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"confcrm/internal/domain"
	"confcrm/internal/store"
	"confcrm/internal/util"
)

type TemplateStore interface {
	CreateTemplate(ctx context.Context, t domain.Template) error
	GetTemplate(ctx context.Context, ownerID, id string) (domain.Template, error)
	ListTemplates(ctx context.Context, f store.TemplateFilter) ([]domain.Template, int, error)
	UpdateTemplate(ctx context.Context, t domain.Template) error
	DeleteTemplate(ctx context.Context, ownerID, id string) error
	IncrementTemplateUsage(ctx context.Context, id string) error
}

type TemplateService struct {
	Store TemplateStore
	Now   func() time.Time
	NewID func(prefix string) string
}

func (s *TemplateService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return util.NowUTC()
}

func (s *TemplateService) Create(ctx context.Context, ownerID string, req domain.TemplateRequest) (domain.Template, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return domain.Template{}, err
	}
	id := util.NewID("tpl")
	if s.NewID != nil {
		id = s.NewID("tpl")
	}
	now := s.now()
	t := fromRequest(req)
	t.ID = id
	t.OwnerID = ownerID
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := s.Store.CreateTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	slog.Info("template created", "template_id", t.ID, "owner_id", ownerID)
	return t, nil
}

func (s *TemplateService) Get(ctx context.Context, ownerID, id string) (domain.Template, error) {
	return s.Store.GetTemplate(ctx, ownerID, id)
}

func (s *TemplateService) List(ctx context.Context, ownerID, category string, ch domain.ChannelType, page, pageSize int) ([]domain.Template, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	items, total, err := s.Store.ListTemplates(ctx, store.TemplateFilter{
		OwnerID:     ownerID,
		Category:    category,
		ChannelType: ch,
		Limit:       pageSize,
		Offset:      (page - 1) * pageSize,
	})
	if err != nil {
		return nil, Pagination{}, err
	}
	return items, Pagination{Page: page, PageSize: pageSize, TotalCount: total, TotalPages: (total + pageSize - 1) / pageSize}, nil
}

func (s *TemplateService) Update(ctx context.Context, ownerID, id string, req domain.TemplateRequest) (domain.Template, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return domain.Template{}, err
	}
	cur, err := s.Store.GetTemplate(ctx, ownerID, id)
	if err != nil {
		return domain.Template{}, err
	}
	if cur.OwnerID != ownerID {
		// public templates are readable by everyone but editable only by their owner
		return domain.Template{}, domain.NotFound("template", id)
	}
	t := fromRequest(req)
	t.ID = id
	t.OwnerID = ownerID
	t.UsageCount = cur.UsageCount
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = s.now()
	if err := s.Store.UpdateTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func (s *TemplateService) Delete(ctx context.Context, ownerID, id string) error {
	return s.Store.DeleteTemplate(ctx, ownerID, id)
}

// Use returns the template for copying into a campaign and counts the use.
func (s *TemplateService) Use(ctx context.Context, ownerID, id string) (domain.Template, error) {
	t, err := s.Store.GetTemplate(ctx, ownerID, id)
	if err != nil {
		return domain.Template{}, err
	}
	if err := s.Store.IncrementTemplateUsage(ctx, id); err != nil {
		return domain.Template{}, err
	}
	t.UsageCount++
	return t, nil
}

func fromRequest(req domain.TemplateRequest) domain.Template {
	fields := slices.Clone(req.PersonalizationFields)
	for _, tok := range util.TemplateTokens(req.Subject + "\n" + req.Body) {
		if !slices.Contains(fields, tok) {
			fields = append(fields, tok)
		}
	}
	if fields == nil {
		fields = []string{}
	}
	return domain.Template{
		Name:                  strings.TrimSpace(req.Name),
		Category:              req.Category,
		ChannelType:           req.ChannelType,
		Subject:               req.Subject,
		Body:                  req.Body,
		PersonalizationFields: fields,
		IsPublic:              req.IsPublic,
	}
}

// DefaultTemplates is the starter set seeded for new installs.
func DefaultTemplates() []domain.TemplateRequest {
	return []domain.TemplateRequest{
		{
			Name:        "Post-event follow-up",
			Category:    "follow_up",
			ChannelType: domain.ChannelEmail,
			Subject:     "Great meeting you at {{event_name}}",
			Body:        "Hi {{first_name}},\n\nIt was great meeting you at {{event_name}}. I'd love to continue our conversation about {{topic}}.\n\nBest,\n{{sender_name}}",
			IsPublic:    true,
		},
		{
			Name:        "LinkedIn connection note",
			Category:    "connection",
			ChannelType: domain.ChannelLinkedIn,
			Body:        "Hi {{first_name}}, we met at {{event_name}}. Would be great to stay connected!",
			IsPublic:    true,
		},
		{
			Name:        "Meeting request",
			Category:    "meeting",
			ChannelType: domain.ChannelEmail,
			Subject:     "Coffee after {{event_name}}?",
			Body:        "Hi {{first_name}},\n\nWould you have 20 minutes next week to continue our chat about {{company}}?\n\n{{sender_name}}",
			IsPublic:    true,
		},
	}
}

// SeedDefaults creates the starter templates ownerID does not have yet, so
// it is safe to run on every start.
func (s *TemplateService) SeedDefaults(ctx context.Context, ownerID string) ([]domain.Template, error) {
	existing, _, err := s.Store.ListTemplates(ctx, store.TemplateFilter{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		if t.OwnerID == ownerID {
			have[t.Name] = true
		}
	}

	var out []domain.Template
	for _, req := range DefaultTemplates() {
		if have[req.Name] {
			continue
		}
		t, err := s.Create(ctx, ownerID, req)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}
