package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

func (s *Store) CreateTemplate(_ context.Context, t domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; ok {
		return &domain.ConflictError{Reason: "template " + t.ID + " already exists"}
	}
	t.PersonalizationFields = slices.Clone(t.PersonalizationFields)
	s.templates[t.ID] = t
	return nil
}

// GetTemplate returns a template the owner created or any public one.
func (s *Store) GetTemplate(_ context.Context, ownerID, id string) (domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok || (ownerID != "" && t.OwnerID != ownerID && !t.IsPublic) {
		return domain.Template{}, domain.NotFound("template", id)
	}
	return t, nil
}

func (s *Store) ListTemplates(_ context.Context, f store.TemplateFilter) ([]domain.Template, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Template
	for _, t := range s.templates {
		if f.OwnerID != "" && t.OwnerID != f.OwnerID && !t.IsPublic {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.ChannelType != "" && t.ChannelType != f.ChannelType {
			continue
		}
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UsageCount != all[j].UsageCount {
			return all[i].UsageCount > all[j].UsageCount
		}
		return all[i].ID < all[j].ID
	})
	return page(all, f.Offset, f.Limit), len(all), nil
}

// UpdateTemplate overwrites the editable fields; only the owner may do so.
func (s *Store) UpdateTemplate(_ context.Context, t domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.templates[t.ID]
	if !ok || cur.OwnerID != t.OwnerID {
		return domain.NotFound("template", t.ID)
	}
	t.UsageCount = cur.UsageCount
	t.CreatedAt = cur.CreatedAt
	s.templates[t.ID] = t
	return nil
}

func (s *Store) DeleteTemplate(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok || t.OwnerID != ownerID {
		return domain.NotFound("template", id)
	}
	delete(s.templates, id)
	return nil
}

func (s *Store) IncrementTemplateUsage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return domain.NotFound("template", id)
	}
	t.UsageCount++
	s.templates[id] = t
	return nil
}

func (s *Store) UpsertContact(_ context.Context, c domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
	return nil
}

func (s *Store) GetContact(_ context.Context, id string) (domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return domain.Contact{}, domain.NotFound("contact", id)
	}
	return c, nil
}

func (s *Store) SaveOAuthState(_ context.Context, st store.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.State] = st
	return nil
}

// ConsumeOAuthState deletes and returns the state; a state can be used once.
func (s *Store) ConsumeOAuthState(_ context.Context, state string) (store.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	if !ok {
		return store.OAuthState{}, domain.NotFound("oauth state", state)
	}
	delete(s.states, state)
	return st, nil
}

func (s *Store) DeleteExpiredOAuthStates(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, st := range s.states {
		if !st.ExpiresAt.After(now) {
			delete(s.states, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveLinkedInAccount(_ context.Context, a store.LinkedInAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.OwnerID] = a
	return nil
}

func (s *Store) GetLinkedInAccount(_ context.Context, ownerID string) (store.LinkedInAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[ownerID]
	if !ok {
		return store.LinkedInAccount{}, domain.NotFound("linkedin account", ownerID)
	}
	return a, nil
}
