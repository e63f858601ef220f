// Package memory is an in-process implementation of the CRM store. It backs
// tests and single-binary dev runs; every operation holds one mutex, so
// WithCampaign callbacks must not call back into the Store.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

type Store struct {
	mu        sync.Mutex
	campaigns map[string]*campaignRow
	templates map[string]domain.Template
	contacts  map[string]domain.Contact
	messages  map[messageKey]messageRef
	states    map[string]store.OAuthState
	accounts  map[string]store.LinkedInAccount
}

type campaignRow struct {
	c          domain.Campaign
	seq        []domain.SequenceEntry
	recipients map[string]*recipientRow
	order      []string
}

type recipientRow struct {
	r            domain.Recipient
	lease        string
	leaseExpires time.Time
	lastPass     string
}

type messageKey struct {
	channel domain.ChannelType
	id      string
}

type messageRef struct {
	campaignID string
	contactID  string
	seq        int
}

func New() *Store {
	return &Store{
		campaigns: map[string]*campaignRow{},
		templates: map[string]domain.Template{},
		contacts:  map[string]domain.Contact{},
		messages:  map[messageKey]messageRef{},
		states:    map[string]store.OAuthState{},
		accounts:  map[string]store.LinkedInAccount{},
	}
}

func (s *Store) CreateCampaign(_ context.Context, c domain.Campaign, entries []domain.SequenceEntry) error {
	if err := domain.CheckContiguous(entries); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; ok {
		return &domain.ConflictError{Reason: "campaign " + c.ID + " already exists"}
	}
	s.campaigns[c.ID] = &campaignRow{
		c:          c,
		seq:        cloneEntries(entries),
		recipients: map[string]*recipientRow{},
	}
	return nil
}

func (s *Store) GetCampaign(_ context.Context, ownerID, id string) (domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.campaign(ownerID, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	return row.c, nil
}

func (s *Store) ListCampaigns(_ context.Context, f store.CampaignFilter) ([]domain.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Campaign
	for _, row := range s.campaigns {
		if f.OwnerID != "" && row.c.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && row.c.Status != f.Status {
			continue
		}
		all = append(all, row.c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return page(all, f.Offset, f.Limit), len(all), nil
}

func (s *Store) ListSequence(_ context.Context, campaignID string) ([]domain.SequenceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.campaign("", campaignID)
	if err != nil {
		return nil, err
	}
	return cloneEntries(row.seq), nil
}

func (s *Store) ListRecipients(_ context.Context, campaignID string) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.campaign("", campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Recipient, 0, len(row.order))
	for _, id := range row.order {
		out = append(out, cloneRecipient(row.recipients[id].r))
	}
	return out, nil
}

// Recipient returns a single recipient; tests use it to inspect state.
func (s *Store) Recipient(campaignID, contactID string) (domain.Recipient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.campaigns[campaignID]
	if !ok {
		return domain.Recipient{}, false
	}
	rr, ok := row.recipients[contactID]
	if !ok {
		return domain.Recipient{}, false
	}
	return cloneRecipient(rr.r), true
}

func (s *Store) RemoveRecipient(_ context.Context, campaignID, contactID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.campaign("", campaignID)
	if err != nil {
		return false, err
	}
	if _, ok := row.recipients[contactID]; !ok {
		return false, nil
	}
	delete(row.recipients, contactID)
	row.order = slices.DeleteFunc(row.order, func(id string) bool { return id == contactID })
	for k, ref := range s.messages {
		if ref.campaignID == campaignID && ref.contactID == contactID {
			delete(s.messages, k)
		}
	}
	return true, nil
}

// WithCampaign runs fn against a private copy of the campaign and swaps the
// copy in only when fn succeeds.
func (s *Store) WithCampaign(_ context.Context, ownerID, id string, fn func(store.CampaignTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.campaign(ownerID, id)
	if err != nil {
		return err
	}
	tx := &campaignTx{row: cloneRow(row)}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.deleted {
		delete(s.campaigns, id)
		for k, ref := range s.messages {
			if ref.campaignID == id {
				delete(s.messages, k)
			}
		}
		return nil
	}
	s.campaigns[id] = tx.row
	return nil
}

func (s *Store) campaign(ownerID, id string) (*campaignRow, error) {
	row, ok := s.campaigns[id]
	if !ok || (ownerID != "" && row.c.OwnerID != ownerID) {
		return nil, domain.NotFound("campaign", id)
	}
	return row, nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func cloneEntries(in []domain.SequenceEntry) []domain.SequenceEntry {
	out := make([]domain.SequenceEntry, len(in))
	for i, e := range in {
		e.PersonalizationFields = slices.Clone(e.PersonalizationFields)
		out[i] = e
	}
	return out
}

func cloneRecipient(r domain.Recipient) domain.Recipient {
	r.History = slices.Clone(r.History)
	r.PersonalizedData = maps.Clone(r.PersonalizedData)
	return r
}

func cloneRow(row *campaignRow) *campaignRow {
	out := &campaignRow{
		c:          row.c,
		seq:        cloneEntries(row.seq),
		recipients: make(map[string]*recipientRow, len(row.recipients)),
		order:      slices.Clone(row.order),
	}
	for id, rr := range row.recipients {
		cp := *rr
		cp.r = cloneRecipient(rr.r)
		out.recipients[id] = &cp
	}
	return out
}
