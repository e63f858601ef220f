package store

import (
	"context"
	"errors"
	"time"

	"confcrm/internal/domain"
)

// ErrLeaseLost is returned when a send outcome is recorded by a worker that
// no longer holds the recipient (lease expired and was taken over, or the
// recipient moved on or was removed).
var ErrLeaseLost = errors.New("recipient lease lost")

type CampaignFilter struct {
	OwnerID string
	Status  domain.CampaignStatus
	Limit   int
	Offset  int
}

type TemplateFilter struct {
	OwnerID     string
	Category    string
	ChannelType domain.ChannelType
	Limit       int
	Offset      int
}

type RecipientStats struct {
	Total       int
	Terminal    int
	MaxSequence int
}

// AllTerminal is the completion guard: every recipient is bounced, failed
// or past the last message.
func (s RecipientStats) AllTerminal() bool { return s.Terminal == s.Total }

type NewRecipient struct {
	ContactID        string
	PersonalizedData map[string]string
}

// CampaignTx is a view of one campaign whose row is locked for the lifetime
// of the callback passed to WithCampaign. Returning an error from the
// callback discards every write made through the view.
type CampaignTx interface {
	Campaign() domain.Campaign
	Sequence(ctx context.Context) ([]domain.SequenceEntry, error)
	RecipientStats(ctx context.Context) (RecipientStats, error)

	SaveCampaign(ctx context.Context, c domain.Campaign) error
	// ReplaceSequence swaps the whole sequence. Entries must be sorted and
	// numbered 1..N.
	ReplaceSequence(ctx context.Context, entries []domain.SequenceEntry) error
	// InsertRecipients adds contacts that are not yet in the campaign and
	// reports how many were new.
	InsertRecipients(ctx context.Context, recipients []NewRecipient, nextAt *time.Time, now time.Time) (int, error)
	Delete(ctx context.Context) error

	// ScheduleUnscheduled gives every non-terminal recipient without a due
	// time one at max(at, last send + interval).
	ScheduleUnscheduled(ctx context.Context, at time.Time) (int64, error)
	// PullForwardOverdue moves every non-terminal recipient whose due time is
	// missing or before now to now.
	PullForwardOverdue(ctx context.Context, now time.Time) (int64, error)
	UnscheduleAll(ctx context.Context) (int64, error)
	UnscheduleExhausted(ctx context.Context) (int64, error)
}

type ClaimParams struct {
	// Lease identifies this pass; it is both the lease owner and the pass
	// marker that stops a recipient from being claimed twice in one pass.
	Lease    string
	Now      time.Time
	LeaseTTL time.Duration
	Limit    int
}

// LeaseRenewal extends a held lease right before dispatch. It fails with
// ErrLeaseLost unless the lease is still unexpired at Now, the recipient is
// still at SequenceNumber and not terminal, and the campaign is active.
type LeaseRenewal struct {
	CampaignID     string
	ContactID      string
	Lease          string
	SequenceNumber int
	Now            time.Time
	LeaseTTL       time.Duration
}

type Claim struct {
	Campaign  domain.Campaign
	Recipient domain.Recipient
	// Entry is nil when the campaign has no entry for the recipient's step.
	Entry *domain.SequenceEntry
}

type SendSuccess struct {
	CampaignID        string
	ContactID         string
	Lease             string
	SequenceNumber    int
	Channel           domain.ChannelType
	ExternalMessageID string
	SentAt            time.Time
	// NextAt is dropped when the recipient turned terminal while the send
	// was in flight, or the campaign is no longer active or paused.
	NextAt            *time.Time
	Event             domain.InteractionEvent
}

type SendFailure struct {
	CampaignID     string
	ContactID      string
	Lease          string
	SequenceNumber int
	Attempts       int
	Terminal       bool
	At             time.Time
	Event          domain.InteractionEvent
}

type OAuthState struct {
	State     string
	OwnerID   string
	Provider  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type LinkedInAccount struct {
	OwnerID      string
	MemberURN    string
	Name         string
	Email        string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	UpdatedAt    time.Time
}

// RecipientUpdateFunc mutates a recipient and its campaign (stats only) in
// place; sequenceNumber is the step the external message belonged to.
type RecipientUpdateFunc func(r *domain.Recipient, c *domain.Campaign, sequenceNumber int) error
