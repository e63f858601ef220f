package domain

import (
	"encoding/json"
	"time"
)

type ChannelType string

const (
	ChannelLinkedIn ChannelType = "linkedin"
	ChannelEmail    ChannelType = "email"
	// ChannelMixed is only valid on a campaign; every sequence entry still
	// names a concrete channel.
	ChannelMixed ChannelType = "mixed"
)

func (c ChannelType) Valid() bool {
	switch c {
	case ChannelLinkedIn, ChannelEmail, ChannelMixed:
		return true
	}
	return false
}

// Deliverable reports whether a message can actually be sent over c.
func (c ChannelType) Deliverable() bool {
	return c == ChannelLinkedIn || c == ChannelEmail
}

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusActive    CampaignStatus = "active"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusCancelled CampaignStatus = "cancelled"
)

func (s CampaignStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type CampaignStats struct {
	Sent      int `json:"messages_sent"`
	Delivered int `json:"messages_delivered"`
	Opened    int `json:"messages_opened"`
	Replied   int `json:"replies_received"`
}

type Campaign struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	ChannelType    ChannelType     `json:"channel_type"`
	Status         CampaignStatus  `json:"status"`
	MessageCount   int             `json:"message_count"`
	IntervalDays   int             `json:"interval_days"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	TargetAudience json.RawMessage `json:"target_audience,omitempty"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	Stats          CampaignStats   `json:"stats"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (c Campaign) Interval() time.Duration {
	return time.Duration(c.IntervalDays) * 24 * time.Hour
}

// Ended reports whether the campaign's end_date has passed at now.
func (c Campaign) Ended(now time.Time) bool {
	return c.EndDate != nil && !now.Before(*c.EndDate)
}

type SequenceEntry struct {
	CampaignID            string      `json:"campaign_id,omitempty"`
	SequenceNumber        int         `json:"sequence_number"`
	ChannelType           ChannelType `json:"channel_type"`
	Subject               string      `json:"subject,omitempty"`
	Body                  string      `json:"message_body"`
	PersonalizationFields []string    `json:"personalization_fields"`
}

type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientOpened    RecipientStatus = "opened"
	RecipientReplied   RecipientStatus = "replied"
	RecipientBounced   RecipientStatus = "bounced"
	RecipientFailed    RecipientStatus = "failed"
)

// Terminal statuses stop delivery regardless of sequence position.
func (s RecipientStatus) Terminal() bool {
	return s == RecipientBounced || s == RecipientFailed
}

// Interaction history event names.
const (
	EventSent      = "sent"
	EventFailed    = "failed"
	EventDelivered = "delivered"
	EventOpened    = "opened"
	EventReplied   = "replied"
	EventBounced   = "bounced"
)

type InteractionEvent struct {
	At             time.Time `json:"timestamp"`
	Event          string    `json:"event"`
	SequenceNumber int       `json:"sequence_number,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}

type Recipient struct {
	CampaignID             string             `json:"campaign_id"`
	ContactID              string             `json:"contact_id"`
	Status                 RecipientStatus    `json:"status"`
	CurrentSequence        int                `json:"current_message_sequence"`
	Attempts               int                `json:"attempts"`
	LastMessageSentAt      *time.Time         `json:"last_message_sent_at,omitempty"`
	NextMessageScheduledAt *time.Time         `json:"next_message_scheduled_at,omitempty"`
	PersonalizedData       map[string]string  `json:"personalized_data,omitempty"`
	History                []InteractionEvent `json:"interaction_history"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// Exhausted is true once every message in a sequence of messageCount has
// been sent to the recipient.
func (r Recipient) Exhausted(messageCount int) bool {
	return r.CurrentSequence > messageCount
}

func (r Recipient) Terminal(messageCount int) bool {
	return r.Status.Terminal() || r.Exhausted(messageCount)
}

type Template struct {
	ID                    string      `json:"id"`
	OwnerID               string      `json:"owner_id"`
	IsPublic              bool        `json:"is_public"`
	Name                  string      `json:"name"`
	Category              string      `json:"category,omitempty"`
	ChannelType           ChannelType `json:"channel_type"`
	Subject               string      `json:"subject,omitempty"`
	Body                  string      `json:"message_body"`
	PersonalizationFields []string    `json:"personalization_fields"`
	UsageCount            int         `json:"usage_count"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

type Contact struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	FirstName   string            `json:"first_name,omitempty"`
	LastName    string            `json:"last_name,omitempty"`
	Email       string            `json:"email,omitempty"`
	LinkedInURN string            `json:"linkedin_urn,omitempty"`
	Company     string            `json:"company,omitempty"`
	Title       string            `json:"title,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Address returns the contact's address on ch, or "" when it has none.
func (c Contact) Address(ch ChannelType) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelLinkedIn:
		return c.LinkedInURN
	}
	return ""
}

// Values flattens the contact into placeholder values. Custom fields win over
// the built-in ones; empty built-ins are omitted.
func (c Contact) Values() map[string]string {
	out := make(map[string]string, len(c.Fields)+6)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("first_name", c.FirstName)
	put("last_name", c.LastName)
	put("email", c.Email)
	put("company", c.Company)
	put("title", c.Title)
	if c.FirstName != "" || c.LastName != "" {
		put("full_name", joinName(c.FirstName, c.LastName))
	}
	for k, v := range c.Fields {
		out[k] = v
	}
	return out
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}
