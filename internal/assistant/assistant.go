// Package assistant drafts outreach copy and summarizes meeting notes with a
// generative model.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"confcrm/internal/domain"
	"confcrm/internal/observability"
)

type Prompt struct {
	System      string
	User        string
	JSON        bool
	Temperature float32
}

type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

type Assistant struct {
	Gen Generator
}

type EmailDraftRequest struct {
	ContactName string `json:"contact_name" validate:"required,max=200"`
	Company     string `json:"company" validate:"max=200"`
	EventName   string `json:"event_name" validate:"max=200"`
	Notes       string `json:"notes" validate:"max=5000"`
	Goal        string `json:"goal" validate:"required,max=500"`
	Tone        string `json:"tone" validate:"omitempty,oneof=friendly professional casual"`
}

type EmailDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type NotesRequest struct {
	Notes string `json:"notes" validate:"required,max=20000"`
}

type NotesSummary struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
	Topics      []string `json:"topics"`
}

type CampaignCopyRequest struct {
	Goal         string             `json:"goal" validate:"required,max=500"`
	Audience     string             `json:"audience" validate:"required,max=500"`
	ChannelType  domain.ChannelType `json:"channel_type" validate:"required,oneof=linkedin email"`
	MessageCount int                `json:"message_count" validate:"required,min=1,max=10"`
	IntervalDays int                `json:"interval_days" validate:"omitempty,min=1,max=365"`
}

const systemPrompt = "You write concise, warm follow-up messages for professionals who met at conferences. Never invent facts about the recipient."

func (a *Assistant) DraftEmail(ctx context.Context, req EmailDraftRequest) (EmailDraft, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return EmailDraft{}, err
	}
	if req.Tone == "" {
		req.Tone = "friendly"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s follow-up email to %s", req.Tone, req.ContactName)
	if req.Company != "" {
		fmt.Fprintf(&b, " of %s", req.Company)
	}
	if req.EventName != "" {
		fmt.Fprintf(&b, ", whom I met at %s", req.EventName)
	}
	fmt.Fprintf(&b, ".\nGoal: %s\n", req.Goal)
	if req.Notes != "" {
		fmt.Fprintf(&b, "My notes from the conversation:\n%s\n", req.Notes)
	}
	b.WriteString(`Respond with JSON: {"subject": string, "body": string}.`)

	var out EmailDraft
	if err := a.generateJSON(ctx, "email_draft", Prompt{System: systemPrompt, User: b.String(), JSON: true, Temperature: 0.7}, &out); err != nil {
		return EmailDraft{}, err
	}
	if out.Body == "" {
		return EmailDraft{}, fmt.Errorf("model returned an empty email body")
	}
	return out, nil
}

func (a *Assistant) SummarizeNotes(ctx context.Context, req NotesRequest) (NotesSummary, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return NotesSummary{}, err
	}
	user := "Summarize these conference meeting notes in two or three sentences, then list concrete follow-up action items and the main topics.\n" +
		`Respond with JSON: {"summary": string, "action_items": [string], "topics": [string]}.` + "\n\nNotes:\n" + req.Notes
	var out NotesSummary
	if err := a.generateJSON(ctx, "summarize", Prompt{System: systemPrompt, User: user, JSON: true, Temperature: 0.2}, &out); err != nil {
		return NotesSummary{}, err
	}
	if out.ActionItems == nil {
		out.ActionItems = []string{}
	}
	if out.Topics == nil {
		out.Topics = []string{}
	}
	return out, nil
}

// CampaignCopy drafts a full message sequence ready to be used as the
// messages of a new campaign.
func (a *Assistant) CampaignCopy(ctx context.Context, req CampaignCopyRequest) ([]domain.SequenceEntryInput, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}
	user := fmt.Sprintf("Draft a %d-message %s outreach sequence.\nGoal: %s\nAudience: %s\n", req.MessageCount, req.ChannelType, req.Goal, req.Audience)
	if req.IntervalDays > 0 {
		user += fmt.Sprintf("Messages go out %d days apart.\n", req.IntervalDays)
	}
	user += "Use {{first_name}}, {{company}} and {{event_name}} placeholders where natural.\n" +
		`Respond with JSON: {"messages": [{"sequence_number": int, "subject": string, "message_body": string}]}.`

	var out struct {
		Messages []domain.SequenceEntryInput `json:"messages"`
	}
	if err := a.generateJSON(ctx, "campaign_copy", Prompt{System: systemPrompt, User: user, JSON: true, Temperature: 0.8}, &out); err != nil {
		return nil, err
	}
	if len(out.Messages) != req.MessageCount {
		return nil, fmt.Errorf("model returned %d messages, want %d", len(out.Messages), req.MessageCount)
	}
	for i := range out.Messages {
		out.Messages[i].SequenceNumber = i + 1
		out.Messages[i].ChannelType = req.ChannelType
		if req.ChannelType == domain.ChannelLinkedIn {
			out.Messages[i].Subject = ""
		}
	}
	return out.Messages, nil
}

func (a *Assistant) generateJSON(ctx context.Context, kind string, p Prompt, out any) error {
	text, err := a.Gen.Generate(ctx, p)
	if err != nil {
		observability.AIRequests.WithLabelValues(kind, "error").Inc()
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(text)), out); err != nil {
		observability.AIRequests.WithLabelValues(kind, "bad_output").Inc()
		return fmt.Errorf("decode model output: %w", err)
	}
	observability.AIRequests.WithLabelValues(kind, "ok").Inc()
	return nil
}

// stripFences removes a ```json ... ``` wrapper some models add anyway.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
