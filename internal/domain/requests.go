package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct runs the struct's validate tags and folds every failure into
// a single ValidationError.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Problems: problems}
}

func describe(fe validator.FieldError) string {
	field := strings.SplitN(fe.Namespace(), ".", 2)
	name := fe.Field()
	if len(field) == 2 {
		name = field[1]
	}
	switch fe.Tag() {
	case "required", "required_without":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
}

type SequenceEntryInput struct {
	SequenceNumber        int         `json:"sequence_number" validate:"min=1"`
	ChannelType           ChannelType `json:"channel_type" validate:"omitempty,oneof=linkedin email"`
	Subject               string      `json:"subject" validate:"max=500"`
	Body                  string      `json:"message_body" validate:"required_without=TemplateID,max=10000"`
	TemplateID            string      `json:"template_id"`
	PersonalizationFields []string    `json:"personalization_fields"`
}

func (in SequenceEntryInput) Entry() SequenceEntry {
	return SequenceEntry{
		SequenceNumber:        in.SequenceNumber,
		ChannelType:           in.ChannelType,
		Subject:               in.Subject,
		Body:                  in.Body,
		PersonalizationFields: in.PersonalizationFields,
	}
}

type CreateCampaignRequest struct {
	Name           string               `json:"name" validate:"required,max=200"`
	Description    string               `json:"description" validate:"max=2000"`
	ChannelType    ChannelType          `json:"channel_type" validate:"required,oneof=linkedin email mixed"`
	MessageCount   int                  `json:"message_count" validate:"omitempty,min=1"`
	IntervalDays   int                  `json:"interval_days" validate:"required,min=1,max=365"`
	StartDate      *time.Time           `json:"start_date"`
	EndDate        *time.Time           `json:"end_date"`
	TargetAudience json.RawMessage      `json:"target_audience"`
	Settings       json.RawMessage      `json:"settings"`
	Messages       []SequenceEntryInput `json:"messages" validate:"required,min=1,max=50,dive"`
}

func (r CreateCampaignRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	if r.MessageCount != 0 && r.MessageCount != len(r.Messages) {
		problems = append(problems, fmt.Sprintf("message_count %d does not match the %d messages supplied", r.MessageCount, len(r.Messages)))
	}
	if r.StartDate != nil && r.EndDate != nil && !r.EndDate.After(*r.StartDate) {
		problems = append(problems, "end_date must be after start_date")
	}
	problems = append(problems, jsonProblems("target_audience", r.TargetAudience)...)
	problems = append(problems, jsonProblems("settings", r.Settings)...)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// UpdateCampaignRequest is a partial update; nil fields are left alone.
type UpdateCampaignRequest struct {
	Name           *string         `json:"name" validate:"omitempty,min=1,max=200"`
	Description    *string         `json:"description" validate:"omitempty,max=2000"`
	IntervalDays   *int            `json:"interval_days" validate:"omitempty,min=1,max=365"`
	StartDate      *time.Time      `json:"start_date"`
	EndDate        *time.Time      `json:"end_date"`
	TargetAudience json.RawMessage `json:"target_audience"`
	Settings       json.RawMessage `json:"settings"`
}

func (r UpdateCampaignRequest) Validate() error {
	if err := ValidateStruct(r); err != nil {
		return err
	}
	var problems []string
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		problems = append(problems, "name must not be blank")
	}
	problems = append(problems, jsonProblems("target_audience", r.TargetAudience)...)
	problems = append(problems, jsonProblems("settings", r.Settings)...)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Apply copies the set fields onto c.
func (r UpdateCampaignRequest) Apply(c *Campaign) error {
	if r.Name != nil {
		c.Name = strings.TrimSpace(*r.Name)
	}
	if r.Description != nil {
		c.Description = *r.Description
	}
	if r.IntervalDays != nil {
		c.IntervalDays = *r.IntervalDays
	}
	if r.StartDate != nil {
		c.StartDate = r.StartDate
	}
	if r.EndDate != nil {
		c.EndDate = r.EndDate
	}
	if r.TargetAudience != nil {
		c.TargetAudience = r.TargetAudience
	}
	if r.Settings != nil {
		c.Settings = r.Settings
	}
	if c.StartDate != nil && c.EndDate != nil && !c.EndDate.After(*c.StartDate) {
		return Invalid("end_date must be after start_date")
	}
	return nil
}

type ReplaceSequenceRequest struct {
	Messages []SequenceEntryInput `json:"messages" validate:"required,min=1,max=50,dive"`
}

type AddRecipientsRequest struct {
	ContactIDs []string `json:"contact_ids" validate:"required,min=1,max=1000,dive,required"`
	// Optional per-contact placeholder overrides.
	PersonalizedData map[string]map[string]string `json:"personalized_data"`
}

type TemplateRequest struct {
	Name                  string      `json:"name" validate:"required,max=200"`
	Category              string      `json:"category" validate:"max=100"`
	ChannelType           ChannelType `json:"channel_type" validate:"required,oneof=linkedin email"`
	Subject               string      `json:"subject" validate:"max=500"`
	Body                  string      `json:"message_body" validate:"required,max=10000"`
	PersonalizationFields []string    `json:"personalization_fields"`
	IsPublic              bool        `json:"is_public"`
}

func jsonProblems(field string, raw json.RawMessage) []string {
	if len(raw) == 0 || json.Valid(raw) {
		return nil
	}
	return []string{field + " must be valid JSON"}
}
