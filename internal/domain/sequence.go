package domain

import (
	"fmt"
	"slices"
	"sort"

	"confcrm/internal/util"
)

// NormalizeSequence sorts entries by number, stamps the campaign id, fills
// in a missing channel from a single-channel campaign and derives
// personalization fields from the text when none are declared.
func NormalizeSequence(campaignID string, campaignType ChannelType, entries []SequenceEntry) []SequenceEntry {
	out := make([]SequenceEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	for i := range out {
		out[i].CampaignID = campaignID
		if out[i].ChannelType == "" && campaignType != ChannelMixed {
			out[i].ChannelType = campaignType
		}
		fields := slices.Clone(out[i].PersonalizationFields)
		for _, tok := range util.TemplateTokens(out[i].Subject + "\n" + out[i].Body) {
			if !slices.Contains(fields, tok) {
				fields = append(fields, tok)
			}
		}
		if fields == nil {
			fields = []string{}
		}
		out[i].PersonalizationFields = fields
	}
	return out
}

// ValidateSequence checks a normalized sequence: numbers run 1..N with no
// gaps or duplicates, and every entry's channel fits the campaign type.
func ValidateSequence(campaignType ChannelType, entries []SequenceEntry) error {
	var problems []string
	if len(entries) == 0 {
		problems = append(problems, "sequence must contain at least one message")
	}
	if err := CheckContiguous(entries); err != nil {
		problems = append(problems, err.Error())
	}
	for _, e := range entries {
		switch {
		case !e.ChannelType.Deliverable():
			problems = append(problems, fmt.Sprintf("message %d: channel_type must be linkedin or email", e.SequenceNumber))
		case campaignType != ChannelMixed && e.ChannelType != campaignType:
			problems = append(problems, fmt.Sprintf("message %d: channel_type %s does not match campaign channel %s", e.SequenceNumber, e.ChannelType, campaignType))
		}
		if e.Body == "" {
			problems = append(problems, fmt.Sprintf("message %d: message_body is required", e.SequenceNumber))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CheckContiguous requires sorted entries numbered exactly 1..N.
func CheckContiguous(entries []SequenceEntry) error {
	for i, e := range entries {
		if e.SequenceNumber != i+1 {
			return fmt.Errorf("sequence numbers must run 1..%d without gaps or duplicates (found %d at position %d)", len(entries), e.SequenceNumber, i+1)
		}
	}
	return nil
}

// FirstChangedStep returns the lowest sequence number whose entry differs
// between old and updated (added and removed steps count as changed), or 0
// when the sequences are identical. Both inputs must be sorted.
func FirstChangedStep(old, updated []SequenceEntry) int {
	n := max(len(old), len(updated))
	for i := 0; i < n; i++ {
		if i >= len(old) || i >= len(updated) {
			return i + 1
		}
		if !sameEntry(old[i], updated[i]) {
			return i + 1
		}
	}
	return 0
}

func sameEntry(a, b SequenceEntry) bool {
	return a.SequenceNumber == b.SequenceNumber &&
		a.ChannelType == b.ChannelType &&
		a.Subject == b.Subject &&
		a.Body == b.Body &&
		slices.Equal(a.PersonalizationFields, b.PersonalizationFields)
}
