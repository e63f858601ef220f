package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		from CampaignStatus
		act  Action
		want CampaignStatus
	}{
		{StatusDraft, ActionStart, StatusActive},
		{StatusDraft, ActionCancel, StatusCancelled},
		{StatusActive, ActionPause, StatusPaused},
		{StatusActive, ActionComplete, StatusCompleted},
		{StatusActive, ActionCancel, StatusCancelled},
		{StatusPaused, ActionResume, StatusActive},
		{StatusPaused, ActionComplete, StatusCompleted},
		{StatusPaused, ActionCancel, StatusCancelled},
	}
	for _, tc := range cases {
		got, err := NextStatus(tc.from, tc.act)
		require.NoError(t, err, "%s/%s", tc.from, tc.act)
		assert.Equal(t, tc.want, got)
	}
}

func TestNextStatusRejects(t *testing.T) {
	cases := []struct {
		from CampaignStatus
		act  Action
	}{
		{StatusDraft, ActionPause},
		{StatusDraft, ActionResume},
		{StatusDraft, ActionComplete},
		{StatusActive, ActionStart},
		{StatusActive, ActionResume},
		{StatusPaused, ActionPause},
		{StatusPaused, ActionStart},
		{StatusCompleted, ActionCancel},
		{StatusCompleted, ActionStart},
		{StatusCancelled, ActionResume},
		{StatusCancelled, ActionCancel},
	}
	for _, tc := range cases {
		_, err := NextStatus(tc.from, tc.act)
		require.Error(t, err, "%s/%s", tc.from, tc.act)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		var ite *InvalidTransitionError
		require.True(t, errors.As(err, &ite))
		assert.Equal(t, tc.from, ite.From)
	}
}

func TestEditable(t *testing.T) {
	assert.True(t, Editable(StatusDraft))
	assert.True(t, Editable(StatusPaused))
	assert.False(t, Editable(StatusCompleted))
	assert.False(t, Editable(StatusCancelled))
}
