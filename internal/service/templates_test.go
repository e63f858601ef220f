package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/domain"
	"confcrm/internal/store/memory"
)

func TestTemplateService(t *testing.T) {
	st := memory.New()
	svc := &TemplateService{Store: st}
	ctx := context.Background()

	seeded, err := svc.SeedDefaults(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, seeded, len(DefaultTemplates()))
	assert.Contains(t, seeded[0].PersonalizationFields, "event_name")

	again, err := svc.SeedDefaults(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again)

	priv, err := svc.Create(ctx, "u1", domain.TemplateRequest{Name: "mine", ChannelType: domain.ChannelLinkedIn, Body: "Hi {{first_name}}"})
	require.NoError(t, err)

	// public templates are visible to others, private ones are not
	_, err = svc.Get(ctx, "u2", seeded[0].ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "u2", priv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// only the owner edits
	_, err = svc.Update(ctx, "u2", seeded[0].ID, domain.TemplateRequest{Name: "x", ChannelType: domain.ChannelEmail, Body: "b"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	used, err := svc.Use(ctx, "u2", seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, used.UsageCount)

	items, pg, err := svc.List(ctx, "u2", "", "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, len(seeded), pg.TotalCount)
	assert.Equal(t, seeded[0].ID, items[0].ID, "most used first")

	require.NoError(t, svc.Delete(ctx, "u1", priv.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "u1", priv.ID), domain.ErrNotFound)

	_, err = svc.Create(ctx, "u1", domain.TemplateRequest{Name: "bad", ChannelType: domain.ChannelMixed, Body: "b"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
