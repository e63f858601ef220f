package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/domain"
	"confcrm/internal/store"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, status domain.CampaignStatus, contacts ...string) {
	t.Helper()
	ctx := context.Background()
	c := domain.Campaign{ID: "cmp_1", OwnerID: "u1", Name: "c", ChannelType: domain.ChannelEmail, Status: status, MessageCount: 2, IntervalDays: 1, CreatedAt: t0}
	seq := domain.NormalizeSequence(c.ID, c.ChannelType, []domain.SequenceEntry{{SequenceNumber: 1, Body: "a"}, {SequenceNumber: 2, Body: "b"}})
	require.NoError(t, s.CreateCampaign(ctx, c, seq))
	var rs []store.NewRecipient
	for _, id := range contacts {
		rs = append(rs, store.NewRecipient{ContactID: id})
	}
	require.NoError(t, s.WithCampaign(ctx, "", c.ID, func(tx store.CampaignTx) error {
		_, err := tx.InsertRecipients(ctx, rs, &t0, t0)
		return err
	}))
}

func TestWithCampaignRollsBackOnError(t *testing.T) {
	s := New()
	seed(t, s, domain.StatusDraft, "a")
	boom := errors.New("boom")
	err := s.WithCampaign(context.Background(), "u1", "cmp_1", func(tx store.CampaignTx) error {
		c := tx.Campaign()
		c.Name = "changed"
		require.NoError(t, tx.SaveCampaign(context.Background(), c))
		_, _ = tx.InsertRecipients(context.Background(), []store.NewRecipient{{ContactID: "b"}}, nil, t0)
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, err := s.GetCampaign(context.Background(), "u1", "cmp_1")
	require.NoError(t, err)
	assert.Equal(t, "c", c.Name)
	rs, _ := s.ListRecipients(context.Background(), "cmp_1")
	assert.Len(t, rs, 1)
}

func TestWithCampaignOwnerScoped(t *testing.T) {
	s := New()
	seed(t, s, domain.StatusDraft)
	err := s.WithCampaign(context.Background(), "someone-else", "cmp_1", func(store.CampaignTx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertRecipientsIsIdempotent(t *testing.T) {
	s := New()
	seed(t, s, domain.StatusDraft, "a", "b")
	var added int
	require.NoError(t, s.WithCampaign(context.Background(), "", "cmp_1", func(tx store.CampaignTx) error {
		var err error
		added, err = tx.InsertRecipients(context.Background(), []store.NewRecipient{{ContactID: "b"}, {ContactID: "c"}}, nil, t0)
		return err
	}))
	assert.Equal(t, 1, added)
}

func TestClaimIsExclusiveUntilLeaseExpires(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, domain.StatusActive, "a", "b")

	first, err := s.ClaimDueRecipients(ctx, store.ClaimParams{Lease: "p1", Now: t0, LeaseTTL: time.Minute, Limit: 10})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotNil(t, first[0].Entry)
	assert.Equal(t, 1, first[0].Entry.SequenceNumber)

	second, err := s.ClaimDueRecipients(ctx, store.ClaimParams{Lease: "p2", Now: t0.Add(30 * time.Second), LeaseTTL: time.Minute, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, second)

	again, err := s.ClaimDueRecipients(ctx, store.ClaimParams{Lease: "p1", Now: t0.Add(2 * time.Minute), LeaseTTL: time.Minute, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, again, "a pass never claims the same recipient twice")

	taken, err := s.ClaimDueRecipients(ctx, store.ClaimParams{Lease: "p3", Now: t0.Add(2 * time.Minute), LeaseTTL: time.Minute, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, taken, 1)
}

func TestRecordSendRequiresLease(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, domain.StatusActive, "a")
	_, err := s.ClaimDueRecipients(ctx, store.ClaimParams{Lease: "p1", Now: t0, LeaseTTL: time.Minute, Limit: 10})
	require.NoError(t, err)

	err = s.RecordSendSuccess(ctx, store.SendSuccess{CampaignID: "cmp_1", ContactID: "a", Lease: "other", SequenceNumber: 1, SentAt: t0})
	assert.ErrorIs(t, err, store.ErrLeaseLost)

	next := t0.Add(24 * time.Hour)
	require.NoError(t, s.RecordSendSuccess(ctx, store.SendSuccess{
		CampaignID: "cmp_1", ContactID: "a", Lease: "p1", SequenceNumber: 1,
		Channel: domain.ChannelEmail, ExternalMessageID: "ext-1", SentAt: t0, NextAt: &next,
		Event: domain.InteractionEvent{At: t0, Event: domain.EventSent, SequenceNumber: 1},
	}))
	r, ok := s.Recipient("cmp_1", "a")
	require.True(t, ok)
	assert.Equal(t, 2, r.CurrentSequence)
	assert.Equal(t, domain.RecipientSent, r.Status)
	assert.Equal(t, next, *r.NextMessageScheduledAt)

	err = s.RecordSendSuccess(ctx, store.SendSuccess{CampaignID: "cmp_1", ContactID: "a", Lease: "p1", SequenceNumber: 1, SentAt: t0})
	assert.ErrorIs(t, err, store.ErrLeaseLost, "a second record for the same step is rejected")

	found, err := s.UpdateRecipientByMessage(ctx, domain.ChannelEmail, "ext-1", func(r *domain.Recipient, c *domain.Campaign, seq int) error {
		assert.Equal(t, 1, seq)
		domain.ApplyInboundEvent(r, &c.Stats, domain.InboundEvent{Event: domain.EventOpened, SequenceNumber: seq, At: t0})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, found)
	c, _ := s.GetCampaign(ctx, "", "cmp_1")
	assert.Equal(t, domain.CampaignStats{Sent: 1, Opened: 1}, c.Stats)
}

func TestScheduleUnscheduledRespectsSpacing(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, domain.StatusPaused)
	sent := t0.Add(-time.Hour)
	require.NoError(t, s.WithCampaign(ctx, "", "cmp_1", func(tx store.CampaignTx) error {
		_, err := tx.InsertRecipients(ctx, []store.NewRecipient{{ContactID: "a"}}, nil, t0)
		return err
	}))
	s.campaigns["cmp_1"].recipients["a"].r.LastMessageSentAt = &sent

	require.NoError(t, s.WithCampaign(ctx, "", "cmp_1", func(tx store.CampaignTx) error {
		n, err := tx.ScheduleUnscheduled(ctx, t0)
		assert.EqualValues(t, 1, n)
		return err
	}))
	r, _ := s.Recipient("cmp_1", "a")
	assert.Equal(t, sent.Add(24*time.Hour), *r.NextMessageScheduledAt)
}

func TestOAuthStateSingleUse(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveOAuthState(ctx, store.OAuthState{State: "x", OwnerID: "u1", ExpiresAt: t0.Add(time.Minute)}))
	require.NoError(t, s.SaveOAuthState(ctx, store.OAuthState{State: "old", OwnerID: "u1", ExpiresAt: t0.Add(-time.Minute)}))

	st, err := s.ConsumeOAuthState(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "u1", st.OwnerID)
	_, err = s.ConsumeOAuthState(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, err := s.DeleteExpiredOAuthStates(ctx, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
