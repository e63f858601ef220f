package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/domain"
)

type cannedGen struct {
	reply string
	err   error
	last  Prompt
}

func (c *cannedGen) Generate(_ context.Context, p Prompt) (string, error) {
	c.last = p
	return c.reply, c.err
}

func TestDraftEmail(t *testing.T) {
	gen := &cannedGen{reply: "```json\n{\"subject\":\"Great to meet you\",\"body\":\"Hi Ada\"}\n```"}
	a := &Assistant{Gen: gen}
	d, err := a.DraftEmail(context.Background(), EmailDraftRequest{ContactName: "Ada", EventName: "GopherCon", Goal: "book a demo"})
	require.NoError(t, err)
	assert.Equal(t, "Great to meet you", d.Subject)
	assert.True(t, gen.last.JSON)
	assert.Contains(t, gen.last.User, "GopherCon")
	assert.Contains(t, gen.last.User, "friendly")
}

func TestDraftEmailValidation(t *testing.T) {
	a := &Assistant{Gen: &cannedGen{}}
	_, err := a.DraftEmail(context.Background(), EmailDraftRequest{Goal: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSummarizeNotes(t *testing.T) {
	a := &Assistant{Gen: &cannedGen{reply: `{"summary":"Talked about pgx","action_items":["send deck"]}`}}
	s, err := a.SummarizeNotes(context.Background(), NotesRequest{Notes: "long notes"})
	require.NoError(t, err)
	assert.Equal(t, []string{"send deck"}, s.ActionItems)
	assert.Equal(t, []string{}, s.Topics)
}

func TestCampaignCopy(t *testing.T) {
	reply := `{"messages":[{"sequence_number":7,"subject":"s1","message_body":"Hi {{first_name}}"},{"subject":"s2","message_body":"Following up"}]}`
	a := &Assistant{Gen: &cannedGen{reply: reply}}
	msgs, err := a.CampaignCopy(context.Background(), CampaignCopyRequest{Goal: "g", Audience: "a", ChannelType: domain.ChannelLinkedIn, MessageCount: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].SequenceNumber)
	assert.Equal(t, 2, msgs[1].SequenceNumber)
	assert.Empty(t, msgs[0].Subject)
	assert.Equal(t, domain.ChannelLinkedIn, msgs[1].ChannelType)

	_, err = a.CampaignCopy(context.Background(), CampaignCopyRequest{Goal: "g", Audience: "a", ChannelType: domain.ChannelEmail, MessageCount: 3})
	assert.Error(t, err)
}

func TestGeneratorErrorsPropagate(t *testing.T) {
	boom := errors.New("quota")
	a := &Assistant{Gen: &cannedGen{err: boom}}
	_, err := a.SummarizeNotes(context.Background(), NotesRequest{Notes: "n"})
	assert.ErrorIs(t, err, boom)

	a = &Assistant{Gen: &cannedGen{reply: "not json"}}
	_, err = a.SummarizeNotes(context.Background(), NotesRequest{Notes: "n"})
	assert.Error(t, err)
}
