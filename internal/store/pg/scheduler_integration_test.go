//go:build integration

package pg

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/channel"
	"confcrm/internal/domain"
	"confcrm/internal/scheduler"
	"confcrm/internal/service"
)

type countingSender struct {
	mu   sync.Mutex
	sent map[string]int
}

func (c *countingSender) Send(_ context.Context, m channel.Message) (channel.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[m.IdempotencyKey]++
	return channel.Receipt{ExternalMessageID: "ext-" + m.IdempotencyKey}, nil
}

func TestConcurrentSchedulersSendOnce(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	contacts := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("c%02d", i)
		contacts = append(contacts, id)
		require.NoError(t, s.UpsertContact(ctx, domain.Contact{ID: id, FirstName: "F", Email: id + "@example.com"}))
	}
	seedActiveCampaign(t, s, "cmp_1", now, contacts...)

	svc := &service.CampaignService{Store: s, Templates: s, Contacts: s}
	sender := &countingSender{sent: map[string]int{}}
	newScheduler := func(worker string) *scheduler.Scheduler {
		return &scheduler.Scheduler{
			Store: s, Contacts: s, Sender: sender, Completer: svc,
			Now: func() time.Time { return now.Add(time.Second) },
			Config: scheduler.Config{
				WorkerID: worker, BatchSize: 7, Concurrency: 4,
				LeaseTTL: time.Minute, SendTimeout: 5 * time.Second, MaxAttempts: 3,
			},
		}
	}

	var wg sync.WaitGroup
	for _, w := range []string{"w1", "w2", "w3"} {
		wg.Add(1)
		go func(sch *scheduler.Scheduler) {
			defer wg.Done()
			_, err := sch.RunPass(ctx)
			assert.NoError(t, err)
		}(newScheduler(w))
	}
	wg.Wait()

	require.Len(t, sender.sent, len(contacts))
	for key, n := range sender.sent {
		assert.Equal(t, 1, n, key)
	}

	c, err := s.GetCampaign(ctx, "", "cmp_1")
	require.NoError(t, err)
	assert.Equal(t, len(contacts), c.Stats.Sent)

	rs, err := s.ListRecipients(ctx, "cmp_1")
	require.NoError(t, err)
	for _, r := range rs {
		assert.Equal(t, 2, r.CurrentSequence, r.ContactID)
		assert.Equal(t, domain.RecipientSent, r.Status, r.ContactID)
	}
}
