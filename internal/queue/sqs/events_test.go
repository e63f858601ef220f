package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	mu       sync.Mutex
	sent     []*sqs.SendMessageInput
	inbox    []types.Message
	deleted  []string
	received bool
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if !f.received {
		f.received = true
		msgs := f.inbox
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(context.Context, *sqs.GetQueueAttributesInput, ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{}, nil
}

func TestEnqueueFIFOGroupsByMessage(t *testing.T) {
	api := &fakeSQS{}
	p := &EventProducer{SQS: api, QueueURL: "https://sqs.us-east-1.amazonaws.com/1/events.fifo"}
	ev := ChannelEvent{Channel: "email", ExternalMessageID: "<msg_1@crm>", Event: "delivered", OccurredAt: time.Unix(100, 0).UTC()}

	require.NoError(t, p.Enqueue(context.Background(), ev))
	require.NoError(t, p.Enqueue(context.Background(), ev))

	require.Len(t, api.sent, 2)
	assert.Equal(t, "email:<msg_1@crm>", aws.ToString(api.sent[0].MessageGroupId))
	assert.Equal(t, aws.ToString(api.sent[0].MessageDeduplicationId), aws.ToString(api.sent[1].MessageDeduplicationId))

	var got ChannelEvent
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(api.sent[0].MessageBody)), &got))
	assert.Equal(t, ev, got)
}

func TestEnqueueStandardQueueHasNoGroup(t *testing.T) {
	api := &fakeSQS{}
	p := &EventProducer{SQS: api, QueueURL: "https://sqs.us-east-1.amazonaws.com/1/events"}
	require.NoError(t, p.Enqueue(context.Background(), ChannelEvent{Channel: "linkedin", ExternalMessageID: "m1", Event: "replied"}))
	assert.Nil(t, api.sent[0].MessageGroupId)
	assert.Nil(t, api.sent[0].MessageDeduplicationId)
}

func message(handle, body string) types.Message {
	return types.Message{ReceiptHandle: aws.String(handle), Body: aws.String(body)}
}

func TestPollConcurrentDeletesOnlyHandledMessages(t *testing.T) {
	ok, _ := json.Marshal(ChannelEvent{Channel: "email", ExternalMessageID: "m1", Event: "opened"})
	fail, _ := json.Marshal(ChannelEvent{Channel: "email", ExternalMessageID: "unknown", Event: "opened"})
	api := &fakeSQS{inbox: []types.Message{
		message("h-ok", string(ok)),
		message("h-fail", string(fail)),
		message("h-poison", "{not json"),
		{ReceiptHandle: aws.String("h-empty")},
	}}
	c := &EventConsumer{SQS: api, QueueURL: "q", MaxMessages: 10}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var handled []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := c.PollConcurrent(ctx, 2, func(_ context.Context, ev ChannelEvent) error {
			mu.Lock()
			handled = append(handled, ev.ExternalMessageID)
			mu.Unlock()
			if ev.ExternalMessageID == "unknown" {
				return errors.New("no recipient for message")
			}
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.deleted) == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.ElementsMatch(t, []string{"m1", "unknown"}, handled)
	assert.ElementsMatch(t, []string{"h-ok", "h-poison", "h-empty"}, api.deleted)
}
