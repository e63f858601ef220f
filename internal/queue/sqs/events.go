package sqsqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"confcrm/internal/observability"
)

// API is the subset of *sqs.Client the queue uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// ChannelEvent is the queued envelope for a delivery, open, reply or bounce
// reported by a channel. Keep it small; SQS caps messages at 256KB.
type ChannelEvent struct {
	Channel           string    `json:"channel"`
	ExternalMessageID string    `json:"externalMessageId"`
	Event             string    `json:"event"`
	OccurredAt        time.Time `json:"occurredAt"`
	Detail            string    `json:"detail,omitempty"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

type EventProducer struct {
	SQS      API
	QueueURL string
}

// Enqueue publishes ev. On a FIFO queue events for the same external message
// share a group, so they are applied in the order they were received.
func (p *EventProducer) Enqueue(ctx context.Context, ev ChannelEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: aws.String(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		sum := sha256.Sum256(body)
		in.MessageGroupId = aws.String(ev.Channel + ":" + ev.ExternalMessageID)
		in.MessageDeduplicationId = aws.String(hex.EncodeToString(sum[:]))
	}
	_, err = p.SQS.SendMessage(ctx, in)
	if err != nil {
		observability.Enqueues.WithLabelValues("error").Inc()
		return err
	}
	observability.Enqueues.WithLabelValues("ok").Inc()
	return nil
}

// Ping checks that the queue exists and is reachable.
func Ping(ctx context.Context, api API, queueURL string) error {
	_, err := api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &queueURL,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	return err
}
