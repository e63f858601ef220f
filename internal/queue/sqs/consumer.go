package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type EventHandler func(ctx context.Context, ev ChannelEvent) error

type EventConsumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
	// ReceiveBackoff is the pause after a failed receive; defaults to 500ms.
	ReceiveBackoff time.Duration
}

// PollConcurrent processes events with a worker pool. Messages are deleted
// only after the handler succeeds; a failed message is left for SQS redrive.
// It returns once ctx is cancelled and the workers have drained.
func (c *EventConsumer) PollConcurrent(ctx context.Context, workers int, handler EventHandler) error {
	if workers <= 0 {
		workers = 1
	}
	backoff := c.ReceiveBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	jobs := make(chan types.Message, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, m, handler)
			}
		}()
	}

	err := c.receive(ctx, jobs, backoff)
	close(jobs)

	// Let workers finish whatever is already in jobs.
	wg.Wait()
	return err
}

func (c *EventConsumer) receive(ctx context.Context, jobs chan<- types.Message, backoff time.Duration) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.QueueURL,
			MaxNumberOfMessages: c.MaxMessages,
			WaitTimeSeconds:     c.WaitTimeSeconds,
			VisibilityTimeout:   c.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("sqs receive event message failed", "err", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, m := range out.Messages {
			select {
			case jobs <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, m types.Message, handler EventHandler) {
	if m.Body == nil {
		c.delete(ctx, m)
		return
	}
	var ev ChannelEvent
	if err := json.Unmarshal([]byte(*m.Body), &ev); err != nil {
		// bad payload => delete to avoid endless redrive
		slog.Warn("sqs dropping malformed event", "err", err)
		c.delete(ctx, m)
		return
	}

	// A handler that started before shutdown finishes its writes.
	if err := handler(context.WithoutCancel(ctx), ev); err != nil {
		slog.Error("sqs event handler error", "err", err,
			"channel", ev.Channel, "event", ev.Event, "external_message_id", ev.ExternalMessageID)
		return
	}
	c.delete(ctx, m)
}

func (c *EventConsumer) delete(ctx context.Context, m types.Message) {
	_, err := c.SQS.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		slog.Error("sqs delete event message failed", "err", err)
	}
}
