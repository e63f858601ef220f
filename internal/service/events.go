package service

import (
	"context"
	"log/slog"
	"time"

	"confcrm/internal/domain"
	"confcrm/internal/observability"
	"confcrm/internal/store"
)

type EventStore interface {
	UpdateRecipientByMessage(ctx context.Context, channel domain.ChannelType, externalID string, fn store.RecipientUpdateFunc) (bool, error)
}

type ChannelEvent struct {
	Channel           domain.ChannelType
	ExternalMessageID string
	Event             string
	OccurredAt        time.Time
	Detail            string
}

// EventService applies delivery, open, reply and bounce signals to the
// recipient that received the referenced message.
type EventService struct {
	Store EventStore
}

func (s *EventService) Apply(ctx context.Context, ev ChannelEvent) error {
	if !domain.ValidInboundEvent(ev.Event) {
		observability.ChannelEvents.WithLabelValues(ev.Event, "invalid").Inc()
		return domain.Invalid("unknown event %q", ev.Event)
	}
	if ev.ExternalMessageID == "" {
		observability.ChannelEvents.WithLabelValues(ev.Event, "invalid").Inc()
		return domain.Invalid("external_message_id is required")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	found, err := s.Store.UpdateRecipientByMessage(ctx, ev.Channel, ev.ExternalMessageID, func(r *domain.Recipient, c *domain.Campaign, seq int) error {
		domain.ApplyInboundEvent(r, &c.Stats, domain.InboundEvent{
			Event:          ev.Event,
			SequenceNumber: seq,
			At:             ev.OccurredAt,
			Detail:         ev.Detail,
		})
		return nil
	})
	if err != nil {
		observability.ChannelEvents.WithLabelValues(ev.Event, "error").Inc()
		return err
	}
	if !found {
		observability.ChannelEvents.WithLabelValues(ev.Event, "unknown_message").Inc()
		return domain.NotFound("message", ev.ExternalMessageID)
	}
	observability.ChannelEvents.WithLabelValues(ev.Event, "applied").Inc()
	slog.Info("channel event applied", "channel", string(ev.Channel), "external_message_id", ev.ExternalMessageID, "event", ev.Event)
	return nil
}
