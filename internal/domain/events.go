package domain

import "time"

var statusRank = map[RecipientStatus]int{
	RecipientPending:   0,
	RecipientSent:      1,
	RecipientDelivered: 2,
	RecipientOpened:    3,
	RecipientReplied:   4,
}

// InboundEvent is an engagement signal reported by a channel after a send.
type InboundEvent struct {
	Event          string
	SequenceNumber int
	At             time.Time
	Detail         string
}

func ValidInboundEvent(event string) bool {
	switch event {
	case EventDelivered, EventOpened, EventReplied, EventBounced:
		return true
	}
	return false
}

// ApplyInboundEvent records ev on the recipient and bumps the campaign
// counters. A bounce is terminal. Other events only raise the status, and
// only when they refer to the most recently sent message; a reply does not
// stop the sequence.
func ApplyInboundEvent(r *Recipient, stats *CampaignStats, ev InboundEvent) {
	r.History = append(r.History, InteractionEvent{
		At:             ev.At,
		Event:          ev.Event,
		SequenceNumber: ev.SequenceNumber,
		Detail:         ev.Detail,
	})
	r.UpdatedAt = ev.At

	var next RecipientStatus
	switch ev.Event {
	case EventDelivered:
		stats.Delivered++
		next = RecipientDelivered
	case EventOpened:
		stats.Opened++
		next = RecipientOpened
	case EventReplied:
		stats.Replied++
		next = RecipientReplied
	case EventBounced:
		if !r.Status.Terminal() {
			r.Status = RecipientBounced
			r.NextMessageScheduledAt = nil
		}
		return
	default:
		return
	}
	if r.Status.Terminal() || ev.SequenceNumber != r.CurrentSequence-1 {
		return
	}
	if statusRank[next] > statusRank[r.Status] {
		r.Status = next
	}
}
