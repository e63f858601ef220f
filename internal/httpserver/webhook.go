package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"confcrm/internal/domain"
	"confcrm/internal/observability"
	sqsqueue "confcrm/internal/queue/sqs"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

type EventQueue interface {
	Enqueue(ctx context.Context, ev sqsqueue.ChannelEvent) error
}

// Webhook accepts delivery, open, reply and bounce callbacks from channels
// and queues them for the events processor. It never touches the database.
type Webhook struct {
	Queue  EventQueue
	Secret string
	Now    func() time.Time
}

type webhookEvent struct {
	ExternalMessageID string    `json:"external_message_id"`
	Event             string    `json:"event"`
	OccurredAt        time.Time `json:"occurred_at"`
	Detail            string    `json:"detail"`
}

func (h *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/{channel}/events", h.receive).Methods(http.MethodPost)
}

func (h *Webhook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *Webhook) receive(w http.ResponseWriter, r *http.Request) {
	channel := domain.ChannelType(mux.Vars(r)["channel"])
	if !channel.Deliverable() {
		writeMessage(w, http.StatusNotFound, "unknown channel")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "bad body")
		return
	}
	if !VerifySignature(h.Secret, body, r.Header.Get(SignatureHeader)) {
		observability.ChannelEvents.WithLabelValues("unknown", "bad_signature").Inc()
		writeMessage(w, http.StatusUnauthorized, ErrInvalidSignature)
		return
	}

	var in webhookEvent
	if err := json.Unmarshal(body, &in); err != nil {
		writeMessage(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	if !domain.ValidInboundEvent(in.Event) || in.ExternalMessageID == "" {
		observability.ChannelEvents.WithLabelValues(in.Event, "rejected").Inc()
		writeMessage(w, http.StatusBadRequest, "external_message_id and a known event are required")
		return
	}

	now := h.now()
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	ev := sqsqueue.ChannelEvent{
		Channel:           string(channel),
		ExternalMessageID: in.ExternalMessageID,
		Event:             in.Event,
		OccurredAt:        occurred.UTC(),
		Detail:            in.Detail,
		ReceivedAt:        now,
	}
	if err := h.Queue.Enqueue(r.Context(), ev); err != nil {
		slog.Error("webhook enqueue failed", "err", err, "channel", channel, "external_message_id", in.ExternalMessageID)
		writeMessage(w, http.StatusServiceUnavailable, ErrDependency)
		return
	}
	observability.ChannelEvents.WithLabelValues(in.Event, "accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
}

// VerifySignature reports whether sig is the hex HMAC-SHA256 of body under
// secret.
func VerifySignature(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(secret, body))
}

func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
