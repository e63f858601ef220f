package httpserver

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqsqueue "confcrm/internal/queue/sqs"
)

type fakeQueue struct {
	events []sqsqueue.ChannelEvent
	err    error
}

func (q *fakeQueue) Enqueue(_ context.Context, ev sqsqueue.ChannelEvent) error {
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, ev)
	return nil
}

func newWebhook(q EventQueue) http.Handler {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	s := New()
	(&Webhook{Queue: q, Secret: "whsec", Now: func() time.Time { return now }}).Register(s.Mux)
	return s.Handler()
}

func postEvent(h http.Handler, channel, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+channel+"/events", strings.NewReader(body))
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sign(body string) string {
	return hex.EncodeToString(Sign("whsec", []byte(body)))
}

func TestWebhookQueuesSignedEvent(t *testing.T) {
	q := &fakeQueue{}
	h := newWebhook(q)
	body := `{"external_message_id":"<msg_1@crm>","event":"opened","occurred_at":"2025-04-02T08:30:00Z"}`

	rec := postEvent(h, "email", body, sign(body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, q.events, 1)
	ev := q.events[0]
	assert.Equal(t, "email", ev.Channel)
	assert.Equal(t, "<msg_1@crm>", ev.ExternalMessageID)
	assert.Equal(t, "opened", ev.Event)
	assert.Equal(t, time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC), ev.OccurredAt)
	assert.Equal(t, time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC), ev.ReceivedAt)
}

func TestWebhookRejects(t *testing.T) {
	good := `{"external_message_id":"m1","event":"replied"}`
	cases := []struct {
		name    string
		channel string
		body    string
		sig     string
		want    int
	}{
		{"missing signature", "linkedin", good, "", http.StatusUnauthorized},
		{"wrong signature", "linkedin", good, sign(good + " "), http.StatusUnauthorized},
		{"non-hex signature", "linkedin", good, "zz", http.StatusUnauthorized},
		{"unknown channel", "sms", good, sign(good), http.StatusNotFound},
		{"mixed is not a channel", "mixed", good, sign(good), http.StatusNotFound},
		{"bad json", "email", `{`, sign(`{`), http.StatusBadRequest},
		{"unknown event", "email", `{"external_message_id":"m1","event":"clicked"}`, sign(`{"external_message_id":"m1","event":"clicked"}`), http.StatusBadRequest},
		{"missing message id", "email", `{"event":"opened"}`, sign(`{"event":"opened"}`), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQueue{}
			rec := postEvent(newWebhook(q), tc.channel, tc.body, tc.sig)
			assert.Equal(t, tc.want, rec.Code)
			assert.Empty(t, q.events)
		})
	}
}

func TestWebhookEnqueueFailureIs503(t *testing.T) {
	body := `{"external_message_id":"m1","event":"delivered"}`
	rec := postEvent(newWebhook(&fakeQueue{err: errors.New("sqs down")}), "email", body, sign(body))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVerifySignatureNeedsSecret(t *testing.T) {
	body := []byte("{}")
	assert.False(t, VerifySignature("", body, hex.EncodeToString(Sign("", body))))
	assert.True(t, VerifySignature("k", body, hex.EncodeToString(Sign("k", body))))
}
