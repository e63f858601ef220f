package logging

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// Capturer is satisfied by *sentry.Hub.
type Capturer interface {
	CaptureEvent(event *sentry.Event) *sentry.EventID
}

// SentryHandler forwards error-level records to Sentry and always passes the
// record on to the wrapped handler.
type SentryHandler struct {
	next   slog.Handler
	hub    Capturer
	attrs  []slog.Attr
	prefix string
}

func NewSentryHandler(next slog.Handler, hub Capturer) *SentryHandler {
	return &SentryHandler{next: next, hub: hub}
}

func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError && h.hub != nil {
		h.hub.CaptureEvent(h.event(r))
	}
	return h.next.Handle(ctx, r)
}

func (h *SentryHandler) event(r slog.Record) *sentry.Event {
	ev := sentry.NewEvent()
	ev.Level = sentry.LevelError
	ev.Message = r.Message
	ev.Timestamp = r.Time
	ev.Extra = make(map[string]interface{}, len(h.attrs)+r.NumAttrs())

	for _, a := range h.attrs {
		addExtra(ev, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addExtra(ev, h.prefix, a)
		return true
	})
	return ev
}

func addExtra(ev *sentry.Event, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	key := prefix + a.Key
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addExtra(ev, key+".", ga)
		}
		return
	}
	if err, ok := v.Any().(error); ok {
		ev.Extra[key] = err.Error()
		return
	}
	if key == "service" {
		if ev.Tags == nil {
			ev.Tags = map[string]string{}
		}
		ev.Tags["service"] = v.String()
	}
	ev.Extra[key] = v.Any()
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.next = h.next.WithAttrs(attrs)
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.next = h.next.WithGroup(name)
	next.prefix = h.prefix + name + "."
	return &next
}
