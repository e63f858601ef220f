package channel

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"confcrm/internal/observability"
)

// Guarded puts a rate limiter and a circuit breaker in front of an adapter.
type Guarded struct {
	Name    string
	Next    Adapter
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	// LimiterWait bounds how long a send queues for a token.
	LimiterWait time.Duration
}

// NewBreaker trips after consecutive transient failures only; a recipient
// the provider rejects says nothing about provider health.
func NewBreaker(name string, failures uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	})
}

func (g *Guarded) Send(ctx context.Context, m Message) (Receipt, error) {
	start := time.Now()
	if g.Limiter != nil {
		wait := g.LimiterWait
		if wait <= 0 {
			wait = 2 * time.Second
		}
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		err := g.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			// couldn't get a token in time; try again next pass
			observability.ChannelSend.WithLabelValues(g.Name, "rate_limited_local", "0").Inc()
			return Receipt{}, Transient(err)
		}
	}

	call := func() (any, error) { return g.Next.Send(ctx, m) }
	var (
		res any
		err error
	)
	if g.Breaker != nil {
		res, err = g.Breaker.Execute(call)
	} else {
		res, err = call()
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ChannelSend.WithLabelValues(g.Name, "cb_open", "0").Inc()
		return Receipt{}, Transient(err)
	}
	observability.ChannelLatency.WithLabelValues(g.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		status := 0
		var ce *Error
		if errors.As(err, &ce) {
			status = ce.HTTPStatus
		}
		result := "transient"
		if IsPermanent(err) {
			result = "permanent"
		}
		observability.ChannelSend.WithLabelValues(g.Name, result, strconv.Itoa(status)).Inc()
		return Receipt{}, err
	}
	observability.ChannelSend.WithLabelValues(g.Name, "ok", "0").Inc()
	return res.(Receipt), nil
}
