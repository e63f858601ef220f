package channel

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"confcrm/internal/domain"
)

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(nil, http.StatusTooManyRequests))
	assert.True(t, Retryable(nil, http.StatusRequestTimeout))
	assert.True(t, Retryable(nil, http.StatusBadGateway))
	assert.False(t, Retryable(nil, http.StatusBadRequest))
	assert.False(t, Retryable(errors.New("x"), http.StatusForbidden))
	assert.True(t, Retryable(context.DeadlineExceeded, 0))
	assert.True(t, Retryable(errors.New("connection reset"), 0))
	assert.False(t, Retryable(Permanent(errors.New("bad address")), 0))
}

func TestFromHTTP(t *testing.T) {
	assert.True(t, IsPermanent(FromHTTP(422, nil)))
	assert.False(t, IsPermanent(FromHTTP(503, nil)))
	assert.Contains(t, FromHTTP(503, errors.New("down")).Error(), "http 503")
}

func TestRegistryUnknownChannelIsPermanent(t *testing.T) {
	r := NewRegistry()
	_, err := r.Send(context.Background(), Message{Channel: domain.ChannelEmail})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	r.Register(domain.ChannelEmail, AdapterFunc(func(context.Context, Message) (Receipt, error) {
		return Receipt{ExternalMessageID: "m1"}, nil
	}))
	rc, err := r.Send(context.Background(), Message{Channel: domain.ChannelEmail})
	require.NoError(t, err)
	assert.Equal(t, "m1", rc.ExternalMessageID)
}

func TestGuardedBreakerIgnoresPermanentFailures(t *testing.T) {
	calls := 0
	g := &Guarded{
		Name: "test",
		Next: AdapterFunc(func(context.Context, Message) (Receipt, error) {
			calls++
			return Receipt{}, Permanent(errors.New("rejected"))
		}),
		Breaker: NewBreaker("test", 2, time.Minute),
	}
	for i := 0; i < 5; i++ {
		_, err := g.Send(context.Background(), Message{})
		assert.True(t, IsPermanent(err))
	}
	assert.Equal(t, 5, calls)
	assert.Equal(t, gobreaker.StateClosed, g.Breaker.State())
}

func TestGuardedBreakerOpensOnTransientFailures(t *testing.T) {
	calls := 0
	g := &Guarded{
		Name: "test",
		Next: AdapterFunc(func(context.Context, Message) (Receipt, error) {
			calls++
			return Receipt{}, Transient(errors.New("503"))
		}),
		Breaker: NewBreaker("test", 2, time.Minute),
	}
	for i := 0; i < 4; i++ {
		_, err := g.Send(context.Background(), Message{})
		require.Error(t, err)
		assert.False(t, IsPermanent(err))
	}
	assert.Equal(t, 2, calls, "open breaker short-circuits")
}

func TestGuardedLimiterTimeoutIsTransient(t *testing.T) {
	g := &Guarded{
		Name:        "test",
		Next:        AdapterFunc(func(context.Context, Message) (Receipt, error) { return Receipt{}, nil }),
		Limiter:     rate.NewLimiter(rate.Every(time.Hour), 1),
		LimiterWait: 10 * time.Millisecond,
	}
	_, err := g.Send(context.Background(), Message{})
	require.NoError(t, err)
	_, err = g.Send(context.Background(), Message{})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
