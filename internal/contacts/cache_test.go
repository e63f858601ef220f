package contacts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/domain"
)

// fakeRedis implements the handful of commands Cached uses.
type fakeRedis struct {
	redis.Cmdable
	data map[string][]byte
	down bool
	sets int
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	if f.down {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	v, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(string(v))
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key)
	if f.down {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	f.sets++
	f.data[key] = value.([]byte)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "del")
	for _, k := range keys {
		delete(f.data, k)
	}
	return cmd
}

type countingSource struct {
	calls int
	c     map[string]domain.Contact
}

func (s *countingSource) GetContact(_ context.Context, id string) (domain.Contact, error) {
	s.calls++
	c, ok := s.c[id]
	if !ok {
		return domain.Contact{}, domain.NotFound("contact", id)
	}
	return c, nil
}

func TestCachedReadsThrough(t *testing.T) {
	src := &countingSource{c: map[string]domain.Contact{"a": {ID: "a", Email: "a@example.com"}}}
	rdb := &fakeRedis{data: map[string][]byte{}}
	c := NewCached(src, rdb, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.GetContact(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", got.Email)
	}
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, rdb.sets)

	require.NoError(t, c.Invalidate(ctx, "a"))
	_, err := c.GetContact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCachedDoesNotCacheMisses(t *testing.T) {
	src := &countingSource{c: map[string]domain.Contact{}}
	rdb := &fakeRedis{data: map[string][]byte{}}
	c := NewCached(src, rdb, time.Minute)

	_, err := c.GetContact(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, rdb.sets)
}

func TestCachedSurvivesRedisOutage(t *testing.T) {
	src := &countingSource{c: map[string]domain.Contact{"a": {ID: "a"}}}
	c := NewCached(src, &fakeRedis{data: map[string][]byte{}, down: true}, time.Minute)
	got, err := c.GetContact(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}
