package channel

import (
	"context"
	"fmt"
	"sync"

	"confcrm/internal/domain"
)

// Registry routes each message to the adapter registered for its channel.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.ChannelType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[domain.ChannelType]Adapter{}}
}

func (r *Registry) Register(ch domain.ChannelType, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[ch] = a
}

func (r *Registry) Channels() []domain.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelType, 0, len(r.adapters))
	for ch := range r.adapters {
		out = append(out, ch)
	}
	return out
}

func (r *Registry) Send(ctx context.Context, m Message) (Receipt, error) {
	r.mu.RLock()
	a, ok := r.adapters[m.Channel]
	r.mu.RUnlock()
	if !ok {
		return Receipt{}, Permanent(fmt.Errorf("no adapter configured for channel %q", m.Channel))
	}
	return a.Send(ctx, m)
}
