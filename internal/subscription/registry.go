package subscription

import (
	"context"
	"fmt"
)

// Registry owns the subscriptions of one watcher run.
type Registry struct {
	subs      []*Subscription
	byAddress map[string]*Subscription
}

// NewRegistry builds a registry; an address may be registered only once.
func NewRegistry(subs ...*Subscription) (*Registry, error) {
	r := &Registry{
		subs:      make([]*Subscription, 0, len(subs)),
		byAddress: make(map[string]*Subscription, len(subs)),
	}
	for _, sub := range subs {
		if _, dup := r.byAddress[sub.Address()]; dup {
			return nil, fmt.Errorf("address %s registered twice", sub.Address())
		}
		r.subs = append(r.subs, sub)
		r.byAddress[sub.Address()] = sub
	}
	return r, nil
}

// All returns subscriptions in registration order.
func (r *Registry) All() []*Subscription {
	out := make([]*Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

// Get looks up a subscription by address.
func (r *Registry) Get(address string) (*Subscription, bool) {
	sub, ok := r.byAddress[address]
	return sub, ok
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	return len(r.subs)
}

// InState returns the subscriptions currently in state st.
func (r *Registry) InState(st State) []*Subscription {
	var out []*Subscription
	for _, sub := range r.subs {
		if sub.State() == st {
			out = append(out, sub)
		}
	}
	return out
}

// StopAll terminates every subscription.
func (r *Registry) StopAll(ctx context.Context) {
	for _, sub := range r.subs {
		sub.Stop(ctx)
	}
}
