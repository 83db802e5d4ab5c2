package subscriber

import (
	"context"
	"errors"
	"sync"

	"station-svc/models"
)

var ErrRouterClosed = errors.New("subscriber: router closed")

// Router fans events read by one shared consumer out to every channel
// opened under the same name. Backends whose transport cannot open a
// consumer per subscription embed it.
type Router struct {
	// hookMu orders onFirst and onLast calls; it is always taken before mu.
	hookMu  sync.Mutex
	mu      sync.RWMutex
	routes  map[string]map[*routedChannel]struct{}
	closed  bool
	buffer  int
	onFirst func(name string) error
	onLast  func(name string)
}

type RouterOption func(*Router)

// WithHooks runs onFirst before the first channel of a name is returned
// and onLast after its last channel closes. Hooks for all names are
// serialized but never hold the lock Dispatch takes.
func WithHooks(onFirst func(name string) error, onLast func(name string)) RouterOption {
	return func(r *Router) {
		r.onFirst = onFirst
		r.onLast = onLast
	}
}

func WithBuffer(n int) RouterOption {
	return func(r *Router) { r.buffer = n }
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		routes: make(map[string]map[*routedChannel]struct{}),
		buffer: 16,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Open(ctx context.Context, name string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.hookMu.Lock()
	defer r.hookMu.Unlock()

	ch := &routedChannel{
		router: r,
		name:   name,
		events: make(chan models.TransactionEvent, r.buffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRouterClosed
	}
	set := r.routes[name]
	first := len(set) == 0
	if first {
		set = make(map[*routedChannel]struct{})
		r.routes[name] = set
	}
	set[ch] = struct{}{}
	r.mu.Unlock()

	// Hooks run without mu so a hook that waits on the consumer cannot
	// stall Dispatch.
	if first && r.onFirst != nil {
		if err := r.onFirst(name); err != nil {
			r.mu.Lock()
			if set, ok := r.routes[name]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(r.routes, name)
				}
			}
			r.mu.Unlock()
			return nil, err
		}
	}
	return ch, nil
}

// Dispatch hands ev to every open channel named name, in order, and
// returns how many received it. A full channel blocks dispatch until its
// reader catches up or closes it.
func (r *Router) Dispatch(name string, ev models.TransactionEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for ch := range r.routes[name] {
		select {
		case ch.events <- ev:
			delivered++
		case <-ch.done:
		}
	}
	return delivered
}

// Fail reports err on every open channel without blocking.
func (r *Router) Fail(err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.routes {
		for ch := range set {
			select {
			case ch.errs <- err:
			default:
			}
		}
	}
}

// Names lists the channel names with at least one open channel.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	return names
}

// Shutdown closes the event stream of every open channel so subscribers
// observe the loss of the backend.
func (r *Router) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for name, set := range r.routes {
		for ch := range set {
			close(ch.events)
		}
		delete(r.routes, name)
	}
}

func (r *Router) remove(ch *routedChannel) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()

	r.mu.Lock()
	set, ok := r.routes[ch.name]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := set[ch]; !ok {
		r.mu.Unlock()
		return
	}
	delete(set, ch)
	last := len(set) == 0
	if last {
		delete(r.routes, ch.name)
	}
	r.mu.Unlock()

	if last && r.onLast != nil {
		r.onLast(ch.name)
	}
}

type routedChannel struct {
	router *Router
	name   string
	events chan models.TransactionEvent
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func (c *routedChannel) Events() <-chan models.TransactionEvent { return c.events }
func (c *routedChannel) Errors() <-chan error                   { return c.errs }

func (c *routedChannel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.router.remove(c)
	})
	return nil
}
