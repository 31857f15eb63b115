// Package flight coordinates concurrent requests for the same key so that one
// execution serves every caller, and fans progress out to registered observers.
package flight

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// ProgressFunc receives progress updates for an in-flight call.
type ProgressFunc func(percent float64)

// Func performs the work of one call. report forwards progress to the current
// subscribers of the call.
type Func[V any] func(ctx context.Context, report ProgressFunc) (V, error)

// Call is the shared future of one keyed execution.
type Call[V any] struct {
	done  chan struct{}
	value V
	err   error

	mu          sync.Mutex
	subscribers map[string]ProgressFunc
	logger      *slog.Logger
	key         string
	clone       func(V) V
}

func newCall[V any](key string, logger *slog.Logger, clone func(V) V) *Call[V] {
	return &Call[V]{
		done:        make(chan struct{}),
		subscribers: make(map[string]ProgressFunc),
		logger:      logger,
		key:         key,
		clone:       clone,
	}
}

// Settled returns a call that has already completed with value and err.
func Settled[V any](value V, err error) *Call[V] {
	call := newCall[V]("", slog.Default(), nil)
	call.value = value
	call.err = err
	call.subscribers = nil
	close(call.done)

	return call
}

// Done is closed once the call has settled.
func (c *Call[V]) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx ends. Ending ctx only stops this
// caller from waiting; the call itself keeps running for other waiters. With a
// clone function configured, every waiter receives its own copy of the value.
func (c *Call[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		if c.clone != nil && c.err == nil {
			return c.clone(c.value), nil
		}
		return c.value, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Ready reports whether the call has settled. A ready call's Wait returns immediately.
func (c *Call[V]) Ready() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Subscribers returns the registered subscriber ids in sorted order.
func (c *Call[V]) Subscribers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func (c *Call[V]) subscribe(id string, fn ProgressFunc) {
	if id == "" || fn == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribers == nil {
		return
	}
	c.subscribers[id] = fn
}

func (c *Call[V]) unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, id)
}

// report delivers percent to a snapshot of the subscribers so callbacks may
// unsubscribe themselves without deadlocking.
func (c *Call[V]) report(percent float64) {
	c.mu.Lock()
	snapshot := make([]ProgressFunc, 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		snapshot = append(snapshot, fn)
	}
	c.mu.Unlock()

	for _, fn := range snapshot {
		_, err := runSafely("progress subscriber", func() (struct{}, error) {
			fn(percent)
			return struct{}{}, nil
		})
		if err != nil {
			c.logger.Warn("flight progress subscriber failed", "key", c.key, "error", err)
		}
	}
}

func (c *Call[V]) dropSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = nil
}

// Group deduplicates calls by key. The zero value is not usable; use NewGroup.
type Group[V any] struct {
	mu     sync.Mutex
	calls  map[string]*Call[V]
	logger *slog.Logger
	clone  func(V) V
}

// Option configures a Group.
type Option func(*config)

type config struct {
	logger *slog.Logger
	clone  any
}

// WithLogger configures the logger used for recovered subscriber panics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClone makes every Wait return clone(value) so waiters cannot alter the
// shared result. It only applies to a Group of the same value type.
func WithClone[V any](clone func(V) V) Option {
	return func(cfg *config) {
		if clone != nil {
			cfg.clone = clone
		}
	}
}

// NewGroup creates an empty group.
func NewGroup[V any](options ...Option) *Group[V] {
	cfg := config{logger: slog.Default()}
	for _, option := range options {
		option(&cfg)
	}

	clone, _ := cfg.clone.(func(V) V)

	return &Group[V]{
		calls:  make(map[string]*Call[V]),
		logger: cfg.logger,
		clone:  clone,
	}
}

// Join returns the in-flight call for key, starting fn in a detached goroutine
// when none exists. The lookup and insert happen under one lock, so at most one
// call per key runs at a time. When subscriberID and progress are both set, the
// subscriber is registered before Join returns. started reports whether this
// invocation created the call.
//
// fn runs with a context that keeps ctx values but ignores its cancellation.
// Once fn returns, the call leaves the group before its waiters are released.
func (g *Group[V]) Join(
	ctx context.Context,
	key string,
	fn Func[V],
	subscriberID string,
	progress ProgressFunc,
) (call *Call[V], started bool) {
	g.mu.Lock()
	if existing, ok := g.calls[key]; ok {
		existing.subscribe(subscriberID, progress)
		g.mu.Unlock()
		return existing, false
	}

	call = newCall[V](key, g.logger, g.clone)
	call.subscribe(subscriberID, progress)
	g.calls[key] = call
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), key, call, fn)

	return call, true
}

func (g *Group[V]) run(ctx context.Context, key string, call *Call[V], fn Func[V]) {
	value, err := runSafely("flight "+key, func() (V, error) {
		return fn(ctx, call.report)
	})

	g.mu.Lock()
	if g.calls[key] == call {
		delete(g.calls, key)
	}
	g.mu.Unlock()

	call.dropSubscribers()
	call.value = value
	call.err = err
	close(call.done)
}

// Unsubscribe removes one progress subscriber from the in-flight call for key.
// Unknown keys and unknown subscribers are ignored.
func (g *Group[V]) Unsubscribe(key string, subscriberID string) {
	g.mu.Lock()
	call, ok := g.calls[key]
	g.mu.Unlock()
	if !ok {
		return
	}

	call.unsubscribe(subscriberID)
}

// InFlight reports whether a call for key is currently running.
func (g *Group[V]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.calls[key]
	return ok
}

// Len returns the number of running calls.
func (g *Group[V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.calls)
}
