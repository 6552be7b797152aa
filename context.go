package unitrt

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/unitrt/bus"
	"github.com/GoCodeAlone/unitrt/config"
	"github.com/GoCodeAlone/unitrt/metrics"
	"github.com/GoCodeAlone/unitrt/registry"
)

// Context is the runtime context of one unit instance: the definitions
// scanned for the unit, the registry built from them, and the multicaster
// its listeners are subscribed through.
//
// A context goes through Prepare, Bind, Refresh and FinishRefresh exactly
// once, in that order. Events published before FinishRefresh are buffered
// and broadcast when it runs.
type Context struct {
	unit        *UnitDefinition
	instanceID  string
	displayName string
	startedAt   time.Time

	scanner   *Scanner
	model     *DefinitionModel
	reg       *registry.Registry
	bus       bus.Bus
	tree      *config.Tree
	appConfig *config.ApplicationConfig
	logger    Logger
	metrics   *metrics.Metrics
	contexts  *ContextRegistry
	factory   *ContextFactory

	initialized atomic.Bool
	bound       atomic.Bool
	refreshed   atomic.Bool
	closed      atomic.Bool

	mu          sync.Mutex
	early       []Event
	ready       bool
	multicaster *Multicaster

	stopMu       sync.Mutex
	stopHandlers map[int][]StopHandler
}

// Tag returns the tag of the context's unit.
func (c *Context) Tag() string { return c.unit.Tag }

// DisplayName identifies the context in logs.
func (c *Context) DisplayName() string { return c.displayName }

// InstanceID returns the ID of the unit instance the context belongs to.
func (c *Context) InstanceID() string { return c.instanceID }

// Unit returns the definition of the context's unit.
func (c *Context) Unit() *UnitDefinition { return c.unit }

// Model returns the scanned definitions. It is nil before Prepare.
func (c *Context) Model() *DefinitionModel { return c.model }

// EventSource returns the tag stamped on events published without one.
func (c *Context) EventSource() string { return c.unit.EventSource }

// StartedAt returns when the context was created.
func (c *Context) StartedAt() time.Time { return c.startedAt }

// Uptime returns the time elapsed since the context was created.
func (c *Context) Uptime() time.Duration { return time.Since(c.startedAt) }

// Logger returns the context's logger.
func (c *Context) Logger() Logger { return c.logger }

// Bus returns the message bus.
func (c *Context) Bus() bus.Bus { return c.bus }

// Config returns the configuration tree.
func (c *Context) Config() *config.Tree { return c.tree }

// Get resolves the instance bound to key.
func (c *Context) Get(key Key) (any, error) {
	if !c.bound.Load() {
		return nil, fmt.Errorf("%w: %s", ErrContextNotInitialized, c.displayName)
	}
	return c.reg.Get(key)
}

// GetAll resolves every instance bound in the multibinding of t.
func (c *Context) GetAll(t reflect.Type) ([]any, error) {
	if !c.bound.Load() {
		return nil, fmt.Errorf("%w: %s", ErrContextNotInitialized, c.displayName)
	}
	return c.reg.GetAll(t)
}

// Prepare scans the unit's definitions and marks the context initialized.
func (c *Context) Prepare() error {
	if c.initialized.Load() {
		return nil
	}
	model, err := c.scanner.Scan(c.unit)
	if err != nil {
		return err
	}
	c.model = model
	c.initialized.Store(true)
	return nil
}

// Bind emits the context's bindings into its registry. It fails when the
// context has not been prepared, or when it is already bound.
func (c *Context) Bind() error {
	if !c.initialized.Load() {
		return fmt.Errorf("%w: %s", ErrContextNotInitialized, c.displayName)
	}
	if c.bound.Swap(true) {
		return fmt.Errorf("%w: %s", ErrContextAlreadyBound, c.displayName)
	}
	return bindContext(c)
}

// Refresh builds the multicaster and subscribes the context's listeners.
// Publishing keeps buffering until FinishRefresh.
func (c *Context) Refresh(ctx context.Context) error {
	if !c.bound.Load() {
		return fmt.Errorf("%w: %s", ErrContextNotInitialized, c.displayName)
	}
	if c.refreshed.Swap(true) {
		return nil
	}
	m, err := ResolveNamed[*Multicaster](c, MulticasterBeanName)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", c.displayName, err)
	}
	if err := m.Subscribe(ctx, c.model.Listeners()); err != nil {
		return fmt.Errorf("refresh %s: %w", c.displayName, err)
	}
	c.mu.Lock()
	c.multicaster = m
	c.mu.Unlock()
	return nil
}

// FinishRefresh broadcasts the buffered events in publish order, stops
// buffering, and publishes a ContextRefreshedEvent.
func (c *Context) FinishRefresh(ctx context.Context) error {
	if !c.refreshed.Load() {
		return fmt.Errorf("%w: %s", ErrContextNotRefreshed, c.displayName)
	}
	for {
		c.mu.Lock()
		if c.ready {
			c.mu.Unlock()
			return nil
		}
		if len(c.early) == 0 {
			c.ready = true
			c.early = nil
			c.mu.Unlock()
			break
		}
		batch := c.early
		c.early = nil
		m := c.multicaster
		c.mu.Unlock()

		for _, ev := range batch {
			if err := m.Multicast(ctx, ev, false); err != nil {
				c.logger.Warn("Failed to publish early event", "context", c.displayName, "address", AddressOf(ev), "error", err)
			}
		}
	}
	return c.PublishEvent(ctx, &ContextRefreshedEvent{Tag: c.Tag(), DisplayName: c.displayName})
}

// Publish publishes event through the context's multicaster. An event without
// a source is stamped with the unit's event source.
func (c *Context) Publish(ctx context.Context, event Event, direct bool) error {
	if v := reflect.ValueOf(event); !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return fmt.Errorf("%w: nil event", ErrEventEncode)
	}
	if event.EventSource() == "" {
		event.SetEventSource(c.EventSource())
	}
	if ts, ok := event.(timeStamped); ok {
		ts.stampTime(time.Now())
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrContextClosed, c.displayName)
	}
	if !c.ready {
		c.early = append(c.early, event)
		c.mu.Unlock()
		c.metrics.EventBuffered()
		return nil
	}
	m := c.multicaster
	c.mu.Unlock()

	if m == nil {
		return fmt.Errorf("%w: %s", ErrMulticasterNotInitialized, c.displayName)
	}
	return m.Multicast(ctx, event, direct)
}

// PublishEvent broadcasts event.
func (c *Context) PublishEvent(ctx context.Context, event Event) error {
	return c.Publish(ctx, event, false)
}

// PublishPayload wraps payload in a PayloadEvent and publishes it.
func (c *Context) PublishPayload(ctx context.Context, payload any, direct bool) error {
	return c.Publish(ctx, NewPayloadEvent(payload), direct)
}

// EarlyEventCount returns the number of buffered events.
func (c *Context) EarlyEventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.early)
}

// RegisterStopHandler adds fn to the handlers run when the unit instance
// stops. Handlers run in ascending priority; handlers sharing a priority run
// concurrently.
func (c *Context) RegisterStopHandler(priority int, fn StopHandler) {
	if fn == nil {
		return
	}
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.stopHandlers == nil {
		c.stopHandlers = make(map[int][]StopHandler)
	}
	c.stopHandlers[priority] = append(c.stopHandlers[priority], fn)
}

func (c *Context) stopHandlerGroups() [][]StopHandler {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	priorities := make([]int, 0, len(c.stopHandlers))
	for p := range c.stopHandlers {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)
	groups := make([][]StopHandler, 0, len(priorities))
	for _, p := range priorities {
		groups = append(groups, append([]StopHandler(nil), c.stopHandlers[p]...))
	}
	return groups
}

// StopSelf asks the context's own unit instance to stop. The orchestrator
// is not involved; it learns about the stop from the UnitStoppedEvent.
func (c *Context) StopSelf(ctx context.Context) error {
	msg, err := bus.NewMessage(stopMessageType, c.EventSource(), nil)
	if err != nil {
		return err
	}
	return c.bus.Send(ctx, StopAddress(c.instanceID), msg)
}

// RequestShutdown asks the orchestrator to stop the whole process.
func (c *Context) RequestShutdown(ctx context.Context, reason string) error {
	return c.PublishEvent(ctx, &ShutdownRequestedEvent{Reason: reason})
}

// Close unsubscribes the context's listeners and drops buffered events.
// Publishing on a closed context fails with ErrContextClosed.
func (c *Context) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	m := c.multicaster
	dropped := len(c.early)
	c.early = nil
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("Dropping buffered events of closed context", "context", c.displayName, "count", dropped)
	}
	if m == nil {
		return nil
	}
	return m.Close()
}

// Resolve returns the unqualified instance of T.
func Resolve[T any](r Resolver) (T, error) {
	return ResolveNamed[T](r, "")
}

// ResolveNamed returns the instance of T bound under name.
func ResolveNamed[T any](r Resolver, name string) (T, error) {
	var zero T
	key := registry.KeyFor[T](name)
	v, err := r.Get(key)
	if err != nil {
		if errors.Is(err, registry.ErrBindingNotFound) {
			return zero, fmt.Errorf("%w: %w", ErrBeanNotFound, err)
		}
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s resolved to %T", ErrBeanWrongType, key, v)
	}
	return typed, nil
}

// ResolveAll returns every instance in the multibinding of T.
func ResolveAll[T any](r Resolver) ([]T, error) {
	t := reflect.TypeFor[T]()
	values, err := r.GetAll(t)
	if err != nil {
		if errors.Is(err, registry.ErrBindingNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrBeanNotFound, err)
		}
		return nil, err
	}
	out := make([]T, 0, len(values))
	for _, v := range values {
		typed, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("%w: element of %s resolved to %T", ErrBeanWrongType, t, v)
		}
		out = append(out, typed)
	}
	return out, nil
}
