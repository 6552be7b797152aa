package unitrt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/unitrt/bus"
	"github.com/GoCodeAlone/unitrt/metrics"
)

// Listener outcomes reported to metrics.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// Multicaster routes a context's events over the bus and dispatches
// deliveries to the context's listeners.
//
// Listeners of one address share a subscription per local/global mode and
// run one after the other, in registration order, for each delivery. Alone
// listeners get a subscription of their own.
type Multicaster struct {
	owner   *Context
	bus     bus.Bus
	logger  Logger
	metrics *metrics.Metrics
	pool    *workerPool

	mu     sync.Mutex
	params map[string]ListenerParam
	subs   []bus.Subscription
	closed bool
}

func newMulticaster(c *Context, cfg ExecutorConfig) *Multicaster {
	m := &Multicaster{
		owner:   c,
		bus:     c.bus,
		logger:  c.logger,
		metrics: c.metrics,
		params:  make(map[string]ListenerParam),
	}
	if cfg.Enable {
		m.pool = newWorkerPool(cfg, c.logger)
	}
	return m
}

type groupKey struct {
	address string
	local   bool
}

// Subscribe registers consumers for defs.
func (m *Multicaster) Subscribe(_ context.Context, defs []*EventListenerDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: %s", ErrContextClosed, m.owner.DisplayName())
	}

	shared := make(map[groupKey][]*EventListenerDefinition)
	var order []groupKey
	for _, def := range defs {
		for _, p := range def.Params {
			m.params[p.Address()] = p
		}
		for _, addr := range def.Addresses() {
			if def.Alone {
				if err := m.consume(addr, def.Local, []*EventListenerDefinition{def}); err != nil {
					return err
				}
				continue
			}
			key := groupKey{address: addr, local: def.Local}
			if _, ok := shared[key]; !ok {
				order = append(order, key)
			}
			shared[key] = append(shared[key], def)
		}
	}
	for _, key := range order {
		if err := m.consume(key.address, key.local, shared[key]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multicaster) consume(address string, local bool, listeners []*EventListenerDefinition) error {
	handler := func(ctx context.Context, d *bus.Delivery) {
		m.dispatch(ctx, d, listeners)
	}
	var (
		sub bus.Subscription
		err error
	)
	if local {
		sub, err = m.bus.LocalConsumer(address, handler)
	} else {
		sub, err = m.bus.Consumer(address, handler)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", address, err)
	}
	m.subs = append(m.subs, sub)
	m.logger.Debug("Subscribed listeners", "context", m.owner.DisplayName(), "address", address, "local", local, "listeners", len(listeners))
	return nil
}

// Multicast encodes event and hands it to the bus: to one consumer when
// direct is set, to all of them otherwise.
func (m *Multicaster) Multicast(ctx context.Context, event Event, direct bool) error {
	address, msg, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	if direct {
		err = m.bus.Send(ctx, address, msg)
	} else {
		err = m.bus.Publish(ctx, address, msg)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", address, err)
	}
	m.metrics.EventPublished(direct)
	return nil
}

// Close removes every subscription and drains the worker pool.
func (m *Multicaster) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Address(), err))
		}
	}
	if m.pool != nil {
		m.pool.Close()
	}
	return errors.Join(errs...)
}

func (m *Multicaster) dispatch(ctx context.Context, d *bus.Delivery, listeners []*EventListenerDefinition) {
	m.mu.Lock()
	param, ok := m.params[d.Address]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("No listener parameter for address", "context", m.owner.DisplayName(), "address", d.Address)
		return
	}
	event, err := decodeEvent(d.Message, param.Type, param.Payload)
	if err != nil {
		m.logger.Error("Failed to decode event", "context", m.owner.DisplayName(), "address", d.Address, "error", err)
		return
	}

	run := func(ctx context.Context) {
		for _, def := range listeners {
			m.invoke(ctx, def, d.Address, event)
		}
	}
	if m.pool == nil {
		run(ctx)
		return
	}
	if !m.pool.Submit(run) {
		m.logger.Warn("Dropped event for closed worker pool", "context", m.owner.DisplayName(), "address", d.Address)
	}
}

// invoke runs one listener. Failures are logged and never reach the bus.
func (m *Multicaster) invoke(ctx context.Context, def *EventListenerDefinition, address string, event Event) {
	if len(def.Sources) > 0 && !slices.Contains(def.Sources, event.EventSource()) {
		m.metrics.ListenerInvoked(outcomeSkipped, 0)
		return
	}
	args := listenerArgs(def, address, event)
	if !def.Guard.Empty() {
		pass, err := def.Guard.Eval(guardParams(def, args, event))
		if err != nil {
			m.logger.Error("Listener guard failed", "context", m.owner.DisplayName(), "owner", def.Owner, "guard", def.Guard, "error", err)
			m.metrics.ListenerInvoked(outcomeError, 0)
			return
		}
		if !pass {
			m.metrics.ListenerInvoked(outcomeSkipped, 0)
			return
		}
	}

	start := time.Now()
	err := m.call(ctx, def, args)
	elapsed := time.Since(start)
	if err != nil {
		m.logger.Error("Event listener failed", "context", m.owner.DisplayName(), "owner", def.Owner, "address", address, "error", err)
		m.metrics.ListenerInvoked(outcomeError, elapsed)
		return
	}
	m.metrics.ListenerInvoked(outcomeSuccess, elapsed)
}

func (m *Multicaster) call(ctx context.Context, def *EventListenerDefinition, args []any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("listener panicked: %v", rec)
		}
	}()
	owner, err := m.owner.Get(def.OwnerKey())
	if err != nil {
		return fmt.Errorf("resolve listener owner %s: %w", def.OwnerKey(), err)
	}
	return def.Invoke(ctx, owner, args)
}

// listenerArgs builds one argument per parameter; only parameters listening
// on address are set.
func listenerArgs(def *EventListenerDefinition, address string, event Event) []any {
	args := make([]any, len(def.Params))
	for i, p := range def.Params {
		if p.Address() != address {
			continue
		}
		if pe, ok := event.(*PayloadEvent); ok && p.Payload {
			args[i] = pe.Payload
			continue
		}
		args[i] = event
	}
	return args
}

func guardParams(def *EventListenerDefinition, args []any, event Event) map[string]any {
	params := make(map[string]any, len(def.Params)+1)
	for i, p := range def.Params {
		params[p.Name] = args[i]
	}
	if def.Style == ListenerEvent {
		params["event"] = event
	}
	return params
}
