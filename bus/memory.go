package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryConfig configures a MemoryBus.
type MemoryConfig struct {
	// BufferSize is the per-consumer queue length.
	BufferSize int `yaml:"bufferSize" toml:"bufferSize" default:"1024"`
	// PublishBlockTimeout bounds how long a publisher waits on a full
	// consumer queue. Zero waits until the publisher's context is done.
	PublishBlockTimeout time.Duration `yaml:"publishBlockTimeout" toml:"publishBlockTimeout"`
}

// MemoryBus is an in-process Bus. Every consumer owns a buffered queue and a
// goroutine, so a consumer sees its messages one at a time and in the order
// they were enqueued.
type MemoryBus struct {
	config MemoryConfig
	logger Logger

	mu        sync.RWMutex
	consumers map[string][]*memoryConsumer
	rr        map[string]*atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type memoryConsumer struct {
	id      string
	address string
	local   bool
	handler Handler
	queue   chan *Delivery
	done    chan struct{}
	once    sync.Once
	bus     *MemoryBus
}

func (c *memoryConsumer) ID() string      { return c.id }
func (c *memoryConsumer) Address() string { return c.address }
func (c *memoryConsumer) Local() bool     { return c.local }

// Unsubscribe removes the consumer. Messages still queued are discarded.
func (c *memoryConsumer) Unsubscribe() error {
	c.once.Do(func() {
		c.bus.remove(c)
		close(c.done)
	})
	return nil
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(config MemoryConfig, logger Logger) *MemoryBus {
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &MemoryBus{
		config:    config,
		logger:    logger,
		consumers: make(map[string][]*memoryConsumer),
		rr:        make(map[string]*atomic.Uint64),
	}
}

// Start makes the bus accept consumers and messages.
func (m *MemoryBus) Start(ctx context.Context) error {
	if m.started.Load() {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.started.Store(true)
	return nil
}

// Stop cancels every consumer and waits for in-flight handlers to return.
func (m *MemoryBus) Stop(ctx context.Context) error {
	if !m.started.Swap(false) {
		return nil
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ErrBusShutdownTimedOut
	}

	m.mu.Lock()
	m.consumers = make(map[string][]*memoryConsumer)
	m.mu.Unlock()
	return nil
}

// Consumer registers h for address.
func (m *MemoryBus) Consumer(address string, h Handler) (Subscription, error) {
	return m.subscribe(address, h, false)
}

// LocalConsumer registers h for address. On a memory bus every consumer is
// local; the flag is kept for introspection.
func (m *MemoryBus) LocalConsumer(address string, h Handler) (Subscription, error) {
	return m.subscribe(address, h, true)
}

func (m *MemoryBus) subscribe(address string, h Handler, local bool) (*memoryConsumer, error) {
	if !m.started.Load() {
		return nil, ErrBusNotStarted
	}
	if h == nil {
		return nil, ErrHandlerNil
	}

	c := &memoryConsumer{
		id:      NewID(),
		address: address,
		local:   local,
		handler: h,
		queue:   make(chan *Delivery, m.config.BufferSize),
		done:    make(chan struct{}),
		bus:     m,
	}

	m.mu.Lock()
	m.consumers[address] = append(m.consumers[address], c)
	if _, ok := m.rr[address]; !ok {
		m.rr[address] = &atomic.Uint64{}
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.consume(c)
	return c, nil
}

func (m *MemoryBus) remove(c *memoryConsumer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.consumers[c.address]
	for i, existing := range list {
		if existing == c {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.consumers, c.address)
		return
	}
	m.consumers[c.address] = list
}

func (m *MemoryBus) consume(c *memoryConsumer) {
	defer m.wg.Done()
	for {
		select {
		case d := <-c.queue:
			m.invoke(c, d)
		case <-c.done:
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *MemoryBus) invoke(c *memoryConsumer, d *Delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("Bus handler panicked", "address", c.address, "consumer", c.id, "panic", rec)
		}
	}()
	c.handler(m.ctx, d)
	m.delivered.Add(1)
}

// Publish enqueues msg for every consumer of address. An address without
// consumers is not an error.
func (m *MemoryBus) Publish(ctx context.Context, address string, msg Message) error {
	if !m.started.Load() {
		return ErrBusNotStarted
	}
	for _, c := range m.snapshot(address) {
		m.enqueue(ctx, c, &Delivery{Address: address, Message: msg.Clone()})
	}
	return nil
}

// Send enqueues msg for one consumer of address, rotating between consumers.
func (m *MemoryBus) Send(ctx context.Context, address string, msg Message) error {
	if !m.started.Load() {
		return ErrBusNotStarted
	}
	c := m.pick(address)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoHandlers, address)
	}
	if !m.enqueue(ctx, c, &Delivery{Address: address, Message: msg.Clone()}) {
		return fmt.Errorf("%w: send to %s dropped", ErrRequestTimeout, address)
	}
	return nil
}

// Request sends msg to one consumer of address and waits for the reply.
func (m *MemoryBus) Request(ctx context.Context, address string, msg Message) (Message, error) {
	if !m.started.Load() {
		return Message{}, ErrBusNotStarted
	}
	c := m.pick(address)
	if c == nil {
		return Message{}, fmt.Errorf("%w: %s", ErrNoHandlers, address)
	}

	replies := make(chan Message, 1)
	var replied atomic.Bool
	d := &Delivery{
		Address: address,
		Message: msg.Clone(),
		replyFn: func(resp Message) error {
			if !replied.CompareAndSwap(false, true) {
				return ErrAlreadyReplied
			}
			replies <- resp
			return nil
		},
	}
	if !m.enqueue(ctx, c, d) {
		return Message{}, fmt.Errorf("%w: %s", ErrRequestTimeout, address)
	}

	select {
	case resp := <-replies:
		return resp, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%w: %s: %w", ErrRequestTimeout, address, ctx.Err())
	}
}

// Stats returns the number of handled and dropped deliveries.
func (m *MemoryBus) Stats() (delivered, dropped uint64) {
	return m.delivered.Load(), m.dropped.Load()
}

func (m *MemoryBus) hasConsumers(address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consumers[address]) > 0
}

func (m *MemoryBus) snapshot(address string) []*memoryConsumer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*memoryConsumer(nil), m.consumers[address]...)
}

func (m *MemoryBus) pick(address string) *memoryConsumer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.consumers[address]
	if len(list) == 0 {
		return nil
	}
	n := m.rr[address].Add(1) - 1
	return list[n%uint64(len(list))]
}

func (m *MemoryBus) enqueue(ctx context.Context, c *memoryConsumer, d *Delivery) bool {
	var timeout <-chan time.Time
	if m.config.PublishBlockTimeout > 0 {
		timer := time.NewTimer(m.config.PublishBlockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case c.queue <- d:
		return true
	case <-c.done:
	case <-ctx.Done():
	case <-timeout:
	}
	m.dropped.Add(1)
	m.logger.Warn("Bus delivery dropped", "address", d.Address, "consumer", c.id)
	return false
}
