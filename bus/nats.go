package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsConfig configures a NatsBus.
type NatsConfig struct {
	URL        string        `yaml:"natsUrl" toml:"natsUrl" default:"nats://127.0.0.1:4222"`
	ClientName string        `yaml:"clientName" toml:"clientName" default:"unitrt"`
	Queue      string        `yaml:"queue" toml:"queue" default:"unitrt"`
	Timeout    time.Duration `yaml:"connectTimeout" toml:"connectTimeout" default:"5s"`
	Local      MemoryConfig  `yaml:"local" toml:"local"`
}

// sendPrefix namespaces point-to-point subjects so that Send and Request never
// reach broadcast subscribers.
const sendPrefix = "_unitrt.send."

// NatsBus is a clustered Bus. Broadcast consumers subscribe to the address as
// a NATS subject, point-to-point consumers join a queue group on a parallel
// subject. Local consumers live on an embedded MemoryBus and never see
// traffic from other processes.
type NatsBus struct {
	config NatsConfig
	logger Logger
	local  *MemoryBus

	mu   sync.RWMutex
	conn *nats.Conn
	ctx  context.Context
	stop context.CancelFunc
}

// NewNatsBus creates a bus that connects to config.URL on Start.
func NewNatsBus(config NatsConfig, logger Logger) *NatsBus {
	if logger == nil {
		logger = nopLogger{}
	}
	if config.Queue == "" {
		config.Queue = "unitrt"
	}
	if config.ClientName == "" {
		config.ClientName = "unitrt"
	}
	return &NatsBus{
		config: config,
		logger: logger,
		local:  NewMemoryBus(config.Local, logger),
	}
}

// Start connects to NATS and starts the local bus.
func (b *NatsBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	if err := b.local.Start(ctx); err != nil {
		return err
	}

	opts := []nats.Option{
		nats.Name(b.config.ClientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}
	if b.config.Timeout > 0 {
		opts = append(opts, nats.Timeout(b.config.Timeout))
	}
	conn, err := nats.Connect(b.config.URL, opts...)
	if err != nil {
		_ = b.local.Stop(ctx)
		return fmt.Errorf("connect to nats %s: %w", b.config.URL, err)
	}
	b.conn = conn
	b.ctx, b.stop = context.WithCancel(context.WithoutCancel(ctx))
	b.logger.Info("NATS bus connected", "url", conn.ConnectedUrl())
	return nil
}

// Stop drains the NATS connection and stops the local bus.
func (b *NatsBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	if b.stop != nil {
		b.stop()
	}
	b.mu.Unlock()

	var errs []error
	if conn != nil {
		if err := conn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats connection: %w", err))
		}
	}
	if err := b.local.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Consumer subscribes h to broadcast and point-to-point traffic for address.
func (b *NatsBus) Consumer(address string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, ErrHandlerNil
	}
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	broadcast, err := conn.Subscribe(address, func(m *nats.Msg) { b.dispatch(address, m, h) })
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", address, err)
	}
	direct, err := conn.QueueSubscribe(sendPrefix+address, b.config.Queue, func(m *nats.Msg) { b.dispatch(address, m, h) })
	if err != nil {
		_ = broadcast.Unsubscribe()
		return nil, fmt.Errorf("queue subscribe %s: %w", address, err)
	}
	if err := conn.Flush(); err != nil {
		b.logger.Warn("NATS flush after subscribe failed", "address", address, "error", err)
	}
	return &natsSubscription{id: NewID(), address: address, subs: []*nats.Subscription{broadcast, direct}}, nil
}

// LocalConsumer subscribes h on the in-process bus only.
func (b *NatsBus) LocalConsumer(address string, h Handler) (Subscription, error) {
	return b.local.LocalConsumer(address, h)
}

// Publish reaches local consumers directly and every other consumer through
// NATS.
func (b *NatsBus) Publish(ctx context.Context, address string, msg Message) error {
	if err := b.local.Publish(ctx, address, msg); err != nil {
		return err
	}
	conn, err := b.connection()
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	if err := conn.Publish(address, data); err != nil {
		return fmt.Errorf("publish %s: %w", address, err)
	}
	return nil
}

// Send prefers a local consumer and otherwise hands msg to one member of the
// address's queue group.
func (b *NatsBus) Send(ctx context.Context, address string, msg Message) error {
	if b.local.hasConsumers(address) {
		return b.local.Send(ctx, address, msg)
	}
	conn, err := b.connection()
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	if err := conn.Publish(sendPrefix+address, data); err != nil {
		return fmt.Errorf("send %s: %w", address, err)
	}
	return nil
}

// Request prefers a local consumer and otherwise uses a NATS request.
func (b *NatsBus) Request(ctx context.Context, address string, msg Message) (Message, error) {
	if b.local.hasConsumers(address) {
		return b.local.Request(ctx, address, msg)
	}
	conn, err := b.connection()
	if err != nil {
		return Message{}, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, errors.Join(ErrInvalidMessage, err)
	}

	resp, err := conn.RequestWithContext(ctx, sendPrefix+address, data)
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return Message{}, fmt.Errorf("%w: %s", ErrNoHandlers, address)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, nats.ErrTimeout):
		return Message{}, fmt.Errorf("%w: %s: %w", ErrRequestTimeout, address, err)
	case err != nil:
		return Message{}, fmt.Errorf("request %s: %w", address, err)
	}

	var reply Message
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return Message{}, errors.Join(ErrInvalidMessage, err)
	}
	return reply, nil
}

func (b *NatsBus) connection() (*nats.Conn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil {
		return nil, ErrBusNotStarted
	}
	return b.conn, nil
}

func (b *NatsBus) dispatch(address string, m *nats.Msg, h Handler) {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		b.logger.Warn("Dropping undecodable bus message", "address", address, "error", err)
		return
	}

	d := &Delivery{Address: address, Message: msg}
	if m.Reply != "" {
		var once sync.Once
		d.replyFn = func(resp Message) error {
			err := ErrAlreadyReplied
			once.Do(func() {
				data, marshalErr := json.Marshal(resp)
				if marshalErr != nil {
					err = errors.Join(ErrInvalidMessage, marshalErr)
					return
				}
				err = m.Respond(data)
			})
			return err
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Bus handler panicked", "address", address, "panic", rec)
		}
	}()
	b.mu.RLock()
	ctx := b.ctx
	b.mu.RUnlock()
	h(ctx, d)
}

type natsSubscription struct {
	id      string
	address string
	subs    []*nats.Subscription
	once    sync.Once
}

func (s *natsSubscription) ID() string      { return s.id }
func (s *natsSubscription) Address() string { return s.address }
func (s *natsSubscription) Local() bool     { return false }

func (s *natsSubscription) Unsubscribe() error {
	var errs []error
	s.once.Do(func() {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
