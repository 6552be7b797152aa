// Package bus provides the address-routed message bus units communicate over.
//
// Messages are CloudEvents. An address can have any number of consumers:
// Publish delivers a message to every consumer of the address, Send delivers it
// to exactly one of them and Request does the same but waits for a reply.
// Local consumers only ever see messages published inside the same process;
// plain consumers also see messages from other processes when the bus is
// clustered.
package bus

import (
	"context"
	"errors"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Bus errors
var (
	ErrBusNotStarted       = errors.New("bus not started")
	ErrBusShutdownTimedOut = errors.New("bus shutdown timed out")
	ErrHandlerNil          = errors.New("bus handler cannot be nil")
	ErrNoHandlers          = errors.New("no handlers for address")
	ErrRequestTimeout      = errors.New("request timed out")
	ErrNoReplyExpected     = errors.New("message does not expect a reply")
	ErrAlreadyReplied      = errors.New("message already replied to")
	ErrInvalidMessage      = errors.New("invalid bus message")
)

// Message is the envelope carried on the bus.
type Message = cloudevents.Event

// Handler consumes deliveries for one address.
type Handler func(ctx context.Context, d *Delivery)

// Bus is the message bus contract.
type Bus interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Publish delivers msg to every consumer of address.
	Publish(ctx context.Context, address string, msg Message) error
	// Send delivers msg to one consumer of address.
	Send(ctx context.Context, address string, msg Message) error
	// Request delivers msg to one consumer of address and waits for its reply
	// until ctx is done.
	Request(ctx context.Context, address string, msg Message) (Message, error)

	// Consumer registers a handler that receives messages from the whole bus.
	Consumer(address string, h Handler) (Subscription, error)
	// LocalConsumer registers a handler that only receives messages sent from
	// this process.
	LocalConsumer(address string, h Handler) (Subscription, error)
}

// Subscription is a registered consumer.
type Subscription interface {
	ID() string
	Address() string
	Local() bool
	Unsubscribe() error
}

// Logger is the logging contract used by bus implementations.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Delivery is one message handed to a consumer.
type Delivery struct {
	Address string
	Message Message
	replyFn func(Message) error
}

// ExpectsReply reports whether the sender waits for a reply.
func (d *Delivery) ExpectsReply() bool { return d.replyFn != nil }

// Reply answers a request. Replying to a publish or send fails with
// ErrNoReplyExpected.
func (d *Delivery) Reply(msg Message) error {
	if d.replyFn == nil {
		return ErrNoReplyExpected
	}
	return d.replyFn(msg)
}

// NewMessage builds a message with a time-ordered ID and JSON data.
func NewMessage(eventType, source string, data any) (Message, error) {
	msg := cloudevents.NewEvent()
	msg.SetID(NewID())
	msg.SetSource(source)
	msg.SetType(eventType)
	msg.SetTime(time.Now())
	msg.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		if err := msg.SetData(cloudevents.ApplicationJSON, data); err != nil {
			return msg, errors.Join(ErrInvalidMessage, err)
		}
	}
	return msg, nil
}

// NewID returns a UUIDv7 string, falling back to v4.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
