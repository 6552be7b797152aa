package unitrt

import (
	"context"
	"reflect"
	"time"
)

// Address prefixes for the two event families.
const (
	EventAddressPrefix   = "applicationEventMulticaster.eventbus.event."
	PayloadAddressPrefix = EventAddressPrefix + "payload."
)

// Event is a message published through a context's multicaster.
//
// Event types are pointers to structs embedding BaseEvent:
//
//	type OrderPlaced struct {
//		unitrt.BaseEvent
//		OrderID string `json:"orderId"`
//	}
//
// Exported fields travel as JSON; the source tag and time travel in the
// envelope.
type Event interface {
	EventSource() string
	SetEventSource(source string)
	EventTime() time.Time
}

// BaseEvent carries the source tag and creation time of an event.
type BaseEvent struct {
	source string
	at     time.Time
}

// EventSource returns the classifier tag of the unit that emitted the event.
func (e *BaseEvent) EventSource() string { return e.source }

// SetEventSource sets the classifier tag.
func (e *BaseEvent) SetEventSource(source string) { e.source = source }

// EventTime returns when the event was published.
func (e *BaseEvent) EventTime() time.Time { return e.at }

func (e *BaseEvent) stampTime(t time.Time) {
	if e.at.IsZero() {
		e.at = t
	}
}

type timeStamped interface {
	stampTime(t time.Time)
}

// PayloadEvent wraps an arbitrary value so that it can be published as an
// event. It is addressed by the payload's type, not its own.
type PayloadEvent struct {
	BaseEvent
	Payload any
}

// NewPayloadEvent wraps payload.
func NewPayloadEvent(payload any) *PayloadEvent {
	return &PayloadEvent{Payload: payload}
}

// ContextRefreshedEvent is published by a context once its early events have
// been drained.
type ContextRefreshedEvent struct {
	BaseEvent
	Tag         string `json:"tag"`
	DisplayName string `json:"displayName"`
}

// ConfigUpdatedEvent is published from the bootstrap context when a
// configuration reload changed the tree.
type ConfigUpdatedEvent struct {
	BaseEvent
	Changed []string `json:"changed"`
}

// UnitStoppedEvent is published locally when a unit instance finished its
// stop sequence.
type UnitStoppedEvent struct {
	BaseEvent
	Tag        string `json:"tag"`
	InstanceID string `json:"instanceId"`
}

// ShutdownRequestedEvent asks the orchestrator to stop the process.
type ShutdownRequestedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// Publisher publishes events.
type Publisher interface {
	// Publish sends event to one listener when direct is set, otherwise to
	// every listener of its address.
	Publish(ctx context.Context, event Event, direct bool) error
	// PublishEvent broadcasts event.
	PublishEvent(ctx context.Context, event Event) error
}

var eventType = reflect.TypeFor[Event]()

// EventAddress returns the address events of type t are published on.
func EventAddress(t reflect.Type) string {
	return EventAddressPrefix + typeName(t)
}

// PayloadAddress returns the address payloads of type t are published on.
func PayloadAddress(t reflect.Type) string {
	return PayloadAddressPrefix + typeName(t)
}

// AddressOf returns the address event is published on.
func AddressOf(event Event) string {
	if pe, ok := event.(*PayloadEvent); ok {
		return PayloadAddress(reflect.TypeOf(pe.Payload))
	}
	return EventAddress(reflect.TypeOf(event))
}
