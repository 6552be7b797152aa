package unitrt

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/GoCodeAlone/unitrt/bus"
)

// EncodeEvent converts event into the CloudEvent carried on the bus. The
// type attribute is the event's address, the source attribute its source tag
// and the data the JSON of the event (or of the payload for payload events).
func EncodeEvent(event Event) (string, bus.Message, error) {
	if v := reflect.ValueOf(event); !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return "", bus.Message{}, fmt.Errorf("%w: nil event", ErrEventEncode)
	}
	var data any = event
	if pe, ok := event.(*PayloadEvent); ok {
		if pe.Payload == nil {
			return "", bus.Message{}, fmt.Errorf("%w: payload event without payload", ErrEventEncode)
		}
		data = pe.Payload
	}
	address := AddressOf(event)
	msg, err := bus.NewMessage(address, event.EventSource(), data)
	if err != nil {
		return "", bus.Message{}, fmt.Errorf("%w: %s: %w", ErrEventEncode, address, err)
	}
	if t := event.EventTime(); !t.IsZero() {
		msg.SetTime(t)
	}
	if err := msg.Validate(); err != nil {
		return "", bus.Message{}, fmt.Errorf("%w: %s: %w", ErrEventEncode, address, err)
	}
	return address, msg, nil
}

// decodeEvent rebuilds an event of type t from msg. Payload decoding wraps the
// value in a PayloadEvent.
func decodeEvent(msg bus.Message, t reflect.Type, payload bool) (Event, error) {
	var ev Event
	if payload {
		base := indirect(t)
		v := reflect.New(base)
		if err := unmarshalData(msg, v.Interface()); err != nil {
			return nil, err
		}
		value := v.Interface()
		if t.Kind() != reflect.Pointer {
			value = v.Elem().Interface()
		}
		ev = &PayloadEvent{Payload: value}
	} else {
		if t.Kind() != reflect.Pointer {
			return nil, fmt.Errorf("%w: %s is not a pointer event type", ErrEventDecode, t)
		}
		v := reflect.New(t.Elem())
		if err := unmarshalData(msg, v.Interface()); err != nil {
			return nil, err
		}
		var ok bool
		if ev, ok = v.Interface().(Event); !ok {
			return nil, fmt.Errorf("%w: %s does not implement Event", ErrEventDecode, t)
		}
	}
	ev.SetEventSource(msg.Source())
	if ts, ok := ev.(timeStamped); ok {
		at := msg.Time()
		if at.IsZero() {
			at = time.Now()
		}
		ts.stampTime(at)
	}
	return ev, nil
}

func unmarshalData(msg bus.Message, target any) error {
	data := msg.Data()
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEventDecode, msg.Type(), err)
	}
	return nil
}
