package unitrt

import (
	"context"
	"fmt"
	"reflect"

	"github.com/GoCodeAlone/unitrt/expression"
)

// ListenerOption configures a listener registration.
type ListenerOption func(*EventListenerDefinition)

// Guard sets the listener's guard expression. The listener only runs when
// the expression evaluates to true. Variables are the listener's parameter
// names; event-style listeners can also use `event`.
func Guard(expr string) ListenerOption {
	return func(d *EventListenerDefinition) { d.guardSource = expr }
}

// Sources restricts the listener to events emitted by units with one of the
// given event source tags.
func Sources(tags ...string) ListenerOption {
	return func(d *EventListenerDefinition) { d.Sources = append(d.Sources, tags...) }
}

// Alone gives the listener its own bus subscription.
func Alone() ListenerOption {
	return func(d *EventListenerDefinition) { d.Alone = true }
}

// Local limits the listener to events published in this process.
func Local() ListenerOption {
	return func(d *EventListenerDefinition) { d.Local = true }
}

// ListenerOwner resolves the owner by bean name instead of by type alone.
func ListenerOwner(name string) ListenerOption {
	return func(d *EventListenerDefinition) { d.OwnerName = name }
}

// Param declares a listener parameter of type T. Event types are received
// from their typed address, any other type from its payload address. An
// empty name defaults to the type name with a lower-case first letter.
func Param[T any](name string) ListenerParam {
	t := reflect.TypeFor[T]()
	if name == "" {
		name = lowerCamel(t)
	}
	return ListenerParam{Name: name, Type: t, Payload: !t.Implements(eventType)}
}

type listenerRegistration struct {
	def *EventListenerDefinition
}

func newListener[O any](style ListenerStyle, params []ListenerParam, invoke func(ctx context.Context, owner O, args []any) error, opts []ListenerOption) Registration {
	ownerType := reflect.TypeFor[O]()
	def := &EventListenerDefinition{
		Owner:  ownerType,
		Style:  style,
		Params: params,
		Invoke: func(ctx context.Context, owner any, args []any) error {
			o, ok := owner.(O)
			if !ok {
				return fmt.Errorf("%w: listener owner %T, want %s", ErrBeanWrongType, owner, ownerType)
			}
			return invoke(ctx, o, args)
		},
	}
	for _, opt := range opts {
		opt(def)
	}
	return &listenerRegistration{def: def}
}

// OnEvent registers fn as a listener for events of type E owned by the O
// bean.
func OnEvent[O any, E Event](fn func(ctx context.Context, owner O, event E) error, opts ...ListenerOption) Registration {
	t := reflect.TypeFor[E]()
	params := []ListenerParam{{Name: lowerCamel(t), Type: t}}
	return newListener(ListenerEvent, params, func(ctx context.Context, owner O, args []any) error {
		event, _ := args[0].(E)
		return fn(ctx, owner, event)
	}, opts)
}

// OnPayload registers fn as a listener for payload events carrying a P.
func OnPayload[O, P any](fn func(ctx context.Context, owner O, payload P) error, opts ...ListenerOption) Registration {
	t := reflect.TypeFor[P]()
	params := []ListenerParam{{Name: lowerCamel(t), Type: t, Payload: true}}
	return newListener(ListenerEvent, params, func(ctx context.Context, owner O, args []any) error {
		payload, _ := args[0].(P)
		return fn(ctx, owner, payload)
	}, opts)
}

// OnParams registers fn as a listener for every declared parameter's
// address. For each delivery fn receives one argument per parameter, in
// declaration order; only the parameter matching the delivered event is set.
func OnParams[O any](fn func(ctx context.Context, owner O, args []any) error, params []ListenerParam, opts ...ListenerOption) Registration {
	return newListener(ListenerParams, append([]ListenerParam(nil), params...), fn, opts)
}

// OnSignal registers fn as a listener for the declared types that takes no
// argument. Guards see each type under its lower-camel name, bound to the
// delivered event or nil.
func OnSignal[O any](fn func(ctx context.Context, owner O) error, types []ListenerParam, opts ...ListenerOption) Registration {
	params := make([]ListenerParam, len(types))
	for i, p := range types {
		p.Name = lowerCamel(p.Type)
		params[i] = p
	}
	return newListener(ListenerSignal, params, func(ctx context.Context, owner O, _ []any) error {
		return fn(ctx, owner)
	}, opts)
}

func (r *listenerRegistration) Subject() reflect.Type { return r.def.Owner }

func (r *listenerRegistration) contribute(m *DefinitionModel) error {
	if len(r.def.Params) == 0 {
		return fmt.Errorf("%w: listener on %s declares no events", ErrInvalidRegistration, r.def.Owner)
	}
	for _, p := range r.def.Params {
		if p.Type == nil {
			return fmt.Errorf("%w: listener on %s has an untyped parameter", ErrInvalidRegistration, r.def.Owner)
		}
		if p.Type == payloadEventType {
			return fmt.Errorf("%w: listener on %s must name the payload type instead of PayloadEvent", ErrInvalidRegistration, r.def.Owner)
		}
		if p.Payload && p.Type.Implements(eventType) {
			return fmt.Errorf("%w: %s is an event type, not a payload", ErrInvalidRegistration, p.Type)
		}
	}
	guard, err := expression.CompileGuard(r.def.guardSource, r.def.guardVars()...)
	if err != nil {
		return fmt.Errorf("%w: listener on %s: %w", ErrGuardCompile, r.def.Owner, err)
	}
	def := *r.def
	def.Params = append([]ListenerParam(nil), r.def.Params...)
	def.Sources = append([]string(nil), r.def.Sources...)
	def.Guard = guard
	m.AddListener(&def)
	return nil
}

var payloadEventType = reflect.TypeFor[*PayloadEvent]()

// guardVars lists the variable names guardParams provides at dispatch.
func (d *EventListenerDefinition) guardVars() []string {
	vars := make([]string, 0, len(d.Params)+1)
	for _, p := range d.Params {
		vars = append(vars, p.Name)
	}
	if d.Style == ListenerEvent {
		vars = append(vars, "event")
	}
	return vars
}
