package unitrt

import (
	"context"
	"reflect"
	"time"

	"github.com/GoCodeAlone/unitrt/expression"
	"github.com/GoCodeAlone/unitrt/registry"
)

// Container types shared with the registry package.
type (
	Scope    = registry.Scope
	Resolver = registry.Resolver
	Factory  = registry.Factory
	Provider = registry.Provider
	Key      = registry.Key
)

// Binding scopes.
const (
	ScopeSingleton = registry.ScopeSingleton
	ScopePrototype = registry.ScopePrototype
)

// BeanDefinition describes one managed instance: its concrete type, its bean
// name, its scope and how to build it. Definitions are immutable once
// discovery has produced them.
type BeanDefinition struct {
	Type    reflect.Type
	Name    string
	Scope   Scope
	Primary bool
	Factory Factory
}

// Key returns the registry key the definition's instance is built under.
func (d *BeanDefinition) Key() Key {
	return Key{Type: d.Type, Name: d.Name}
}

// ComponentDefinition is a bean built directly by its factory.
type ComponentDefinition struct {
	*BeanDefinition
}

// AbstractKind tells interface bindings and base-struct bindings apart.
type AbstractKind int

const (
	// InterfaceBinding maps an interface to its implementations.
	InterfaceBinding AbstractKind = iota
	// SuperclassBinding maps an embedded base struct to the types embedding
	// it. The bound value is a pointer to the embedded base.
	SuperclassBinding
)

func (k AbstractKind) String() string {
	if k == SuperclassBinding {
		return "superclass"
	}
	return "interface"
}

// Candidate is one concrete definition bound under an abstract type.
type Candidate struct {
	Bean *BeanDefinition
	// Project maps the concrete instance to the abstract value. Nil means the
	// instance itself is used.
	Project func(any) (any, error)
}

// AbstractBinding maps an abstract type to its candidates, keyed by bean
// name.
type AbstractBinding struct {
	Abstract   reflect.Type
	Kind       AbstractKind
	Candidates []*Candidate
}

// Primary returns the candidate marked primary, if any.
func (a *AbstractBinding) Primary() *Candidate {
	for _, c := range a.Candidates {
		if c.Bean.Primary {
			return c
		}
	}
	return nil
}

// ProviderDefinition maps a produced type to the provider type that builds
// it.
type ProviderDefinition struct {
	Bean         *BeanDefinition
	ProviderType reflect.Type
	New          func(r Resolver) (Provider, error)
}

// ConfigurationMethodDefinition is a bean produced by calling a method on a
// configuration owner.
type ConfigurationMethodDefinition struct {
	Bean      *BeanDefinition
	Owner     reflect.Type
	OwnerName string
	Method    func(owner any, r Resolver) (any, error)
}

// PropertyBoundDefinition is a bean whose value is decoded from the
// configuration section at Prefix.
type PropertyBoundDefinition struct {
	Bean   *BeanDefinition
	Prefix string
	New    func() any
	// UnitConfig is set when the type embeds UnitBaseConfig.
	UnitConfig func(v any) *UnitBaseConfig
}

// FieldValueBinding injects a configuration value into one primitive field
// of a managed type after construction.
type FieldValueBinding struct {
	Owner      reflect.Type
	Field      string
	Expression *expression.Value

	index     []int
	fieldType reflect.Type
}

// PostConstructHook runs on every instance of Owner after its fields are
// injected.
type PostConstructHook struct {
	Owner  reflect.Type
	Invoke func(instance any) error
}

// ListenerStyle selects how a listener receives events.
type ListenerStyle int

const (
	// ListenerEvent receives the event (or payload) as its only argument.
	ListenerEvent ListenerStyle = iota
	// ListenerParams receives one argument per declared parameter; only the
	// parameter matching the delivered address is non-nil.
	ListenerParams
	// ListenerSignal receives no argument.
	ListenerSignal
)

// ListenerParam is one declared listener parameter.
type ListenerParam struct {
	Name    string
	Type    reflect.Type
	Payload bool
}

// Address returns the address the parameter listens on.
func (p ListenerParam) Address() string {
	if p.Payload {
		return PayloadAddress(p.Type)
	}
	return EventAddress(p.Type)
}

// EventListenerDefinition describes one listener: the events it receives, the
// bean that owns it and how it is dispatched.
type EventListenerDefinition struct {
	Owner     reflect.Type
	OwnerName string
	Style     ListenerStyle
	Params    []ListenerParam
	// Alone gives the listener its own subscription instead of sharing one
	// with the other listeners of the address.
	Alone bool
	// Local restricts delivery to events published in this process.
	Local   bool
	Guard   *expression.Guard
	Sources []string
	Invoke  func(ctx context.Context, owner any, args []any) error

	guardSource string
}

// Addresses returns the distinct addresses the listener subscribes to.
func (d *EventListenerDefinition) Addresses() []string {
	seen := make(map[string]bool, len(d.Params))
	out := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		addr := p.Address()
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

// OwnerKey returns the registry key of the listener's owner.
func (d *EventListenerDefinition) OwnerKey() Key {
	return Key{Type: d.Owner, Name: d.OwnerName}
}

// UnitDefinition describes a deployable unit.
type UnitDefinition struct {
	Tag  string
	Type reflect.Type
	// Priority orders deployment: lower priorities deploy first and stop
	// last.
	Priority  int
	Instances int
	// ConfigName names the property-bound UnitBaseConfig bean that can
	// disable the unit or override its instance count.
	ConfigName  string
	EventSource string

	IncludeTypes    []string
	IncludePackages []string
	ExcludeTypes    []string
	ExcludePackages []string

	New       Factory
	Bootstrap bool

	configNameSet bool
}

// BeanKey returns the key the unit instance is bound under in its context.
func (d *UnitDefinition) BeanKey() Key {
	return Key{Type: d.Type, Name: d.Tag}
}

// UnitRuntimeInfo records a deployed unit.
type UnitRuntimeInfo struct {
	Tag          string    `json:"tag"`
	Type         string    `json:"type"`
	DeploymentID string    `json:"deploymentId"`
	Instances    []string  `json:"instances"`
	Priority     int       `json:"priority"`
	DeployedAt   time.Time `json:"deployedAt"`
}
