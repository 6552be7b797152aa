// Package registry provides the binding storage used by unit contexts.
//
// A Registry maps keys (a type plus an optional name) to bindings. A binding
// produces instances from a fixed value, a factory function, a provider object
// or a link to another key. Multibindings aggregate several bindings under one
// element type so that collection-typed lookups see every implementation.
//
// Bindings are declared through a small fluent builder:
//
//	reg.Bind(reflect.TypeFor[Store]()).Named("primary").To(registry.KeyFor[*SQLStore]("")).In(registry.ScopeSingleton)
//	reg.Multibind(reflect.TypeFor[Store]()).AddBinding().To(registry.KeyFor[*MemStore](""))
//
// Declaration errors (duplicate keys, nil types) are collected and reported
// together by Err, so a binding pass can declare everything before failing.
package registry

import (
	"fmt"
	"reflect"
)

// Scope controls how many instances a binding produces.
type Scope int

const (
	// ScopePrototype creates a new instance on every resolution.
	ScopePrototype Scope = iota
	// ScopeSingleton creates one instance per binding and caches it.
	ScopeSingleton
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopeSingleton:
		return "singleton"
	case ScopePrototype:
		return "prototype"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Key identifies a binding by type and optional name.
type Key struct {
	Type reflect.Type
	Name string
}

// KeyFor returns the key for T with the given name.
func KeyFor[T any](name string) Key {
	return Key{Type: reflect.TypeFor[T](), Name: name}
}

// String renders the key as Type or Type(name).
func (k Key) String() string {
	typ := "<nil>"
	if k.Type != nil {
		typ = k.Type.String()
	}
	if k.Name == "" {
		return typ
	}
	return fmt.Sprintf("%s(%s)", typ, k.Name)
}

// Resolver resolves bound instances.
type Resolver interface {
	// Get returns the instance bound to key. It fails with ErrBindingNotFound
	// when nothing is bound to the key.
	Get(key Key) (any, error)

	// GetAll returns every instance of the multibinding for t, in declaration
	// order. It fails with ErrBindingNotFound when no multibinding exists.
	GetAll(t reflect.Type) ([]any, error)
}

// Factory builds an instance, resolving its dependencies through r.
type Factory func(r Resolver) (any, error)

// Provider produces instances of a single type.
type Provider interface {
	Get(r Resolver) (any, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(r Resolver) (any, error)

// Get calls f.
func (f ProviderFunc) Get(r Resolver) (any, error) { return f(r) }

// InstanceHook runs on every instance created by a factory or provider
// binding, after construction and before the instance is handed out.
type InstanceHook func(r Resolver, instance any) error
