package registry

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Static errors for registry package
var (
	ErrBindingNotFound     = errors.New("binding not found")
	ErrDuplicateBinding    = errors.New("duplicate binding")
	ErrInvalidBinding      = errors.New("invalid binding")
	ErrCircularDependency  = errors.New("circular dependency detected")
	ErrConstructionPanic   = errors.New("panic while constructing instance")
	ErrRegistryConfigError = errors.New("registry configuration error")
)

type bindingKind int

const (
	kindInstance bindingKind = iota
	kindLinked
	kindFactory
	kindProvider
)

// Binding is a single entry in the registry.
type Binding struct {
	key      Key
	kind     bindingKind
	instance any
	target   Key
	project  func(any) (any, error)
	factory  Factory
	provider Provider

	mu     sync.Mutex
	scope  Scope
	built  bool
	cached any
}

// Key returns the key the binding was declared under.
func (b *Binding) Key() Key { return b.key }

// Scope returns the binding scope.
func (b *Binding) Scope() Scope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scope
}

// Registry stores bindings and resolves instances from them.
type Registry struct {
	mu       sync.RWMutex
	bindings map[Key]*Binding
	order    []Key
	multi    map[reflect.Type][]*Binding
	hooks    []InstanceHook
	errs     []error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[Key]*Binding),
		multi:    make(map[reflect.Type][]*Binding),
	}
}

// Bind starts a binding declaration for t.
func (r *Registry) Bind(t reflect.Type) *Builder {
	return &Builder{reg: r, key: Key{Type: t}}
}

// Multibind declares a multibinding for t and returns its binder. Declaring
// the same multibinding twice returns a binder for the existing set.
func (r *Registry) Multibind(t reflect.Type) *Multibinder {
	r.mu.Lock()
	if _, ok := r.multi[t]; !ok {
		r.multi[t] = nil
	}
	r.mu.Unlock()
	return &Multibinder{reg: r, elem: Key{Type: t}}
}

// AddHook installs an instance hook.
func (r *Registry) AddHook(h InstanceHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Err reports every declaration error collected so far.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRegistryConfigError, errors.Join(r.errs...))
}

// Has reports whether key is bound.
func (r *Registry) Has(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[key]
	return ok
}

// Keys returns the bound keys in declaration order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Key(nil), r.order...)
}

// Get resolves the instance bound to key.
func (r *Registry) Get(key Key) (any, error) {
	return (&resolution{reg: r}).Get(key)
}

// GetAll resolves every instance of the multibinding for t.
func (r *Registry) GetAll(t reflect.Type) ([]any, error) {
	return (&resolution{reg: r}).GetAll(t)
}

func (r *Registry) add(b *Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.key.Type == nil {
		r.errs = append(r.errs, fmt.Errorf("%w: nil type", ErrInvalidBinding))
		return
	}
	if _, exists := r.bindings[b.key]; exists {
		r.errs = append(r.errs, fmt.Errorf("%w: %s", ErrDuplicateBinding, b.key))
		return
	}
	r.bindings[b.key] = b
	r.order = append(r.order, b.key)
}

func (r *Registry) addMulti(b *Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.key.Type == nil {
		r.errs = append(r.errs, fmt.Errorf("%w: nil multibinding type", ErrInvalidBinding))
		return
	}
	r.multi[b.key.Type] = append(r.multi[b.key.Type], b)
}

func (r *Registry) lookup(key Key) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[key]
	return b, ok
}

func (r *Registry) lookupSet(t reflect.Type) ([]*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.multi[t]
	return append([]*Binding(nil), set...), ok
}

func (r *Registry) hookSnapshot() []InstanceHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]InstanceHook(nil), r.hooks...)
}

// resolution tracks the bindings under construction for one top-level lookup
// so that dependency cycles are reported instead of recursing forever.
type resolution struct {
	reg   *Registry
	stack []*Binding
}

func (res *resolution) Get(key Key) (any, error) {
	b, ok := res.reg.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBindingNotFound, key)
	}
	return res.resolve(b)
}

func (res *resolution) GetAll(t reflect.Type) ([]any, error) {
	set, ok := res.reg.lookupSet(t)
	if !ok {
		return nil, fmt.Errorf("%w: multibinding %s", ErrBindingNotFound, t)
	}
	out := make([]any, 0, len(set))
	for _, b := range set {
		v, err := res.resolve(b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (res *resolution) resolve(b *Binding) (any, error) {
	for _, seen := range res.stack {
		if seen == b {
			return nil, fmt.Errorf("%w: %s", ErrCircularDependency, res.path(b))
		}
	}
	if b.kind == kindInstance {
		return b.instance, nil
	}

	res.stack = append(res.stack, b)
	defer func() { res.stack = res.stack[:len(res.stack)-1] }()

	b.mu.Lock()
	singleton := b.scope == ScopeSingleton
	if !singleton {
		b.mu.Unlock()
		return res.build(b)
	}
	defer b.mu.Unlock()
	if b.built {
		return b.cached, nil
	}
	v, err := res.build(b)
	if err != nil {
		return nil, err
	}
	b.cached, b.built = v, true
	return v, nil
}

func (res *resolution) build(b *Binding) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v, err = nil, fmt.Errorf("%w: %s: %v", ErrConstructionPanic, b.key, rec)
		}
	}()

	switch b.kind {
	case kindLinked:
		v, err = res.Get(b.target)
		if err != nil {
			return nil, err
		}
		if b.project != nil {
			return b.project(v)
		}
		return v, nil
	case kindFactory:
		v, err = b.factory(res)
	case kindProvider:
		v, err = b.provider.Get(res)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidBinding, b.key)
	}
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", b.key, err)
	}
	if v == nil {
		return nil, nil
	}
	for _, hook := range res.reg.hookSnapshot() {
		if err := hook(res, v); err != nil {
			return nil, fmt.Errorf("initialize %s: %w", b.key, err)
		}
	}
	return v, nil
}

func (res *resolution) path(b *Binding) string {
	parts := make([]string, 0, len(res.stack)+1)
	for _, s := range res.stack {
		parts = append(parts, s.key.String())
	}
	parts = append(parts, b.key.String())
	return strings.Join(parts, " -> ")
}
