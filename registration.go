package unitrt

import (
	"fmt"
	"reflect"
	"time"

	"github.com/GoCodeAlone/unitrt/expression"
)

// Registration is one entry of the static registration table. Its subject
// type decides which unit scans see it; contributing adds its definitions to
// a model.
type Registration interface {
	Subject() reflect.Type
	contribute(m *DefinitionModel) error
}

// ComponentOption configures a bean registration.
type ComponentOption func(*componentOptions)

type componentOptions struct {
	name      string
	primary   bool
	scope     Scope
	owner     string
	abstracts []abstractOption
}

type abstractOption struct {
	target reflect.Type
	kind   AbstractKind
}

// Named sets the bean name. The default is the type name with a lower-case
// first letter.
func Named(name string) ComponentOption {
	return func(o *componentOptions) { o.name = name }
}

// Primary marks the bean as the default candidate of its abstract types.
func Primary() ComponentOption {
	return func(o *componentOptions) { o.primary = true }
}

// Prototype builds a new instance on every lookup.
func Prototype() ComponentOption {
	return func(o *componentOptions) { o.scope = ScopePrototype }
}

// As also binds the bean under interface I.
func As[I any]() ComponentOption {
	return func(o *componentOptions) {
		o.abstracts = append(o.abstracts, abstractOption{target: reflect.TypeFor[I](), kind: InterfaceBinding})
	}
}

// Extends also binds the bean under its embedded base struct B. Lookups of *B
// return a pointer to the embedded value.
func Extends[B any]() ComponentOption {
	return func(o *componentOptions) {
		o.abstracts = append(o.abstracts, abstractOption{target: reflect.TypeFor[B](), kind: SuperclassBinding})
	}
}

// OwnedBy names the configuration owner of a Bean registration.
func OwnedBy(name string) ComponentOption {
	return func(o *componentOptions) { o.owner = name }
}

func newComponentOptions(opts []ComponentOption) componentOptions {
	o := componentOptions{scope: ScopeSingleton}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o componentOptions) bean(t reflect.Type, factory Factory) *BeanDefinition {
	name := o.name
	if name == "" {
		name = lowerCamel(t)
	}
	return &BeanDefinition{Type: t, Name: name, Scope: o.scope, Primary: o.primary, Factory: factory}
}

func (o componentOptions) addAbstracts(m *DefinitionModel, def *BeanDefinition) error {
	for _, a := range o.abstracts {
		key, candidate, err := a.candidate(def)
		if err != nil {
			return err
		}
		if err := m.AddAbstract(key, a.kind, candidate); err != nil {
			return err
		}
	}
	return nil
}

func (a abstractOption) candidate(def *BeanDefinition) (reflect.Type, *Candidate, error) {
	switch a.kind {
	case SuperclassBinding:
		if a.target.Kind() != reflect.Struct {
			return nil, nil, fmt.Errorf("%w: base %s is not a struct", ErrInvalidRegistration, a.target)
		}
		if def.Type.Kind() != reflect.Pointer || def.Type.Elem().Kind() != reflect.Struct {
			return nil, nil, fmt.Errorf("%w: %s must be a struct pointer to extend %s", ErrNotAssignable, def.Type, a.target)
		}
		path, ok := embeddedPath(def.Type.Elem(), a.target)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s does not embed %s", ErrNotAssignable, def.Type, a.target)
		}
		project := func(v any) (any, error) {
			rv := reflect.ValueOf(v)
			if rv.Kind() != reflect.Pointer || rv.IsNil() {
				return nil, fmt.Errorf("%w: %T", ErrBeanWrongType, v)
			}
			return rv.Elem().FieldByIndex(path).Addr().Interface(), nil
		}
		return reflect.PointerTo(a.target), &Candidate{Bean: def, Project: project}, nil
	default:
		if a.target.Kind() != reflect.Interface {
			return nil, nil, fmt.Errorf("%w: %s is not an interface", ErrInvalidRegistration, a.target)
		}
		if !def.Type.Implements(a.target) {
			return nil, nil, fmt.Errorf("%w: %s does not implement %s", ErrNotAssignable, def.Type, a.target)
		}
		return a.target, &Candidate{Bean: def}, nil
	}
}

// embeddedPath finds base among the exported, non-pointer embedded fields of
// t, searching depth first.
func embeddedPath(t, base reflect.Type) ([]int, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous || !f.IsExported() || f.Type.Kind() != reflect.Struct {
			continue
		}
		if f.Type == base {
			return []int{i}, true
		}
		if sub, ok := embeddedPath(f.Type, base); ok {
			return append([]int{i}, sub...), true
		}
	}
	return nil, false
}

func adaptFactory[T any](f func(r Resolver) (T, error)) Factory {
	if f == nil {
		return nil
	}
	return func(r Resolver) (any, error) { return f(r) }
}

type componentRegistration struct {
	typ     reflect.Type
	factory Factory
	opts    componentOptions
}

// Component registers T as a bean built by factory. A nil factory allocates T
// and fills its `inject` tagged fields.
func Component[T any](factory func(r Resolver) (T, error), opts ...ComponentOption) Registration {
	return &componentRegistration{
		typ:     reflect.TypeFor[T](),
		factory: adaptFactory(factory),
		opts:    newComponentOptions(opts),
	}
}

// Implements registers T and binds it under interface I.
func Implements[I, T any](factory func(r Resolver) (T, error), opts ...ComponentOption) Registration {
	return Component(factory, append(opts, As[I]())...)
}

// Configuration registers a configuration owner. Its Bean registrations are
// built by calling methods on the owner instance.
func Configuration[O any](factory func(r Resolver) (O, error), opts ...ComponentOption) Registration {
	return Component(factory, opts...)
}

func (r *componentRegistration) Subject() reflect.Type { return r.typ }

func (r *componentRegistration) contribute(m *DefinitionModel) error {
	factory := r.factory
	if factory == nil {
		var err error
		if factory, err = injectingFactory(r.typ); err != nil {
			return err
		}
	}
	def := r.opts.bean(r.typ, factory)
	if err := m.AddComponent(&ComponentDefinition{BeanDefinition: def}); err != nil {
		return err
	}
	return r.opts.addAbstracts(m, def)
}

type providerRegistration struct {
	produced     reflect.Type
	providerType reflect.Type
	newProvider  func(r Resolver) (Provider, error)
	opts         componentOptions
}

// ProvidedBy registers T as produced by a provider of type P. The provider is
// created once per context.
func ProvidedBy[T any, P Provider](newProvider func(r Resolver) (P, error), opts ...ComponentOption) Registration {
	reg := &providerRegistration{
		produced:     reflect.TypeFor[T](),
		providerType: reflect.TypeFor[P](),
		opts:         newComponentOptions(opts),
	}
	if newProvider != nil {
		reg.newProvider = func(r Resolver) (Provider, error) { return newProvider(r) }
	}
	return reg
}

func (r *providerRegistration) Subject() reflect.Type { return r.providerType }

func (r *providerRegistration) contribute(m *DefinitionModel) error {
	newProvider := r.newProvider
	if newProvider == nil {
		factory, err := injectingFactory(r.providerType)
		if err != nil {
			return err
		}
		newProvider = func(res Resolver) (Provider, error) {
			v, err := factory(res)
			if err != nil {
				return nil, err
			}
			p, ok := v.(Provider)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not a Provider", ErrBeanWrongType, v)
			}
			return p, nil
		}
	}
	def := r.opts.bean(r.produced, nil)
	if err := m.AddProvider(&ProviderDefinition{Bean: def, ProviderType: r.providerType, New: newProvider}); err != nil {
		return err
	}
	return r.opts.addAbstracts(m, def)
}

type methodRegistration struct {
	owner  reflect.Type
	typ    reflect.Type
	method func(owner any, r Resolver) (any, error)
	opts   componentOptions
}

// Bean registers T as produced by method on the configuration owner O.
func Bean[O, T any](method func(owner O, r Resolver) (T, error), opts ...ComponentOption) Registration {
	ownerType := reflect.TypeFor[O]()
	return &methodRegistration{
		owner: ownerType,
		typ:   reflect.TypeFor[T](),
		method: func(owner any, r Resolver) (any, error) {
			o, ok := owner.(O)
			if !ok {
				return nil, fmt.Errorf("%w: configuration owner %T, want %s", ErrBeanWrongType, owner, ownerType)
			}
			return method(o, r)
		},
		opts: newComponentOptions(opts),
	}
}

func (r *methodRegistration) Subject() reflect.Type { return r.owner }

func (r *methodRegistration) contribute(m *DefinitionModel) error {
	if r.method == nil {
		return fmt.Errorf("%w: bean method for %s is nil", ErrInvalidRegistration, r.typ)
	}
	def := r.opts.bean(r.typ, nil)
	err := m.AddConfigurationMethod(&ConfigurationMethodDefinition{
		Bean:      def,
		Owner:     r.owner,
		OwnerName: r.opts.owner,
		Method:    r.method,
	})
	if err != nil {
		return err
	}
	return r.opts.addAbstracts(m, def)
}

type propertiesRegistration struct {
	typ    reflect.Type
	prefix string
	opts   componentOptions
}

// Properties registers *T as a singleton decoded from the configuration
// section at prefix, with `default` tags applied and `validate` tags checked.
func Properties[T any](prefix string, opts ...ComponentOption) Registration {
	return &propertiesRegistration{
		typ:    reflect.TypeFor[T](),
		prefix: prefix,
		opts:   newComponentOptions(opts),
	}
}

func (r *propertiesRegistration) Subject() reflect.Type { return r.typ }

func (r *propertiesRegistration) contribute(m *DefinitionModel) error {
	if r.typ.Kind() != reflect.Struct {
		return fmt.Errorf("%w: property-bound type %s is not a struct", ErrInvalidRegistration, r.typ)
	}
	opts := r.opts
	opts.scope = ScopeSingleton
	def := &PropertyBoundDefinition{
		Bean:   opts.bean(reflect.PointerTo(r.typ), nil),
		Prefix: r.prefix,
		New:    func() any { return reflect.New(r.typ).Interface() },
	}
	if r.typ == unitBaseConfigType {
		def.UnitConfig = func(v any) *UnitBaseConfig { return v.(*UnitBaseConfig) }
	} else if path, ok := embeddedPath(r.typ, unitBaseConfigType); ok {
		def.UnitConfig = func(v any) *UnitBaseConfig {
			return reflect.ValueOf(v).Elem().FieldByIndex(path).Addr().Interface().(*UnitBaseConfig)
		}
	}
	if err := m.AddProperties(def); err != nil {
		return err
	}
	return opts.addAbstracts(m, def.Bean)
}

type valueRegistration struct {
	owner reflect.Type
	field string
	expr  string
}

// Value injects the value of expr into the named field of every T instance
// the context builds. T must be a struct pointer and the field an exported
// bool, number, string or time.Duration.
func Value[T any](field, expr string) Registration {
	return &valueRegistration{owner: reflect.TypeFor[T](), field: field, expr: expr}
}

func (r *valueRegistration) Subject() reflect.Type { return r.owner }

func (r *valueRegistration) contribute(m *DefinitionModel) error {
	if r.owner.Kind() != reflect.Pointer || r.owner.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: %s is not a struct pointer", ErrFieldNotEligible, r.owner)
	}
	f, ok := r.owner.Elem().FieldByName(r.field)
	if !ok || !f.IsExported() {
		return fmt.Errorf("%w: %s has no exported field %q", ErrFieldNotEligible, r.owner, r.field)
	}
	if !valueKind(f.Type) {
		return fmt.Errorf("%w: %s.%s has type %s", ErrFieldNotEligible, r.owner, r.field, f.Type)
	}
	compiled, err := expression.CompileValue(r.expr)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %w", ErrInvalidRegistration, r.owner, r.field, err)
	}
	return m.AddValue(&FieldValueBinding{
		Owner:      r.owner,
		Field:      r.field,
		Expression: compiled,
		index:      f.Index,
		fieldType:  f.Type,
	})
}

func valueKind(t reflect.Type) bool {
	if t == reflect.TypeFor[time.Duration]() {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

type postConstructRegistration struct {
	owner reflect.Type
	fn    func(instance any) error
}

// PostConstruct runs fn on every T instance the context builds, after field
// values are injected.
func PostConstruct[T any](fn func(T) error) Registration {
	return &postConstructRegistration{
		owner: reflect.TypeFor[T](),
		fn: func(instance any) error {
			v, ok := instance.(T)
			if !ok {
				return nil
			}
			return fn(v)
		},
	}
}

func (r *postConstructRegistration) Subject() reflect.Type { return r.owner }

func (r *postConstructRegistration) contribute(m *DefinitionModel) error {
	m.AddPostConstruct(&PostConstructHook{Owner: r.owner, Invoke: r.fn})
	return nil
}
