package unitrt

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/GoCodeAlone/unitrt/bus"
	"github.com/GoCodeAlone/unitrt/config"
	"github.com/GoCodeAlone/unitrt/metrics"
	"github.com/GoCodeAlone/unitrt/registry"
)

// MulticasterBeanName is the bean name the event multicaster is bound under.
const MulticasterBeanName = "applicationEventMulticaster"

// binder emits the bindings of one context's model into its registry. The
// provider cache lives for a single binding pass.
type binder struct {
	c         *Context
	reg       *registry.Registry
	model     *DefinitionModel
	providers map[reflect.Type]Provider
}

func bindContext(c *Context) error {
	b := &binder{
		c:         c,
		reg:       c.reg,
		model:     c.model,
		providers: make(map[reflect.Type]Provider),
	}
	defer func() { b.providers = nil }()

	steps := []struct {
		name string
		run  func() error
	}{
		{"core", b.bindCore},
		{"components", b.bindComponents},
		{"abstracts", b.bindAbstracts},
		{"providers", b.bindProviders},
		{"configuration", b.bindConfiguration},
		{"units", b.bindUnits},
		{"multicaster", b.bindMulticaster},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("bind %s: %s: %w", c.DisplayName(), step.name, err)
		}
	}
	if err := b.reg.Err(); err != nil {
		return fmt.Errorf("bind %s: %w", c.DisplayName(), err)
	}
	return nil
}

// bindCore binds the context and the runtime handles first so that every
// later binding can depend on them.
func (b *binder) bindCore() error {
	c := b.c
	b.reg.Bind(reflect.TypeFor[*Context]()).ToInstance(c)
	b.reg.Bind(reflect.TypeFor[Publisher]()).ToInstance(c)
	b.reg.Bind(reflect.TypeFor[bus.Bus]()).ToInstance(c.bus)
	b.reg.Bind(reflect.TypeFor[Logger]()).ToInstance(c.logger)
	b.reg.Bind(reflect.TypeFor[*config.Tree]()).ToInstance(c.tree)
	b.reg.Bind(reflect.TypeFor[*config.ApplicationConfig]()).ToInstance(c.appConfig)
	b.reg.Bind(reflect.TypeFor[*ContextRegistry]()).ToInstance(c.contexts)
	b.reg.Bind(reflect.TypeFor[*ContextFactory]()).ToInstance(c.factory)
	b.reg.Bind(reflect.TypeFor[*metrics.Metrics]()).ToInstance(c.metrics)

	if len(b.model.Values()) > 0 || len(b.model.PostConstructs()) > 0 {
		b.reg.AddHook(b.instanceHook())
	}
	return nil
}

func (b *binder) bindComponents() error {
	beans := make([]*BeanDefinition, 0, len(b.model.Components()))
	for _, comp := range b.model.Components() {
		b.bindHome(comp.BeanDefinition, comp.Factory)
		beans = append(beans, comp.BeanDefinition)
	}
	b.bindDefaults(beans)
	return nil
}

// bindAbstracts binds every candidate under its name and into the
// multibinding of the abstract type. The unqualified key goes to the only
// candidate, or to the primary one; without a primary callers must use a
// name or the collection.
func (b *binder) bindAbstracts() error {
	for _, a := range b.model.Abstracts() {
		set := b.reg.Multibind(a.Abstract)
		for _, cand := range a.Candidates {
			link(b.reg.Bind(a.Abstract).Named(cand.Bean.Name), cand)
			link(set.AddBinding(), cand)
		}
		if len(a.Candidates) == 1 {
			link(b.reg.Bind(a.Abstract), a.Candidates[0])
		} else if primary := a.Primary(); primary != nil {
			link(b.reg.Bind(a.Abstract), primary)
		}
	}
	return nil
}

func link(builder *registry.Builder, cand *Candidate) {
	if cand.Project != nil {
		builder.ToProjection(cand.Bean.Key(), cand.Project)
		return
	}
	builder.To(cand.Bean.Key())
}

func (b *binder) bindProviders() error {
	beans := make([]*BeanDefinition, 0, len(b.model.Providers()))
	for _, def := range b.model.Providers() {
		p, ok := b.providers[def.ProviderType]
		if !ok {
			p = &lazyProvider{newProvider: def.New}
			b.providers[def.ProviderType] = p
		}
		b.reg.Bind(def.Bean.Type).Named(def.Bean.Name).ToProvider(p).In(def.Bean.Scope)
		beans = append(beans, def.Bean)
	}
	b.bindDefaults(beans)
	return nil
}

// bindConfiguration binds property-bound and configuration-method beans.
// Values are decoded from the tree when the bean is first resolved.
func (b *binder) bindConfiguration() error {
	tree := b.c.tree
	beans := make([]*BeanDefinition, 0, len(b.model.Properties())+len(b.model.ConfigurationMethods()))
	var unitConfigs []*PropertyBoundDefinition
	for _, def := range b.model.Properties() {
		b.bindHome(def.Bean, func(Resolver) (any, error) {
			v := def.New()
			if err := config.Bind(tree, def.Prefix, v); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrConfigLoad, def.Prefix, err)
			}
			return v, nil
		})
		beans = append(beans, def.Bean)
		if def.UnitConfig != nil {
			unitConfigs = append(unitConfigs, def)
		}
	}
	for _, def := range b.model.ConfigurationMethods() {
		b.bindHome(def.Bean, func(r Resolver) (any, error) {
			owner, err := r.Get(Key{Type: def.Owner, Name: def.OwnerName})
			if err != nil {
				return nil, fmt.Errorf("configuration owner of %s: %w", def.Bean.Name, err)
			}
			return def.Method(owner, r)
		})
		beans = append(beans, def.Bean)
	}
	b.bindDefaults(beans)

	b.reg.Bind(reflect.TypeFor[UnitConfigs]()).ToFactory(func(r Resolver) (any, error) {
		out := make(UnitConfigs, len(unitConfigs))
		for _, def := range unitConfigs {
			v, err := r.Get(def.Bean.Key())
			if err != nil {
				return nil, err
			}
			out[def.Bean.Name] = def.UnitConfig(v)
		}
		return out, nil
	}).In(ScopeSingleton)
	return nil
}

// bindUnits binds the unit multibinding. The bootstrap unit is left out: it
// is the one running the deployment.
func (b *binder) bindUnits() error {
	unit := b.model.Unit()
	set := b.reg.Multibind(reflect.TypeFor[Unit]())
	if unit != nil && !unit.Bootstrap {
		set.AddBinding().To(unit.BeanKey())
	}
	b.reg.Bind(reflect.TypeFor[*UnitDefinition]()).ToInstance(unit)
	b.reg.Bind(reflect.TypeFor[[]*UnitDefinition]()).ToInstance(b.model.Units())
	return nil
}

// bindMulticaster binds the multicaster last; it resolves listener owners
// from everything bound before it.
func (b *binder) bindMulticaster() error {
	c := b.c
	t := reflect.TypeFor[*Multicaster]()
	b.reg.Bind(t).Named(MulticasterBeanName).ToFactory(func(r Resolver) (any, error) {
		cfg, err := Resolve[*ExecutorConfig](r)
		if err != nil {
			if !errors.Is(err, registry.ErrBindingNotFound) {
				return nil, err
			}
			if cfg, err = DefaultExecutorConfig(); err != nil {
				return nil, err
			}
		}
		return newMulticaster(c, *cfg), nil
	}).In(ScopeSingleton)
	b.reg.Bind(t).To(Key{Type: t, Name: MulticasterBeanName})
	return nil
}

func (b *binder) bindHome(def *BeanDefinition, factory Factory) {
	b.reg.Bind(def.Type).Named(def.Name).ToFactory(factory).In(def.Scope)
}

// bindDefaults binds the unqualified key of each concrete type: to its only
// definition, or to the primary one when several share the type.
func (b *binder) bindDefaults(beans []*BeanDefinition) {
	groups := make(map[reflect.Type][]*BeanDefinition)
	var order []reflect.Type
	for _, def := range beans {
		if _, seen := groups[def.Type]; !seen {
			order = append(order, def.Type)
		}
		groups[def.Type] = append(groups[def.Type], def)
	}
	for _, t := range order {
		group := groups[t]
		if len(group) == 1 {
			b.reg.Bind(t).To(group[0].Key())
			continue
		}
		set := b.reg.Multibind(t)
		for _, def := range group {
			set.AddBinding().To(def.Key())
			if def.Primary {
				b.reg.Bind(t).To(def.Key())
			}
		}
	}
}

// instanceHook injects field values and runs post-construct hooks on every
// instance built in the context.
func (b *binder) instanceHook() registry.InstanceHook {
	values := b.model.Values()
	hooks := b.model.PostConstructs()
	tree := b.c.tree
	return func(_ registry.Resolver, instance any) error {
		t := reflect.TypeOf(instance)
		for _, v := range values {
			if v.Owner == t {
				if err := v.inject(tree, instance); err != nil {
					return err
				}
			}
		}
		for _, h := range hooks {
			if h.Owner == t {
				if err := h.Invoke(instance); err != nil {
					return fmt.Errorf("post construct %s: %w", t, err)
				}
			}
		}
		return nil
	}
}

func (v *FieldValueBinding) inject(tree *config.Tree, instance any) error {
	raw, err := v.Expression.Resolve(tree.Snapshot(), tree.Value)
	if err != nil {
		return fmt.Errorf("value %s.%s: %w", v.Owner, v.Field, err)
	}
	field, err := reflect.ValueOf(instance).Elem().FieldByIndexErr(v.index)
	if err != nil {
		return fmt.Errorf("value %s.%s: %w", v.Owner, v.Field, err)
	}
	if v.fieldType == reflect.TypeFor[time.Duration]() {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("value %s.%s: %w", v.Owner, v.Field, err)
		}
		field.SetInt(int64(d))
		return nil
	}
	converted, err := config.CastKind(raw, v.fieldType)
	if err != nil {
		return fmt.Errorf("value %s.%s: %w", v.Owner, v.Field, err)
	}
	field.Set(converted)
	return nil
}

// lazyProvider creates the underlying provider on first use.
type lazyProvider struct {
	newProvider func(r Resolver) (Provider, error)

	once     sync.Once
	provider Provider
	err      error
}

func (l *lazyProvider) Get(r Resolver) (any, error) {
	l.once.Do(func() {
		l.provider, l.err = l.newProvider(r)
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.provider.Get(r)
}
