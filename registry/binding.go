package registry

// Builder declares a single binding. The binding is stored as soon as one of
// the To* methods is called; Named must come before it and In after it.
type Builder struct {
	reg     *Registry
	key     Key
	multi   bool
	binding *Binding
}

// Named qualifies the binding key with a name.
func (b *Builder) Named(name string) *Builder {
	if b.binding == nil {
		b.key.Name = name
	}
	return b
}

// To links the binding to another key. Resolution follows the link each
// time, so the target's scope decides instance sharing unless In is used on
// the link itself.
func (b *Builder) To(target Key) *Builder {
	return b.register(&Binding{kind: kindLinked, target: target})
}

// ToProjection links the binding to another key and maps the target instance
// through project before handing it out.
func (b *Builder) ToProjection(target Key, project func(any) (any, error)) *Builder {
	return b.register(&Binding{kind: kindLinked, target: target, project: project})
}

// ToInstance binds a fixed value.
func (b *Builder) ToInstance(v any) {
	b.register(&Binding{kind: kindInstance, instance: v, scope: ScopeSingleton})
}

// ToFactory binds a factory function.
func (b *Builder) ToFactory(f Factory) *Builder {
	return b.register(&Binding{kind: kindFactory, factory: f})
}

// ToProvider binds a provider object.
func (b *Builder) ToProvider(p Provider) *Builder {
	return b.register(&Binding{kind: kindProvider, provider: p})
}

// In sets the scope of the declared binding.
func (b *Builder) In(s Scope) {
	if b.binding == nil {
		return
	}
	b.binding.mu.Lock()
	b.binding.scope = s
	b.binding.mu.Unlock()
}

func (b *Builder) register(binding *Binding) *Builder {
	binding.key = b.key
	b.binding = binding
	if b.multi {
		b.reg.addMulti(binding)
	} else {
		b.reg.add(binding)
	}
	return b
}

// Multibinder adds elements to a multibinding.
type Multibinder struct {
	reg  *Registry
	elem Key
}

// AddBinding starts the declaration of one element.
func (m *Multibinder) AddBinding() *Builder {
	return &Builder{reg: m.reg, key: m.elem, multi: true}
}
