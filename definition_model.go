package unitrt

import (
	"fmt"
	"reflect"
)

// DefinitionModel is the set of definitions discovered for one context. The
// add methods enforce the model invariants and fail on the first violation;
// after discovery the model is only read.
type DefinitionModel struct {
	unit *UnitDefinition

	components     []*ComponentDefinition
	abstracts      map[reflect.Type]*AbstractBinding
	abstractOrder  []reflect.Type
	providers      []*ProviderDefinition
	providerByType map[reflect.Type]*ProviderDefinition
	methods        []*ConfigurationMethodDefinition
	properties     []*PropertyBoundDefinition
	prefixes       map[string]*PropertyBoundDefinition
	values         []*FieldValueBinding
	postConstructs []*PostConstructHook
	listeners      []*EventListenerDefinition
	units          []*UnitDefinition

	beans map[Key]*BeanDefinition
}

// NewDefinitionModel creates an empty model for unit.
func NewDefinitionModel(unit *UnitDefinition) *DefinitionModel {
	return &DefinitionModel{
		unit:           unit,
		abstracts:      make(map[reflect.Type]*AbstractBinding),
		providerByType: make(map[reflect.Type]*ProviderDefinition),
		prefixes:       make(map[string]*PropertyBoundDefinition),
		beans:          make(map[Key]*BeanDefinition),
	}
}

// Unit returns the unit the model was scanned for.
func (m *DefinitionModel) Unit() *UnitDefinition { return m.unit }

// Components returns the flat components in discovery order.
func (m *DefinitionModel) Components() []*ComponentDefinition { return m.components }

// Abstracts returns the interface and superclass bindings in discovery order.
func (m *DefinitionModel) Abstracts() []*AbstractBinding {
	out := make([]*AbstractBinding, 0, len(m.abstractOrder))
	for _, t := range m.abstractOrder {
		out = append(out, m.abstracts[t])
	}
	return out
}

// Abstract returns the binding for abstract type t.
func (m *DefinitionModel) Abstract(t reflect.Type) (*AbstractBinding, bool) {
	a, ok := m.abstracts[t]
	return a, ok
}

// Providers returns the provider definitions.
func (m *DefinitionModel) Providers() []*ProviderDefinition { return m.providers }

// ConfigurationMethods returns the configuration-method beans.
func (m *DefinitionModel) ConfigurationMethods() []*ConfigurationMethodDefinition {
	return m.methods
}

// Properties returns the property-bound definitions.
func (m *DefinitionModel) Properties() []*PropertyBoundDefinition { return m.properties }

// Values returns the field value bindings.
func (m *DefinitionModel) Values() []*FieldValueBinding { return m.values }

// PostConstructs returns the post-construct hooks.
func (m *DefinitionModel) PostConstructs() []*PostConstructHook { return m.postConstructs }

// Listeners returns the event listeners in registration order.
func (m *DefinitionModel) Listeners() []*EventListenerDefinition { return m.listeners }

// Units returns the unit definitions collected by a bootstrap scan.
func (m *DefinitionModel) Units() []*UnitDefinition { return m.units }

// Bean returns the definition built under key.
func (m *DefinitionModel) Bean(key Key) (*BeanDefinition, bool) {
	b, ok := m.beans[key]
	return b, ok
}

func (m *DefinitionModel) addBean(def *BeanDefinition) error {
	if def.Type == nil {
		return fmt.Errorf("%w: bean %q has no type", ErrInvalidRegistration, def.Name)
	}
	if _, exists := m.beans[def.Key()]; exists {
		return fmt.Errorf("%w: %q for %s", ErrDuplicateBeanName, def.Name, def.Type)
	}
	if def.Primary {
		for key, other := range m.beans {
			if key.Type == def.Type && other.Primary {
				return fmt.Errorf("%w: %s has %q and %q", ErrMultiplePrimary, def.Type, other.Name, def.Name)
			}
		}
	}
	m.beans[def.Key()] = def
	return nil
}

// AddComponent adds a flat component.
func (m *DefinitionModel) AddComponent(def *ComponentDefinition) error {
	if err := m.addBean(def.BeanDefinition); err != nil {
		return err
	}
	m.components = append(m.components, def)
	return nil
}

// AddAbstract adds candidate under abstract type t. Bean names are unique per
// abstract type and at most one candidate may be primary.
func (m *DefinitionModel) AddAbstract(t reflect.Type, kind AbstractKind, candidate *Candidate) error {
	a, ok := m.abstracts[t]
	if !ok {
		a = &AbstractBinding{Abstract: t, Kind: kind}
		m.abstracts[t] = a
		m.abstractOrder = append(m.abstractOrder, t)
	}
	for _, existing := range a.Candidates {
		if existing.Bean.Name == candidate.Bean.Name {
			return fmt.Errorf("%w: %q under %s %s (%s and %s)",
				ErrDuplicateBeanName, candidate.Bean.Name, kind, t, existing.Bean.Type, candidate.Bean.Type)
		}
		if existing.Bean.Primary && candidate.Bean.Primary {
			return fmt.Errorf("%w: %s has %q and %q", ErrMultiplePrimary, t, existing.Bean.Name, candidate.Bean.Name)
		}
	}
	a.Candidates = append(a.Candidates, candidate)
	return nil
}

// AddProvider adds a provider-backed bean. A produced type has at most one
// provider.
func (m *DefinitionModel) AddProvider(def *ProviderDefinition) error {
	if existing, ok := m.providerByType[def.Bean.Type]; ok {
		return fmt.Errorf("%w: %s by %s and %s", ErrDuplicateProvider, def.Bean.Type, existing.ProviderType, def.ProviderType)
	}
	if err := m.addBean(def.Bean); err != nil {
		return err
	}
	m.providerByType[def.Bean.Type] = def
	m.providers = append(m.providers, def)
	return nil
}

// AddConfigurationMethod adds a configuration-method bean.
func (m *DefinitionModel) AddConfigurationMethod(def *ConfigurationMethodDefinition) error {
	if err := m.addBean(def.Bean); err != nil {
		return err
	}
	m.methods = append(m.methods, def)
	return nil
}

// AddProperties adds a property-bound bean. Prefixes are unique per model.
func (m *DefinitionModel) AddProperties(def *PropertyBoundDefinition) error {
	if def.Prefix == "" {
		return fmt.Errorf("%w: %s", ErrMissingPropertyPrefix, def.Bean.Type)
	}
	if existing, ok := m.prefixes[def.Prefix]; ok {
		return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicatePropertyPrefix, def.Prefix, existing.Bean.Type, def.Bean.Type)
	}
	if err := m.addBean(def.Bean); err != nil {
		return err
	}
	m.prefixes[def.Prefix] = def
	m.properties = append(m.properties, def)
	return nil
}

// AddValue adds a field value binding.
func (m *DefinitionModel) AddValue(def *FieldValueBinding) error {
	for _, existing := range m.values {
		if existing.Owner == def.Owner && existing.Field == def.Field {
			return fmt.Errorf("%w: %s.%s bound twice", ErrInvalidRegistration, def.Owner, def.Field)
		}
	}
	m.values = append(m.values, def)
	return nil
}

// AddPostConstruct adds a post-construct hook.
func (m *DefinitionModel) AddPostConstruct(def *PostConstructHook) {
	m.postConstructs = append(m.postConstructs, def)
}

// AddListener adds an event listener.
func (m *DefinitionModel) AddListener(def *EventListenerDefinition) {
	m.listeners = append(m.listeners, def)
}

// AddUnit records a unit definition.
func (m *DefinitionModel) AddUnit(def *UnitDefinition) {
	m.units = append(m.units, def)
}
