package unitrt

import (
	"context"
	"fmt"
	"reflect"
)

// DefaultEventSource tags events of units that declare no event source.
const DefaultEventSource = "common"

// Unit is an independently deployed component. Each instance runs in its
// own context and talks to other units only through events.
type Unit interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Opener is implemented by units that need work done before Start.
type Opener interface {
	Open(ctx context.Context) error
}

// Closer is implemented by units that release resources after their stop
// handlers ran and before Stop.
type Closer interface {
	Close(ctx context.Context) error
}

// StopHandler runs while a unit instance stops.
type StopHandler func(ctx context.Context) error

// UnitBaseConfig is the deploy configuration of a unit. Embed it in a
// Properties type and name that bean in the unit's ConfigName.
type UnitBaseConfig struct {
	Enable    bool `yaml:"enable" default:"true"`
	Instances int  `yaml:"instances" validate:"gte=0"`
}

// UnitConfigs maps deploy configuration names to their values.
type UnitConfigs map[string]*UnitBaseConfig

var unitBaseConfigType = reflect.TypeFor[UnitBaseConfig]()

// UnitOption configures a unit registration.
type UnitOption func(*UnitDefinition)

// UnitTag sets the tag the unit is known by. The default is the type name
// with a lower-case first letter.
func UnitTag(tag string) UnitOption {
	return func(d *UnitDefinition) { d.Tag = tag }
}

// Priority sets the deploy wave. Lower priorities deploy first and stop last.
func Priority(p int) UnitOption {
	return func(d *UnitDefinition) { d.Priority = p }
}

// Instances sets how many instances are deployed.
func Instances(n int) UnitOption {
	return func(d *UnitDefinition) { d.Instances = n }
}

// ConfigName names the UnitBaseConfig bean that controls the unit.
func ConfigName(name string) UnitOption {
	return func(d *UnitDefinition) {
		d.ConfigName = name
		d.configNameSet = true
	}
}

// EventSource sets the tag stamped on the unit's events.
func EventSource(source string) UnitOption {
	return func(d *UnitDefinition) { d.EventSource = source }
}

// IncludePackages adds package patterns to the unit's scan. The unit's own
// package is always included.
func IncludePackages(patterns ...string) UnitOption {
	return func(d *UnitDefinition) { d.IncludePackages = append(d.IncludePackages, patterns...) }
}

// IncludeTypes adds type patterns (pkgpath.TypeName) to the unit's scan.
func IncludeTypes(patterns ...string) UnitOption {
	return func(d *UnitDefinition) { d.IncludeTypes = append(d.IncludeTypes, patterns...) }
}

// ExcludePackages removes package patterns from the unit's scan.
func ExcludePackages(patterns ...string) UnitOption {
	return func(d *UnitDefinition) { d.ExcludePackages = append(d.ExcludePackages, patterns...) }
}

// ExcludeTypes removes type patterns from the unit's scan.
func ExcludeTypes(patterns ...string) UnitOption {
	return func(d *UnitDefinition) { d.ExcludeTypes = append(d.ExcludeTypes, patterns...) }
}

func bootstrapUnit() UnitOption {
	return func(d *UnitDefinition) { d.Bootstrap = true }
}

type unitRegistration struct {
	def *UnitDefinition
}

// DeployUnit registers U as a deployable unit built by factory. A nil factory
// allocates U and fills its `inject` tagged fields.
func DeployUnit[U Unit](factory func(r Resolver) (U, error), opts ...UnitOption) Registration {
	t := reflect.TypeFor[U]()
	def := &UnitDefinition{
		Type:        t,
		Tag:         lowerCamel(t),
		Instances:   1,
		EventSource: DefaultEventSource,
		New:         adaptFactory(factory),
	}
	for _, opt := range opts {
		opt(def)
	}
	if def.ConfigName == "" {
		def.ConfigName = def.Tag
	}
	return &unitRegistration{def: def}
}

func (r *unitRegistration) Subject() reflect.Type { return r.def.Type }

// Definition returns the unit definition.
func (r *unitRegistration) Definition() *UnitDefinition { return r.def }

func (r *unitRegistration) validate() error {
	def := r.def
	if def.Tag == "" {
		return fmt.Errorf("%w: unit %s has no tag", ErrInvalidRegistration, def.Type)
	}
	if def.Instances < 1 {
		return fmt.Errorf("%w: unit %s deploys %d instances", ErrInvalidRegistration, def.Tag, def.Instances)
	}
	if def.New == nil {
		factory, err := injectingFactory(def.Type)
		if err != nil {
			return err
		}
		def.New = factory
	}
	return nil
}

// contribute binds the unit type itself in its own context.
func (r *unitRegistration) contribute(m *DefinitionModel) error {
	def := &BeanDefinition{Type: r.def.Type, Name: r.def.Tag, Scope: ScopeSingleton, Factory: r.def.New}
	return m.AddComponent(&ComponentDefinition{BeanDefinition: def})
}
