package unitrt

import (
	"fmt"
	"reflect"
	"sort"
)

// Scanner builds definition models from a catalog. Unit definitions and
// their filters are validated once, when the scanner is created.
type Scanner struct {
	registrations []Registration
	units         []*UnitDefinition
	bootstrap     *UnitDefinition
	unitTypes     map[reflect.Type]*UnitDefinition
	filters       map[*UnitDefinition]*Filter
}

// NewScanner indexes the unit registrations of catalog.
func NewScanner(catalog *Catalog) (*Scanner, error) {
	s := &Scanner{
		registrations: catalog.Registrations(),
		unitTypes:     make(map[reflect.Type]*UnitDefinition),
		filters:       make(map[*UnitDefinition]*Filter),
	}
	tags := make(map[string]*UnitDefinition)
	for _, reg := range s.registrations {
		ur, ok := reg.(*unitRegistration)
		if !ok {
			continue
		}
		if err := ur.validate(); err != nil {
			return nil, err
		}
		def := ur.def
		if existing, ok := tags[def.Tag]; ok {
			return nil, fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateUnitTag, def.Tag, existing.Type, def.Type)
		}
		if existing, ok := s.unitTypes[def.Type]; ok {
			return nil, fmt.Errorf("%w: %s registered as %q and %q", ErrDuplicateUnitTag, def.Type, existing.Tag, def.Tag)
		}
		tags[def.Tag] = def
		s.unitTypes[def.Type] = def

		if def.Bootstrap {
			if s.bootstrap != nil {
				return nil, fmt.Errorf("%w: two bootstrap units", ErrInvalidRegistration)
			}
			s.bootstrap = def
			s.filters[def] = BootstrapFilter()
			continue
		}
		own := indirect(def.Type).PkgPath()
		filter, err := NewFilter(def.IncludeTypes, append([]string{own}, def.IncludePackages...), def.ExcludeTypes, def.ExcludePackages)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", def.Tag, err)
		}
		s.filters[def] = filter
		s.units = append(s.units, def)
	}
	sort.SliceStable(s.units, func(i, j int) bool { return s.units[i].Priority < s.units[j].Priority })
	return s, nil
}

// Units returns the deployable units ordered by priority.
func (s *Scanner) Units() []*UnitDefinition {
	return append([]*UnitDefinition(nil), s.units...)
}

// Bootstrap returns the bootstrap unit, if registered.
func (s *Scanner) Bootstrap() *UnitDefinition { return s.bootstrap }

// Scan builds the definition model of def. Registrations whose subject is
// another unit are skipped, the remaining ones pass through the unit's
// filter. A bootstrap scan also collects every unit definition.
func (s *Scanner) Scan(def *UnitDefinition) (*DefinitionModel, error) {
	filter, ok := s.filters[def]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, def.Tag)
	}
	m := NewDefinitionModel(def)
	for _, reg := range s.registrations {
		subject := reg.Subject()
		if other, isUnit := s.unitTypes[subject]; isUnit && other != def {
			continue
		}
		if !filter.Allows(subject) {
			continue
		}
		if err := reg.contribute(m); err != nil {
			return nil, fmt.Errorf("scan unit %s: %w", def.Tag, err)
		}
	}
	if def.Bootstrap {
		for _, u := range s.units {
			m.AddUnit(u)
		}
	}
	return m, nil
}

// Validate scans every unit once so definition errors surface before any
// unit is deployed. Explicit unit config names must match a property-bound
// UnitBaseConfig bean of the bootstrap scan.
func (s *Scanner) Validate() error {
	configs := make(map[string]bool)
	if s.bootstrap != nil {
		m, err := s.Scan(s.bootstrap)
		if err != nil {
			return err
		}
		for _, p := range m.Properties() {
			if p.UnitConfig != nil {
				configs[p.Bean.Name] = true
			}
		}
	}
	for _, u := range s.units {
		if _, err := s.Scan(u); err != nil {
			return err
		}
		if u.configNameSet && !configs[u.ConfigName] {
			return fmt.Errorf("%w: unit %s names %q", ErrPropertyPrefixUnbound, u.Tag, u.ConfigName)
		}
	}
	return nil
}
