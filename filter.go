package unitrt

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gobwas/glob"
)

// Filter decides which registrations a unit scan sees.
//
// Package patterns match a package and its sub-packages; a pattern with glob
// syntax (`github.com/acme/*/handlers`) is matched with `/` as separator.
// Type patterns match `pkgpath.TypeName`. The framework package always passes
// the include stage.
type Filter struct {
	includePackages []glob.Glob
	excludePackages []glob.Glob
	includeTypes    []glob.Glob
	excludeTypes    []glob.Glob
	bootstrap       bool
}

// NewFilter compiles the include and exclude lists.
func NewFilter(includeTypes, includePackages, excludeTypes, excludePackages []string) (*Filter, error) {
	f := &Filter{}
	var err error
	if f.includePackages, err = compilePackages(includePackages); err != nil {
		return nil, err
	}
	if f.excludePackages, err = compilePackages(excludePackages); err != nil {
		return nil, err
	}
	if f.includeTypes, err = compileTypes(includeTypes); err != nil {
		return nil, err
	}
	if f.excludeTypes, err = compileTypes(excludeTypes); err != nil {
		return nil, err
	}
	return f, nil
}

// BootstrapFilter admits the framework package and unit deploy
// configuration types.
func BootstrapFilter() *Filter {
	return &Filter{bootstrap: true}
}

// Allows reports whether t belongs to the scan.
func (f *Filter) Allows(t reflect.Type) bool {
	t = indirect(t)
	if t == nil {
		return false
	}
	pkg := t.PkgPath()
	if f.bootstrap {
		if pkg == frameworkPackage {
			return true
		}
		if t.Kind() != reflect.Struct {
			return false
		}
		_, ok := embeddedPath(t, unitBaseConfigType)
		return ok
	}

	name := typeName(t)
	included := pkg == frameworkPackage || matchAny(f.includePackages, pkg)
	if included && matchAny(f.excludePackages, pkg) {
		included = false
	}
	if !included && matchAny(f.includeTypes, name) {
		included = true
	}
	if included && matchAny(f.excludeTypes, name) {
		included = false
	}
	return included
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

func compilePackages(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSuffix(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		pattern := p
		if !strings.ContainsAny(p, "*?[{") {
			pattern = "{" + p + "," + p + "/**}"
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: package %q: %w", ErrInvalidFilter, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func compileTypes(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: type %q: %w", ErrInvalidFilter, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}
