package unitrt

import (
	"reflect"
	"unicode"
	"unicode/utf8"
)

var frameworkPackage = reflect.TypeFor[Context]().PkgPath()

// indirect strips pointer levels from t.
func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// typeName returns pkgpath.Name for named types and the type literal
// otherwise.
func typeName(t reflect.Type) string {
	t = indirect(t)
	if t == nil {
		return "<nil>"
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// lowerCamel returns the default bean name of t: its type name with the
// first letter lowered.
func lowerCamel(t reflect.Type) string {
	t = indirect(t)
	if t == nil {
		return ""
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}
