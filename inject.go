package unitrt

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/GoCodeAlone/unitrt/registry"
)

// injectingFactory returns the default factory for t: allocate the struct and
// resolve every field tagged `inject`. The tag value names the binding;
// slice fields fall back to the multibinding of their element type and
// ",optional" leaves unresolvable fields at their zero value.
//
//	type Greeter struct {
//		Store    Store          `inject:""`
//		Audit    Sink           `inject:"audit"`
//		Plugins  []Plugin       `inject:""`
//		Tracer   Tracer         `inject:",optional"`
//	}
func injectingFactory(t reflect.Type) (Factory, error) {
	switch {
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		return func(r Resolver) (any, error) {
			v := reflect.New(t.Elem())
			if err := injectFields(r, v.Elem()); err != nil {
				return nil, err
			}
			return v.Interface(), nil
		}, nil
	case t.Kind() == reflect.Struct:
		return func(r Resolver) (any, error) {
			v := reflect.New(t).Elem()
			if err := injectFields(r, v); err != nil {
				return nil, err
			}
			return v.Interface(), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s needs an explicit factory", ErrInvalidRegistration, t)
	}
}

func injectFields(r Resolver, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("inject")
		if !ok {
			continue
		}
		if !f.IsExported() {
			return fmt.Errorf("%w: %s.%s is unexported", ErrFieldNotEligible, t, f.Name)
		}
		name, flags, _ := strings.Cut(tag, ",")
		value, err := resolveField(r, f.Type, name)
		if err != nil {
			if flags == "optional" && errors.Is(err, registry.ErrBindingNotFound) {
				continue
			}
			return fmt.Errorf("inject %s.%s: %w", t, f.Name, err)
		}
		v.Field(i).Set(value)
	}
	return nil
}

func resolveField(r Resolver, t reflect.Type, name string) (reflect.Value, error) {
	inst, err := r.Get(Key{Type: t, Name: name})
	if err == nil {
		return assignable(inst, t)
	}
	if t.Kind() != reflect.Slice || name != "" || !errors.Is(err, registry.ErrBindingNotFound) {
		return reflect.Value{}, err
	}
	all, err := r.GetAll(t.Elem())
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.MakeSlice(t, 0, len(all))
	for _, inst := range all {
		ev, err := assignable(inst, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.Append(out, ev)
	}
	return out, nil
}

func assignable(inst any, t reflect.Type) (reflect.Value, error) {
	if inst == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(inst)
	if !v.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s", ErrBeanWrongType, v.Type(), t)
	}
	return v, nil
}
