package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golobby/cast"
)

const tagDefault = "default"

// ProcessDefaults fills zero-valued fields of the struct cfg points to from
// their `default:"..."` tags. Nested and embedded structs are processed
// recursively, non-nil struct pointers too.
//
//	type ShutdownConfig struct {
//	    StopRequestTimeout time.Duration `default:"25s"`
//	    Units              []string      `default:"[\"a\",\"b\"]"`
//	}
func ProcessDefaults(cfg any) error {
	if cfg == nil {
		return ErrConfigNil
	}

	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrConfigNotPointer
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrConfigNotStruct
	}

	return processStructDefaults(v)
}

func processStructDefaults(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		}

		// nil struct pointers stay nil
		if field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct {
			if !field.IsNil() {
				if err := processStructDefaults(field.Elem()); err != nil {
					return err
				}
			}
			continue
		}

		defaultVal, hasDefault := fieldType.Tag.Lookup(tagDefault)
		if !hasDefault || !field.IsZero() {
			continue
		}

		if err := setDefaultValue(field, defaultVal); err != nil {
			return fmt.Errorf("failed to set default value for %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setDefaultValue(field reflect.Value, defaultVal string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(defaultVal)
		if err != nil {
			return fmt.Errorf("failed to parse duration value: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		converted, err := CastKind(defaultVal, field.Type())
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDefault, field.Type(), err)
		}
		field.Set(converted)
		return nil
	case reflect.Slice, reflect.Map:
		target := reflect.New(field.Type())
		if err := json.Unmarshal([]byte(defaultVal), target.Interface()); err != nil {
			return fmt.Errorf("failed to unmarshal JSON default: %w", err)
		}
		field.Set(target.Elem())
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTypeForDefault, field.Kind())
	}
}

// CastKind parses raw as the basic kind underlying t and converts the result
// to t, so named types such as `type Port int` cast like their kind.
func CastKind(raw string, t reflect.Type) (reflect.Value, error) {
	converted, err := cast.FromString(raw, t.Kind().String())
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(converted).Convert(t), nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the `validate:"..."` tags of cfg. Non-struct values pass.
func Validate(cfg any) error {
	v := reflect.ValueOf(cfg)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	err := structValidator().Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// Bind fills target's defaults, decodes the section at prefix over them and
// validates the result. Defaults go first so that values explicitly set to
// the zero value in the file are kept.
func Bind(tree *Tree, prefix string, target any) error {
	if err := ProcessDefaults(target); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, prefix, err)
	}
	if err := tree.Decode(prefix, target); err != nil {
		return err
	}
	return Validate(target)
}
