package config

import (
	"fmt"
	"reflect"
	"strings"
)

const (
	tagDefault  = "default"
	tagRequired = "required"
)

// ProcessDefaults fills zero-valued fields from their `default:"value"` tag.
// Nested structs are walked; elements of slices are walked too, so module
// entries get their own defaults.
//
//	type Config struct {
//	    Dir     string        `default:"audio_cache"`
//	    Timeout time.Duration `default:"5m"`
//	}
func ProcessDefaults(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
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

		switch {
		case field.Kind() == reflect.Struct:
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Struct:
			for j := 0; j < field.Len(); j++ {
				if err := processStructDefaults(field.Index(j)); err != nil {
					return err
				}
			}
			continue
		}

		defaultVal, ok := fieldType.Tag.Lookup(tagDefault)
		if !ok || !field.IsZero() {
			continue
		}
		if err := setDefault(field, defaultVal); err != nil {
			return fmt.Errorf("failed to set default value for %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func setDefault(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return setFieldValue(field, raw)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%w: %s", ErrUnsupportedDefault, field.Type())
		}
		parts := strings.Split(raw, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, part := range parts {
			out = reflect.Append(out, reflect.ValueOf(strings.TrimSpace(part)).Convert(field.Type().Elem()))
		}
		field.Set(out)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDefault, field.Type())
	}
}

// ValidateRequired reports every `required:"true"` field that is still zero.
func ValidateRequired(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	var missing []string
	validateRequiredFields(v, "", &missing)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrRequiredFieldMissing, strings.Join(missing, ", "))
	}
	return nil
}

func validateRequiredFields(v reflect.Value, prefix string, missing *[]string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		name := fieldType.Name
		if prefix != "" {
			name = prefix + "." + name
		}

		switch {
		case field.Kind() == reflect.Struct:
			validateRequiredFields(field, name, missing)
		case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Struct:
			for j := 0; j < field.Len(); j++ {
				validateRequiredFields(field.Index(j), fmt.Sprintf("%s[%d]", name, j), missing)
			}
		case fieldType.Tag.Get(tagRequired) == "true" && field.IsZero():
			*missing = append(*missing, name)
		}
	}
}

func structValue(cfg any) (reflect.Value, error) {
	if cfg == nil {
		return reflect.Value{}, ErrConfigNil
	}
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, ErrConfigNotPointer
	}
	return v.Elem(), nil
}
