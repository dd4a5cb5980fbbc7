package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Feeder populates a config struct from one source.
type Feeder interface {
	Feed(target any) error
}

// YAMLFeeder reads a YAML file.
type YAMLFeeder struct {
	Path string
}

// NewYAMLFeeder creates a feeder for the YAML file at path.
func NewYAMLFeeder(path string) YAMLFeeder {
	return YAMLFeeder{Path: path}
}

// Feed decodes the file into target.
func (y YAMLFeeder) Feed(target any) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadConfig, err)
	}
	if err = yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode YAML %s: %w", y.Path, err)
	}
	return nil
}

// TOMLFeeder reads a TOML file.
type TOMLFeeder struct {
	Path string
}

// NewTOMLFeeder creates a feeder for the TOML file at path.
func NewTOMLFeeder(path string) TOMLFeeder {
	return TOMLFeeder{Path: path}
}

// Feed decodes the file into target.
func (t TOMLFeeder) Feed(target any) error {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadConfig, err)
	}
	if _, err = toml.Decode(string(data), target); err != nil {
		return fmt.Errorf("failed to decode TOML %s: %w", t.Path, err)
	}
	return nil
}

// EnvFeeder overrides fields tagged `env:"NAME"` from PREFIX_NAME
// environment variables. Nested structs are walked; slices and maps are not.
type EnvFeeder struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvFeeder creates an environment feeder for prefix.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix, lookup: os.LookupEnv}
}

// Feed applies every matching, non-empty environment variable.
func (e EnvFeeder) Feed(target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrConfigNotPointer
	}
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return e.feedStruct(v.Elem(), lookup)
}

func (e EnvFeeder) feedStruct(v reflect.Value, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := e.feedStruct(field, lookup); err != nil {
				return err
			}
			continue
		}

		tag, ok := fieldType.Tag.Lookup("env")
		if !ok {
			continue
		}
		name := strings.ToUpper(tag)
		if e.Prefix != "" {
			name = e.Prefix + "_" + name
		}
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("%w %s: %w", ErrEnvConversion, name, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue converts raw to the field's type and stores it.
func setFieldValue(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	converted, err := cast.FromType(raw, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to %v: %w", raw, field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}
