package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/ghodss/yaml"
	"github.com/go-playground/validator/v10"
	"github.com/imdario/mergo"
	"inet.af/netaddr"
)

// Transformer treats netaddr.IP as an atomic value during merge: mergo's
// default struct recursion can't safely walk netaddr.IP's unexported
// fields, so dst is replaced wholesale when it is zero. Same idiom as
// the teacher's Listener.Transformer.
func (c *Config) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf(netaddr.IP{}) {
		return nil
	}

	return func(dst, src reflect.Value) error {
		if !dst.CanSet() {
			return nil
		}
		isZero := dst.MethodByName("IsZero").Call(nil)[0].Bool()
		if isZero {
			dst.Set(src)
		}

		return nil
	}
}

// Merge layers path's YAML contents underneath c: any field left at its
// zero value by flag parsing is filled from the file, then any field
// still zero is filled from Default(). Flags always win over the file;
// the file always wins over built-in defaults.
func (c *Config) Merge(path string) error {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: reading %s: %w", path, err)
		}
		fromFile := &Config{}
		if err := yaml.Unmarshal(raw, fromFile); err != nil {
			return fmt.Errorf("config: parsing %s: %w", path, err)
		}
		if err := mergo.Merge(c, fromFile, mergo.WithTransformers(c)); err != nil {
			return fmt.Errorf("config: merging %s: %w", path, err)
		}
	}

	if err := mergo.Merge(c, Default(), mergo.WithTransformers(c)); err != nil {
		return fmt.Errorf("config: applying defaults: %w", err)
	}

	return nil
}

// Validate checks required fields and value ranges before any service
// starts, the way the teacher's command.Validate gates Run.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// Dump marshals c back out as YAML, for --dump-config and
// --dump-config-merged.
func (c *Config) Dump() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("config: marshaling: %w", err)
	}

	return string(b), nil
}
