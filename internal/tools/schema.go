package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"stark-agent/internal/domain"
)

// ArgumentError reports tool input that does not match its schema.
type ArgumentError struct {
	Path   string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Path == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Path, e.Reason)
}

func argErr(path, format string, args ...any) error {
	return &ArgumentError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// validator checks arguments against tool schemas. Patterns are compiled once.
type validator struct {
	patterns map[string]*regexp.Regexp
}

func newValidator(descriptors []domain.ToolDescriptor) (*validator, error) {
	v := &validator{patterns: map[string]*regexp.Regexp{}}
	var walk func(p domain.Property) error
	walk = func(p domain.Property) error {
		if p.Pattern != "" {
			if _, ok := v.patterns[p.Pattern]; !ok {
				re, err := regexp.Compile(p.Pattern)
				if err != nil {
					return fmt.Errorf("compile pattern %q: %w", p.Pattern, err)
				}
				v.patterns[p.Pattern] = re
			}
		}
		if p.Items != nil {
			if err := walk(*p.Items); err != nil {
				return err
			}
		}
		for _, child := range p.Properties {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	for _, d := range descriptors {
		for _, p := range d.Schema.Properties {
			if err := walk(p); err != nil {
				return nil, fmt.Errorf("tool %s: %w", d.Name, err)
			}
		}
	}
	return v, nil
}

// parseArguments decodes a JSON object keeping numbers exact.
func parseArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, argErr("", "expected a JSON object: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// validateObject checks required fields and the type of every declared field.
// Elements of object arrays are left to the tool handler so one bad element
// does not reject its siblings.
func (v *validator) validateObject(path string, props map[string]domain.Property, required []string, args map[string]any) error {
	for _, name := range required {
		val, ok := args[name]
		if !ok || val == nil {
			return argErr(joinPath(path, name), "is required")
		}
	}
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, ok := props[name]
		if !ok || args[name] == nil {
			continue
		}
		if err := v.validateValue(joinPath(path, name), prop, args[name]); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) validateValue(path string, prop domain.Property, val any) error {
	switch prop.Type {
	case "string":
		s, ok := val.(string)
		if !ok {
			return argErr(path, "expected string")
		}
		if len(prop.Enum) > 0 && !slices.Contains(prop.Enum, s) {
			return argErr(path, "must be one of %s", strings.Join(prop.Enum, ", "))
		}
		if re := v.patterns[prop.Pattern]; re != nil && !re.MatchString(s) {
			return argErr(path, "does not match %s", prop.Pattern)
		}
	case "number":
		if _, err := toDecimal(val); err != nil {
			return argErr(path, "expected number")
		}
	case "integer":
		n, ok := val.(json.Number)
		if !ok {
			return argErr(path, "expected integer")
		}
		if _, err := n.Int64(); err != nil {
			return argErr(path, "expected integer")
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return argErr(path, "expected boolean")
		}
	case "array":
		list, ok := val.([]any)
		if !ok {
			return argErr(path, "expected array")
		}
		if prop.Items != nil && prop.Items.Type != "object" {
			for i, el := range list {
				if err := v.validateValue(fmt.Sprintf("%s[%d]", path, i), *prop.Items, el); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := val.(map[string]any)
		if !ok {
			return argErr(path, "expected object")
		}
		return v.validateObject(path, prop.Properties, prop.Required, obj)
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// toDecimal accepts only JSON numbers, never strings.
func toDecimal(val any) (decimal.Decimal, error) {
	switch n := val.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	default:
		return decimal.Zero, errors.New("not a number")
	}
}

func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	if _, ok := data.(decimal.Decimal); ok {
		return data, nil
	}
	return toDecimal(data)
}

// decodeArgs copies validated arguments into a typed struct.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.DecodeHookFuncType(decimalHook),
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return argErr("", "%v", err)
	}
	return nil
}
