package record

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Overrides maps field names to new values.
// Values may be Go integers, bools, Direction or strings which are parsed
// according to the type of the field.
type Overrides map[string]interface{}

// Keys returns the sorted field names.
func (o Overrides) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateConfig checks all overrides can be applied to a ConfigRecord.
func (o Overrides) ValidateConfig() error {
	_, err := configSchema.resolve(o)
	return err
}

// ValidateState checks all overrides can be applied to a StateRecord.
func (o Overrides) ValidateState() error {
	_, err := stateSchema.resolve(o)
	return err
}

// ApplyConfig merges overrides onto rec.
// rec is left untouched if any override is invalid.
func ApplyConfig(rec *ConfigRecord, o Overrides) error {
	return configSchema.apply(reflect.ValueOf(rec).Elem(), o)
}

// ApplyState merges overrides onto rec.
// rec is left untouched if any override is invalid.
func ApplyState(rec *StateRecord, o Overrides) error {
	return stateSchema.apply(reflect.ValueOf(rec).Elem(), o)
}

type resolved struct {
	field *fieldInfo
	value reflect.Value
}

func (s *schema) apply(rv reflect.Value, o Overrides) error {
	values, err := s.resolve(o)
	if err != nil {
		return err
	}
	for _, r := range values {
		rv.Field(r.field.index).Set(r.value)
	}
	return nil
}

func (s *schema) resolve(o Overrides) ([]resolved, error) {
	values := make([]resolved, 0, len(o))
	for _, name := range o.Keys() {
		f := s.byName[name]
		if f == nil {
			return nil, &FieldError{Record: s.name, Field: name, Reason: "unknown field"}
		}
		if name == "version" || s.devOnly[name] {
			return nil, &FieldError{Record: s.name, Field: name, Reason: "read-only"}
		}
		val, err := f.convert(s.typ.Field(f.index).Type, o[name])
		if err != nil {
			return nil, &FieldError{Record: s.name, Field: name, Reason: err.Error()}
		}
		values = append(values, resolved{field: f, value: val})
	}
	return values, nil
}

func (f *fieldInfo) convert(t reflect.Type, v interface{}) (reflect.Value, error) {
	switch val := v.(type) {
	case string:
		return f.parse(t, val)
	case Direction:
		if !f.enum {
			return reflect.Value{}, fmt.Errorf("direction not accepted")
		}
		if !val.IsValid() {
			return reflect.Value{}, errDirectionValue
		}
		return reflect.ValueOf(val), nil
	case bool:
		if f.kind != reflect.Bool {
			return reflect.Value{}, fmt.Errorf("bool not accepted")
		}
		return reflect.ValueOf(val), nil
	}
	rv := reflect.ValueOf(v)
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return reflect.Value{}, errValueOutOfRange
		}
		n = int64(u)
	default:
		return reflect.Value{}, fmt.Errorf("unsupported value type %T", v)
	}
	return f.fromInt(t, n)
}

func (f *fieldInfo) fromInt(t reflect.Type, n int64) (reflect.Value, error) {
	switch f.kind {
	case reflect.Uint32:
		if n < 0 || n > math.MaxUint32 {
			return reflect.Value{}, errValueOutOfRange
		}
		return reflect.ValueOf(uint32(n)).Convert(t), nil
	case reflect.Int32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return reflect.Value{}, errValueOutOfRange
		}
		if f.enum && !Direction(n).IsValid() {
			return reflect.Value{}, errDirectionValue
		}
		return reflect.ValueOf(int32(n)).Convert(t), nil
	case reflect.Bool:
		if n != 0 && n != 1 {
			return reflect.Value{}, errValueOutOfRange
		}
		return reflect.ValueOf(n == 1), nil
	}
	return reflect.Value{}, fmt.Errorf("unsupported field kind %v", f.kind)
}

func (f *fieldInfo) parse(t reflect.Type, s string) (reflect.Value, error) {
	switch {
	case f.enum:
		d, err := ParseDirection(s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(d), nil
	case f.kind == reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	case f.kind == reflect.Uint32:
		u, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return reflect.Value{}, err
		}
		return f.fromInt(t, int64(u))
	case f.kind == reflect.Int32:
		n, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return reflect.Value{}, err
		}
		return f.fromInt(t, n)
	}
	return reflect.Value{}, fmt.Errorf("unsupported field kind %v", f.kind)
}
