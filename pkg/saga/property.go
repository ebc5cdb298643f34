// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package saga

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ReadProperty returns the value of the named property of an entity. The name
// matches a struct field name case-insensitively or its json tag.
func ReadProperty(entity Entity, name string) (interface{}, error) {
	field, err := propertyField(entity, name)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// SetProperty assigns value to the named property of an entity, converting
// it from its invariant string form when the types differ.
func SetProperty(entity Entity, name string, value interface{}) error {
	field, err := propertyField(entity, name)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return NewConfigurationError(fmt.Sprintf("property '%s' of %T cannot be set", name, entity))
	}

	converted, err := convertValue(value, field.Type())
	if err != nil {
		return NewConfigurationError(fmt.Sprintf("property '%s' of %T: %v", name, entity, err))
	}
	field.Set(converted)
	return nil
}

func propertyField(entity Entity, name string) (reflect.Value, error) {
	if entity == nil {
		return reflect.Value{}, NewConfigurationError("entity is nil")
	}
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, NewConfigurationError("entity is nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, NewConfigurationError(fmt.Sprintf("entity %T is not a struct", entity))
	}

	if field, ok := findField(v, name); ok {
		return field, nil
	}
	return reflect.Value{}, NewConfigurationError(fmt.Sprintf("entity %T has no property '%s'", entity, name))
}

// findField searches top-level fields first and then embedded structs.
func findField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			embedded = append(embedded, v.Field(i))
		}
		tag := strings.Split(sf.Tag.Get("json"), ",")[0]
		if strings.EqualFold(sf.Name, name) || (tag != "" && tag != "-" && strings.EqualFold(tag, name)) {
			return v.Field(i), true
		}
	}
	for _, e := range embedded {
		if field, ok := findField(e, name); ok {
			return field, true
		}
	}
	return reflect.Value{}, false
}

func convertValue(value interface{}, target reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(target), nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}

	text := fmt.Sprint(value)

	if reflect.PointerTo(target).Implements(reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()) {
		ptr := reflect.New(target)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(text)); err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	}

	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		out.SetString(text)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, target.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, target.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, target.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	default:
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", value, target)
	}
	return out, nil
}
