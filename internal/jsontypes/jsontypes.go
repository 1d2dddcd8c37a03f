// Package jsontypes supports decoding for interface types whose concrete
// implementations need to be stored as JSON. To do this, concrete values are
// packaged in wrapper objects having the form:
//
//	{
//	  "type": "<type-tag>",
//	  "value": <json-encoding-of-value>
//	}
//
// The bus moves protocol messages in this form, so a receiver can decode the
// variant once at the boundary and dispatch on its concrete type.
package jsontypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// The Tagged interface must be implemented by a type in order to register it
// with the jsontypes package. The TypeTag method returns a string label that
// is used to distinguish objects of that type.
type Tagged interface {
	TypeTag() string
}

// registry records the mapping from type tags to value types.
var registry = struct {
	mtx   sync.RWMutex
	types map[string]reflect.Type
}{types: make(map[string]reflect.Type)}

// register adds v to the type registry. It reports an error if the tag
// returned by v is already registered.
func register(v Tagged) error {
	registry.mtx.Lock()
	defer registry.mtx.Unlock()

	tag := v.TypeTag()
	if t, ok := registry.types[tag]; ok {
		return fmt.Errorf("type tag %q already registered to %v", tag, t)
	}
	registry.types[tag] = reflect.TypeOf(v)
	return nil
}

// MustRegister adds v to the type registry. It will panic if the tag returned
// by v is already registered. This function is meant for use during program
// initialization.
func MustRegister(v Tagged) {
	if err := register(v); err != nil {
		panic(err)
	}
}

func lookup(tag string) (reflect.Type, bool) {
	registry.mtx.RLock()
	defer registry.mtx.RUnlock()
	t, ok := registry.types[tag]
	return t, ok
}

type wrapper struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Marshal marshals a JSON wrapper object containing v. If v == nil, Marshal
// returns the JSON "null" value without error.
func Marshal(v Tagged) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapper{
		Type:  v.TypeTag(),
		Value: data,
	})
}

// Unmarshal unmarshals a JSON wrapper object into v. It reports an error if
// the data do not encode a valid wrapper object, if the wrapper's tag is not
// recognized, or if the resulting value is not compatible with the type of v.
//
// If v points to an interface, the registered concrete type is constructed and
// assigned to it; otherwise the wrapped value is decoded directly into v.
func Unmarshal(data []byte, v interface{}) error {
	// Verify that the target is some kind of pointer.
	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Ptr {
		return fmt.Errorf("target %T is not a pointer", v)
	} else if target.IsZero() {
		return fmt.Errorf("target is a nil %T", v)
	}

	var w wrapper
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("invalid type wrapper: %w", err)
	}
	if w.Type == "" {
		return errors.New("missing type tag")
	}
	typ, ok := lookup(w.Type)
	if !ok {
		return fmt.Errorf("unknown type tag %q", w.Type)
	}

	if target.Elem().Kind() != reflect.Interface {
		return json.Unmarshal(w.Value, v)
	}

	var obj reflect.Value
	if typ.Kind() == reflect.Ptr {
		obj = reflect.New(typ.Elem())
		if err := json.Unmarshal(w.Value, obj.Interface()); err != nil {
			return fmt.Errorf("decoding %q: %w", w.Type, err)
		}
	} else {
		ptr := reflect.New(typ)
		if err := json.Unmarshal(w.Value, ptr.Interface()); err != nil {
			return fmt.Errorf("decoding %q: %w", w.Type, err)
		}
		obj = ptr.Elem()
	}

	if !obj.Type().AssignableTo(target.Elem().Type()) {
		return fmt.Errorf("type %v is not assignable to %v", obj.Type(), target.Elem().Type())
	}
	target.Elem().Set(obj)
	return nil
}
