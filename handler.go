package docstore

import (
	"fmt"
	"reflect"
)

// Handler is the conversion logic bound to one or more concrete types. It has
// exactly two implementations: *Serializer (reversible, wrapped in an
// envelope) and *Converter (irreversible, narrowed to a native value).
type Handler interface {
	// Name is the tag written into envelopes and used for lookups.
	Name() string
	// Types lists the concrete types the handler claims.
	Types() []reflect.Type

	sealed()
}

// Serializer converts a value to an opaque string and back. Decode must be
// the exact inverse of Encode for every value of the claimed types.
type Serializer struct {
	name   string
	types  []reflect.Type
	encode func(any) (string, error)
	decode func(string) (any, error)
}

// Converter narrows a value into something the document format represents
// natively. There is no way back: the original type is lost on load.
type Converter struct {
	name    string
	types   []reflect.Type
	convert func(any) (any, error)
}

// NewSerializer builds a reversible handler claiming types.
func NewSerializer(name string, encode func(any) (string, error), decode func(string) (any, error), types ...reflect.Type) (*Serializer, error) {
	if err := validateHandler(name, types); err != nil {
		return nil, err
	}
	if encode == nil || decode == nil {
		return nil, configError("serializer "+name, "encode and decode are required")
	}
	return &Serializer{
		name:   name,
		types:  append([]reflect.Type(nil), types...),
		encode: encode,
		decode: decode,
	}, nil
}

// SerializerFor builds a reversible handler claiming exactly T.
func SerializerFor[T any](name string, encode func(T) (string, error), decode func(string) (T, error)) (*Serializer, error) {
	if encode == nil || decode == nil {
		return nil, configError("serializer "+name, "encode and decode are required")
	}
	return NewSerializer(name,
		func(value any) (string, error) {
			typed, ok := value.(T)
			if !ok {
				return "", fmt.Errorf("expected %s, got %T", reflect.TypeFor[T](), value)
			}
			return encode(typed)
		},
		func(repr string) (any, error) {
			return decode(repr)
		},
		reflect.TypeFor[T](),
	)
}

// NewConverter builds an irreversible handler claiming types.
func NewConverter(name string, convert func(any) (any, error), types ...reflect.Type) (*Converter, error) {
	if err := validateHandler(name, types); err != nil {
		return nil, err
	}
	if convert == nil {
		return nil, configError("converter "+name, "convert is required")
	}
	return &Converter{
		name:    name,
		types:   append([]reflect.Type(nil), types...),
		convert: convert,
	}, nil
}

// ConverterFor builds an irreversible handler claiming exactly T.
func ConverterFor[T any](name string, convert func(T) (any, error)) (*Converter, error) {
	if convert == nil {
		return nil, configError("converter "+name, "convert is required")
	}
	return NewConverter(name, func(value any) (any, error) {
		typed, ok := value.(T)
		if !ok {
			return nil, fmt.Errorf("expected %s, got %T", reflect.TypeFor[T](), value)
		}
		return convert(typed)
	}, reflect.TypeFor[T]())
}

func (s *Serializer) Name() string { return s.name }

func (s *Serializer) Types() []reflect.Type { return append([]reflect.Type(nil), s.types...) }

// Encode returns the payload stored in the envelope.
func (s *Serializer) Encode(value any) (string, error) {
	return s.encode(value)
}

// Decode rebuilds a value from an envelope payload.
func (s *Serializer) Decode(repr string) (any, error) {
	return s.decode(repr)
}

func (*Serializer) sealed() {}

func (c *Converter) Name() string { return c.name }

func (c *Converter) Types() []reflect.Type { return append([]reflect.Type(nil), c.types...) }

// Convert returns the native replacement for value.
func (c *Converter) Convert(value any) (any, error) {
	return c.convert(value)
}

func (*Converter) sealed() {}

func validateHandler(name string, types []reflect.Type) error {
	if name == "" {
		return configError("handler", "name must not be empty")
	}
	if len(types) == 0 {
		return configError("handler "+name, "must claim at least one type")
	}
	for _, t := range types {
		if t == nil {
			return configError("handler "+name, "claimed type must not be nil")
		}
	}
	return nil
}
