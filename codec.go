package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Reserved envelope keys.
const (
	EnvelopeTypeKey = "__type__"
	EnvelopeReprKey = "repr"
)

// Codec holds the encode and decode hooks applied while a document tree is
// written or read. It consults a Registry and holds no other state.
type Codec struct {
	registry *Registry
}

// NewCodec returns a codec bound to registry, or to DefaultRegistry when nil.
func NewCodec(registry *Registry) *Codec {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Codec{registry: registry}
}

// Registry returns the registry the codec resolves against.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode returns a copy of value made only of native document values:
// nil, bool, string, int64, float64, json.Number, []any, and *Map.
// Converter output is encoded again; Serializer output becomes an envelope.
func (c *Codec) Encode(value any) (any, error) {
	return c.encode(value, nil)
}

// encode carries chain, the converters applied so far to this one value, to
// stop conversion cycles. Container elements start a fresh chain.
func (c *Codec) encode(value any, chain []string) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, int64, float64, json.Number:
		return v, nil
	case int:
		return int64(v), nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			encoded, err := c.Encode(item)
			if err != nil {
				return nil, err
			}
			out[i] = encoded
		}
		return out, nil
	case *Map:
		if v == nil {
			return nil, nil
		}
		out := &Map{keys: make([]string, 0, v.Len()), values: make(map[string]any, v.Len())}
		var err error
		v.Range(func(key string, item any) bool {
			var encoded any
			encoded, err = c.Encode(item)
			if err != nil {
				err = fmt.Errorf("key %q: %w", key, err)
				return false
			}
			out.Set(key, encoded)
			return true
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	case map[string]any:
		return c.Encode(mapFromGo(v))
	}
	return c.encodeForeign(value, chain)
}

func (c *Codec) encodeForeign(value any, chain []string) (any, error) {
	handler, err := c.registry.Resolve(value)
	if err != nil {
		return nil, err
	}
	valueType := reflect.TypeOf(value)
	switch h := handler.(type) {
	case *Converter:
		if slices.Contains(chain, h.Name()) {
			return nil, &EncodeError{Handler: h.Name(), Type: valueType, Err: fmt.Errorf("conversion cycle %s -> %s", strings.Join(chain, " -> "), h.Name())}
		}
		converted, err := h.Convert(value)
		if err != nil {
			return nil, &EncodeError{Handler: h.Name(), Type: valueType, Err: err}
		}
		if reflect.TypeOf(converted) == valueType {
			return nil, &EncodeError{Handler: h.Name(), Type: valueType, Err: fmt.Errorf("converter returned its input type")}
		}
		return c.encode(converted, append(slices.Clip(chain), h.Name()))
	case *Serializer:
		repr, err := h.Encode(value)
		if err != nil {
			return nil, &EncodeError{Handler: h.Name(), Type: valueType, Err: err}
		}
		return MapOf(EnvelopeTypeKey, h.Name(), EnvelopeReprKey, repr), nil
	default:
		return nil, &UnknownTypeError{Type: valueType}
	}
}

// Decode walks a parsed tree bottom-up and replaces every envelope, whether
// it is a mapping value, a sequence element, or the root itself, with the
// value its handler decodes.
func (c *Codec) Decode(tree any) (any, error) {
	switch v := tree.(type) {
	case *Map:
		if err := c.DecodeMap(v); err != nil {
			return nil, err
		}
		if isEnvelope(v) {
			return c.open(v)
		}
		return v, nil
	case []any:
		for i, item := range v {
			decoded, err := c.Decode(item)
			if err != nil {
				return nil, err
			}
			v[i] = decoded
		}
		return v, nil
	default:
		return tree, nil
	}
}

// DecodeMap replaces, in place, every value of m that is an envelope.
// Nested mappings and sequences are processed first.
func (c *Codec) DecodeMap(m *Map) error {
	for _, key := range m.keys {
		value := m.values[key]
		switch v := value.(type) {
		case *Map:
			if err := c.DecodeMap(v); err != nil {
				return err
			}
			if isEnvelope(v) {
				decoded, err := c.open(v)
				if err != nil {
					return err
				}
				m.values[key] = decoded
			}
		case []any:
			decoded, err := c.Decode(v)
			if err != nil {
				return err
			}
			m.values[key] = decoded
		}
	}
	return nil
}

func isEnvelope(m *Map) bool {
	return m.Has(EnvelopeTypeKey) && m.Has(EnvelopeReprKey)
}

func (c *Codec) open(envelope *Map) (any, error) {
	rawTag, _ := envelope.Get(EnvelopeTypeKey)
	rawRepr, _ := envelope.Get(EnvelopeReprKey)
	tag, tagOK := rawTag.(string)
	repr, reprOK := rawRepr.(string)
	if !tagOK || !reprOK || envelope.Len() != 2 {
		return nil, &DeserializeError{
			Tag:  fmt.Sprint(rawTag),
			Repr: fmt.Sprint(rawRepr),
			Err:  fmt.Errorf("malformed envelope with keys %v", envelope.Keys()),
		}
	}
	handler, err := c.registry.ResolveByName(tag)
	if err != nil {
		return nil, &DeserializeError{Tag: tag, Repr: repr, Err: err}
	}
	serializer, ok := handler.(*Serializer)
	if !ok {
		return nil, &DeserializeError{Tag: tag, Repr: repr, Err: fmt.Errorf("handler %q cannot decode", tag)}
	}
	value, err := serializer.Decode(repr)
	if err != nil {
		return nil, &DeserializeError{Tag: tag, Repr: repr, Err: err}
	}
	return value, nil
}
