package docstore

// ShallowMerge folds incoming into existing the way Save does. A mapping
// merged into a mapping overwrites or appends top-level keys and keeps every
// other key in place. A sequence replaces an empty document or an existing
// sequence. Either root merged into a non-empty document of the other kind
// is a ConfigurationError, since no key or element may be dropped silently.
// existing is not modified.
func ShallowMerge(existing, incoming any) (any, error) {
	switch in := incoming.(type) {
	case []any:
		if ex, ok := existing.(*Map); ok && ex.Len() > 0 {
			return nil, configError("merge", "cannot replace a mapping with %d keys by a sequence", ex.Len())
		}
		return in, nil
	case *Map:
		base, err := mergeBase(existing)
		if err != nil {
			return nil, err
		}
		in.Range(func(key string, value any) bool {
			base.Set(key, value)
			return true
		})
		return base, nil
	default:
		return nil, configError("merge", "document root must be a mapping or sequence, got %T", incoming)
	}
}

// DeepMerge is ShallowMerge that recurses into nested mappings present on
// both sides. Every other value from incoming wins.
func DeepMerge(existing, incoming any) (any, error) {
	in, ok := incoming.(*Map)
	if !ok {
		return ShallowMerge(existing, incoming)
	}
	base, err := mergeBase(existing)
	if err != nil {
		return nil, err
	}
	return mergeMaps(base, in), nil
}

func mergeMaps(base, strong *Map) *Map {
	strong.Range(func(key string, value any) bool {
		weak, _ := base.Get(key)
		weakMap, weakOK := weak.(*Map)
		strongMap, strongOK := value.(*Map)
		if weakOK && strongOK {
			base.Set(key, mergeMaps(weakMap, strongMap))
			return true
		}
		base.Set(key, value)
		return true
	})
	return base
}

// mergeBase returns a private copy of existing to merge a mapping into.
func mergeBase(existing any) (*Map, error) {
	switch ex := existing.(type) {
	case nil:
		return NewMap(), nil
	case *Map:
		return ex.Clone(), nil
	case []any:
		if len(ex) == 0 {
			return NewMap(), nil
		}
		return nil, configError("merge", "cannot merge a mapping into an existing sequence")
	default:
		return nil, configError("merge", "existing document root is %T, not a mapping or sequence", existing)
	}
}
