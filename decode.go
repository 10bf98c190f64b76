package docstore

import (
	"context"

	"github.com/goliatone/go-docstore/internal/hydrate"
)

// Decode hydrates a document tree into T through its JSON shape. Decoded
// times and nested mappings land in matching struct fields.
func Decode[T any](tree any) (T, error) {
	return hydrate.NewDecoder[T]().Decode(hydrate.Context{}, Plain(tree))
}

// LoadAs loads the store's document and decodes it into T. Unknown document
// keys are rejected when strict is true.
func LoadAs[T any](ctx context.Context, store *Store, strict bool) (T, error) {
	var zero T
	tree, err := store.Load(ctx)
	if err != nil {
		return zero, err
	}
	var opts []hydrate.DecoderOption[T]
	if strict {
		opts = append(opts, hydrate.WithDisallowUnknownFields[T]())
	}
	hctx := hydrate.Context{Path: store.Path(), Format: string(store.Document().Format())}
	value, err := hydrate.NewDecoder[T](opts...).Decode(hctx, Plain(tree))
	if err != nil {
		return zero, wrapDeserializeError(store.Path(), err)
	}
	return value, nil
}
