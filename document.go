package docstore

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goliatone/go-docstore/pkg/state"
)

// Format names a document encoding.
type Format string

const (
	// FormatJSON is indented JSON; parsing also accepts comments and
	// trailing commas.
	FormatJSON Format = "json"
	// FormatYAML is block-style YAML.
	FormatYAML Format = "yaml"
	// FormatCBOR is binary CBOR (RFC 8949) with definite-length items.
	FormatCBOR Format = "cbor"
)

// DefaultIndent is used by Dump unless WithIndent overrides it.
const DefaultIndent = "  "

// CompressedSuffix marks files stored zstd-compressed.
const CompressedSuffix = state.CompressedSuffix

type formatCodec interface {
	marshal(tree any, indent string) ([]byte, error)
	unmarshal(data []byte) (any, error)
}

func formatCodecFor(format Format) (formatCodec, error) {
	switch format {
	case FormatJSON, "":
		return jsonFormat{}, nil
	case FormatYAML:
		return yamlFormat{}, nil
	case FormatCBOR:
		return cborFormat{}, nil
	default:
		return nil, configError("document", "unsupported format %q", format)
	}
}

// ParseFormat resolves a format name, accepting common aliases.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json", "jsonc", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return "", configError("format", "unknown format %q", name)
	}
}

// FormatForPath picks a format from the file extension, ignoring a trailing
// CompressedSuffix. Unknown extensions fall back to JSON.
func FormatForPath(path string) Format {
	path = strings.TrimSuffix(path, CompressedSuffix)
	if format, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return format
	}
	return FormatJSON
}

// Document turns trees into bytes and back, running the Codec hooks on the
// way. A Document is immutable and safe for concurrent use.
type Document struct {
	codec  *Codec
	format Format
	indent string
	logger Logger
}

// DocumentOption configures a Document.
type DocumentOption func(*Document)

// WithRegistry sets the registry used by the codec hooks.
func WithRegistry(registry *Registry) DocumentOption {
	return func(d *Document) {
		d.codec = NewCodec(registry)
	}
}

// WithFormat selects the encoding.
func WithFormat(format Format) DocumentOption {
	return func(d *Document) {
		d.format = format
	}
}

// WithIndent sets the indentation unit. An empty string produces compact
// JSON.
func WithIndent(indent string) DocumentOption {
	return func(d *Document) {
		d.indent = indent
	}
}

// WithLogger attaches a logger.
func WithLogger(logger Logger) DocumentOption {
	return func(d *Document) {
		d.logger = logger
	}
}

// NewDocument builds a Document. Defaults: DefaultRegistry, FormatJSON,
// DefaultIndent.
func NewDocument(opts ...DocumentOption) *Document {
	d := &Document{
		format: FormatJSON,
		indent: DefaultIndent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.codec == nil {
		d.codec = NewCodec(nil)
	}
	d.logger = loggerOrNoop(d.logger)
	return d
}

// Format returns the document encoding.
func (d *Document) Format() Format {
	return d.format
}

// Registry returns the registry used by the codec hooks.
func (d *Document) Registry() *Registry {
	return d.codec.Registry()
}

// Codec returns the codec used by Dump and Parse.
func (d *Document) Codec() *Codec {
	return d.codec
}

// WithFormat returns a copy of d using format.
func (d *Document) WithFormat(format Format) *Document {
	clone := *d
	clone.format = format
	return &clone
}

// Dump encodes tree. Values the format cannot represent are passed through
// the codec; an unregistered type aborts the whole dump with an error
// matching ErrUnknownType.
func (d *Document) Dump(tree any) ([]byte, error) {
	codec, err := formatCodecFor(d.format)
	if err != nil {
		return nil, err
	}
	native, err := d.codec.Encode(tree)
	if err != nil {
		return nil, err
	}
	out, err := codec.marshal(native, d.indent)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode %s: %w", d.format, err)
	}
	return out, nil
}

// Parse decodes data and replaces every envelope with its decoded value.
// Empty input fails with ErrEmptyInput; malformed input and envelope
// failures fail with an error matching ErrDeserialize.
func (d *Document) Parse(data []byte) (any, error) {
	if len(data) == 0 || (d.format != FormatCBOR && len(bytes.TrimSpace(data)) == 0) {
		return nil, ErrEmptyInput
	}
	codec, err := formatCodecFor(d.format)
	if err != nil {
		return nil, err
	}
	tree, err := codec.unmarshal(data)
	if err != nil {
		if errors.Is(err, ErrEmptyInput) {
			return nil, err
		}
		return nil, &DeserializeError{Err: fmt.Errorf("parse %s: %w", d.format, err)}
	}
	decoded, err := d.codec.Decode(tree)
	if err != nil {
		d.logger.Debug("envelope decode failed", "format", string(d.format), "error", err)
		return nil, err
	}
	return decoded, nil
}
