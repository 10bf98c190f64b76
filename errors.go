package docstore

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrUnknownType is matched by errors raised when a value's concrete type
	// has no registered handler.
	ErrUnknownType = errors.New("docstore: unknown type")
	// ErrUnknownHandler is matched by errors raised when an envelope tag names
	// a handler that was never registered.
	ErrUnknownHandler = errors.New("docstore: unknown handler")
	// ErrDeserialize is matched by every load-path failure.
	ErrDeserialize = errors.New("docstore: deserialize")
	// ErrConfiguration is matched by invalid handler, registry, or sort setup.
	ErrConfiguration = errors.New("docstore: configuration")
	// ErrEmptyInput is returned when Parse receives no input.
	ErrEmptyInput = errors.New("docstore: no input to deserialize")
	// ErrETagMismatch is returned when a save precondition does not match the
	// stored document.
	ErrETagMismatch = errors.New("docstore: etag mismatch")
)

// UnknownTypeError reports a value whose concrete type has no handler.
type UnknownTypeError struct {
	Type reflect.Type
}

func (e *UnknownTypeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("docstore: type %s is not serializable", typeName(e.Type))
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// UnknownHandlerError reports an envelope tag with no registered handler.
type UnknownHandlerError struct {
	Name string
}

func (e *UnknownHandlerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("docstore: no handler registered as %q", e.Name)
}

func (e *UnknownHandlerError) Is(target error) bool {
	return target == ErrUnknownHandler
}

// EncodeError captures a handler failure while encoding a value.
type EncodeError struct {
	Handler string
	Type    reflect.Type
	Err     error
}

func (e *EncodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("docstore: %s handler failed on %s: %v", e.Handler, typeName(e.Type), e.Err)
}

func (e *EncodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DeserializeError wraps any failure on the load path. Path is set when the
// failure happened while loading a stored document, Tag when an envelope
// could not be opened.
type DeserializeError struct {
	Path string
	Tag  string
	Repr string
	Err  error
}

func (e *DeserializeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "docstore: unable to deserialize"
	if e.Path != "" {
		msg += fmt.Sprintf(" %s", e.Path)
	}
	if e.Tag != "" {
		msg += fmt.Sprintf(" object %s with representation %q", e.Tag, e.Repr)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeserializeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *DeserializeError) Is(target error) bool {
	return target == ErrDeserialize
}

// ConfigurationError reports a caller-side setup mistake such as an invalid
// sort option or a conflicting handler registration.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("docstore: configuration: %v", e.Err)
	}
	return fmt.Sprintf("docstore: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configError(op string, format string, args ...any) error {
	return &ConfigurationError{Op: op, Err: fmt.Errorf(format, args...)}
}

// wrapDeserializeError attaches path to err, reusing an existing
// DeserializeError when one is already in the chain.
func wrapDeserializeError(path string, err error) error {
	if err == nil {
		return nil
	}
	var derr *DeserializeError
	if errors.As(err, &derr) {
		if derr.Path == "" {
			derr.Path = path
		}
		return err
	}
	return &DeserializeError{Path: path, Err: err}
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
