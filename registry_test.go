package docstore

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"
)

type captureLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *captureLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, level+" "+msg)
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }

func (l *captureLogger) count(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, msg := range l.messages {
		if msg == entry {
			n++
		}
	}
	return n
}

type celsius float64

func celsiusSerializer(t *testing.T, name string) *Serializer {
	t.Helper()
	s, err := SerializerFor(name,
		func(c celsius) (string, error) { return strconv.FormatFloat(float64(c), 'f', -1, 64), nil },
		func(repr string) (celsius, error) {
			f, err := strconv.ParseFloat(repr, 64)
			return celsius(f), err
		},
	)
	if err != nil {
		t.Fatalf("SerializerFor: %v", err)
	}
	return s
}

func TestDefaultRegistryResolvesBuiltins(t *testing.T) {
	registry := DefaultRegistry()
	cases := map[string]any{
		HandlerDatetime:   time.Now(),
		HandlerDuration:   time.Second,
		HandlerTimedelta:  NewTimedelta(1, 0, 0),
		HandlerFixedInt:   uint16(3),
		HandlerFixedFloat: float32(1.5),
		HandlerSequence:   []string{"a"},
		HandlerStringMap:  map[string]int{"a": 1},
	}
	for want, value := range cases {
		handler, err := registry.Resolve(value)
		if err != nil {
			t.Fatalf("Resolve(%T): %v", value, err)
		}
		if handler.Name() != want {
			t.Fatalf("Resolve(%T) = %q, want %q", value, handler.Name(), want)
		}
	}
	if DefaultRegistry() != registry {
		t.Fatalf("expected DefaultRegistry to be shared")
	}
}

func TestRegistryResolvesExactTypeOnly(t *testing.T) {
	type stamp time.Time
	_, err := DefaultRegistry().ResolveByType(reflect.TypeFor[stamp]())
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType for derived type, got %v", err)
	}
	var typeErr *UnknownTypeError
	if !errors.As(err, &typeErr) || typeErr.Type != reflect.TypeFor[stamp]() {
		t.Fatalf("expected UnknownTypeError naming the type, got %#v", err)
	}
}

func TestRegistryLastClaimWins(t *testing.T) {
	logger := &captureLogger{}
	registry, err := NewRegistry(
		WithHandlers(celsiusSerializer(t, "celsius_a"), celsiusSerializer(t, "celsius_b")),
		WithRegistryLogger(logger),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	name, err := registry.ResolveByType(reflect.TypeFor[celsius]())
	if err != nil || name != "celsius_b" {
		t.Fatalf("expected later handler to win, got %q (%v)", name, err)
	}
	if _, err := registry.ResolveByName("celsius_a"); err != nil {
		t.Fatalf("expected shadowed handler to stay resolvable by name: %v", err)
	}
	if logger.count("warn type claim shadowed") != 1 {
		t.Fatalf("expected one shadowing warning, got %v", logger.messages)
	}
}

func TestRegistryNameReplacementDropsOldClaims(t *testing.T) {
	first, _ := ConverterFor("numbers", func(v int8) (any, error) { return int64(v), nil })
	second, _ := ConverterFor("numbers", func(v int16) (any, error) { return int64(v), nil })
	registry, err := NewRegistry(WithHandlers(first, second))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := registry.ResolveByType(reflect.TypeFor[int8]()); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected int8 claim to be dropped, got %v", err)
	}
	if name, err := registry.ResolveByType(reflect.TypeFor[int16]()); err != nil || name != "numbers" {
		t.Fatalf("expected int16 to resolve to numbers, got %q (%v)", name, err)
	}
}

func TestRegistryStrictConflicts(t *testing.T) {
	_, err := NewRegistry(
		WithHandlers(celsiusSerializer(t, "celsius_a"), celsiusSerializer(t, "celsius_b")),
		WithStrictConflicts(true),
	)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	_, err = NewRegistry(
		WithHandlers(celsiusSerializer(t, "celsius"), celsiusSerializer(t, "celsius")),
		WithStrictConflicts(true),
	)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}

func TestRegistryUnknownName(t *testing.T) {
	_, err := DefaultRegistry().ResolveByName("missing")
	if !errors.Is(err, ErrUnknownHandler) {
		t.Fatalf("expected ErrUnknownHandler, got %v", err)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	names := DefaultRegistry().Names()
	want := []string{
		HandlerDataframe, HandlerDatetime, HandlerDuration, HandlerFixedFloat,
		HandlerFixedInt, HandlerSequence, HandlerStringMap, HandlerTimedelta,
	}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("unexpected names %v", names)
	}
	if got := len(DefaultRegistry().Handlers()); got != len(want) {
		t.Fatalf("expected %d handlers, got %d", len(want), got)
	}
}

func TestHandlerValidation(t *testing.T) {
	encode := func(any) (string, error) { return "", nil }
	decode := func(string) (any, error) { return nil, nil }

	if _, err := NewSerializer("", encode, decode, reflect.TypeFor[int]()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected empty name to be rejected, got %v", err)
	}
	if _, err := NewSerializer("none", encode, decode); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected missing types to be rejected, got %v", err)
	}
	if _, err := NewSerializer("nil_decode", encode, nil, reflect.TypeFor[int]()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected missing decode to be rejected, got %v", err)
	}
	if _, err := NewConverter("nil_convert", nil, reflect.TypeFor[int]()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected missing convert to be rejected, got %v", err)
	}
}

func TestRegistryRejectsNilHandlers(t *testing.T) {
	if _, err := NewRegistry(WithHandlers((*Serializer)(nil))); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected nil serializer to be rejected, got %v", err)
	}
	if _, err := NewRegistry(WithHandlers(Builtins()[0], (*Converter)(nil))); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected nil converter to be rejected, got %v", err)
	}
	r, err := NewRegistry(WithHandlers(nil))
	if err != nil {
		t.Fatalf("expected untyped nil to be skipped, got %v", err)
	}
	if len(r.Names()) != 0 {
		t.Fatalf("expected empty registry, got %v", r.Names())
	}
}
