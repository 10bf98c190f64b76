package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-docstore/frame"
)

// Names of the built-in handlers as written into envelopes.
const (
	HandlerDatetime   = "datetime"
	HandlerTimedelta  = "timedelta"
	HandlerDuration   = "duration"
	HandlerDataframe  = "dataframe"
	HandlerFixedInt   = "fixed_int"
	HandlerFixedFloat = "fixed_float"
	HandlerSequence   = "sequence"
	HandlerStringMap  = "string_map"
)

// Builtins returns fresh instances of the built-in handlers. Converters come
// first so a caller appending its own handlers overrides them.
func Builtins() []Handler {
	return append(cellHandlers(), dataframeSerializer())
}

// cellHandlers are the built-ins a dataframe cell may use.
func cellHandlers() []Handler {
	return []Handler{
		fixedIntConverter(),
		fixedFloatConverter(),
		sequenceConverter(),
		stringMapConverter(),
		datetimeSerializer(),
		timedeltaSerializer(),
		durationSerializer(),
	}
}

// frameCells encodes and decodes dataframe cells. Frames do not nest, so
// the dataframe serializer is left out.
var frameCells func() *Codec

func init() {
	frameCells = sync.OnceValue(func() *Codec {
		return NewCodec(MustRegistry(WithHandlers(cellHandlers()...)))
	})
}

func must[T Handler](handler T, err error) T {
	if err != nil {
		panic(err)
	}
	return handler
}

func datetimeSerializer() *Serializer {
	return must(SerializerFor(HandlerDatetime, FormatTime, ParseTime))
}

// FormatTime renders t as RFC 3339 with nanoseconds. RFC 3339 offsets have
// minute resolution, so a time whose zone offset has a seconds part (local
// mean time zones before standardization) is written in UTC instead; the
// instant is kept, the zone is not. Years outside 0000-9999 have no RFC 3339
// form and are an error.
func FormatTime(t time.Time) (string, error) {
	if _, offset := t.Zone(); offset%60 != 0 {
		t = t.UTC()
	}
	if year := t.Year(); year < 0 || year > 9999 {
		return "", fmt.Errorf("datetime: year %d outside 0000-9999", year)
	}
	return t.Format(time.RFC3339Nano), nil
}

// timeLayouts are tried in order by ParseTime. Layouts without a zone parse
// as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102T150405Z0700",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	"Jan 2 2006 15:04:05",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
}

// ParseTime is a permissive date-time parser accepting RFC 3339, ISO 8601
// variants with or without zone, date-only forms, and the common RFC 822
// family.
func ParseTime(repr string) (time.Time, error) {
	value := strings.TrimSpace(repr)
	if value == "" {
		return time.Time{}, fmt.Errorf("datetime: empty value")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("datetime: unrecognized format %q", repr)
}

func timedeltaSerializer() *Serializer {
	return must(SerializerFor(HandlerTimedelta,
		func(t Timedelta) (string, error) {
			return t.String(), nil
		},
		ParseTimedelta,
	))
}

func durationSerializer() *Serializer {
	return must(SerializerFor(HandlerDuration,
		func(d time.Duration) (string, error) {
			return d.String(), nil
		},
		time.ParseDuration,
	))
}

// dataframeSerializer stores a frame in split orientation:
// {"columns": [...], "index": [...], "data": [[...], ...]}. Cells that are
// not native are written as envelopes inside data.
func dataframeSerializer() *Serializer {
	return must(SerializerFor(HandlerDataframe, encodeFrame, decodeFrame))
}

func encodeFrame(f *frame.Frame) (string, error) {
	if f == nil {
		return "", fmt.Errorf("dataframe: nil frame")
	}
	columns := make([]any, 0, f.NumCols())
	for _, column := range f.Columns() {
		columns = append(columns, column)
	}
	index := make([]any, 0, f.NumRows())
	for _, label := range f.Index() {
		index = append(index, label)
	}
	data := make([]any, 0, f.NumRows())
	for i, row := range f.Rows() {
		encoded, err := frameCells().Encode(row)
		if err != nil {
			return "", fmt.Errorf("dataframe: row %q: %w", f.Index()[i], err)
		}
		data = append(data, encoded)
	}
	var buf bytes.Buffer
	if err := writeJSON(&buf, MapOf("columns", columns, "index", index, "data", data)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func decodeFrame(repr string) (*frame.Frame, error) {
	tree, err := parseJSON([]byte(repr))
	if err != nil {
		return nil, fmt.Errorf("dataframe: %w", err)
	}
	split, ok := tree.(*Map)
	if !ok {
		return nil, fmt.Errorf("dataframe: payload is %T, want mapping", tree)
	}
	columns, err := stringList(split, "columns")
	if err != nil {
		return nil, err
	}
	index, err := stringList(split, "index")
	if err != nil {
		return nil, err
	}
	rawData, _ := split.Get("data")
	rowsAny, ok := rawData.([]any)
	if !ok && rawData != nil {
		return nil, fmt.Errorf("dataframe: data is %T, want sequence", rawData)
	}
	rows := make([][]any, len(rowsAny))
	for i, item := range rowsAny {
		row, ok := item.([]any)
		if !ok {
			return nil, fmt.Errorf("dataframe: row %d is %T, want sequence", i, item)
		}
		if _, err := frameCells().Decode(row); err != nil {
			return nil, fmt.Errorf("dataframe: row %d: %w", i, err)
		}
		rows[i] = row
	}
	return frame.New(columns, index, rows)
}

func stringList(m *Map, key string) ([]string, error) {
	raw, _ := m.Get(key)
	items, ok := raw.([]any)
	if !ok && raw != nil {
		return nil, fmt.Errorf("dataframe: %s is %T, want sequence", key, raw)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("dataframe: %s[%d] is %T, want string", key, i, item)
		}
		out[i] = s
	}
	return out, nil
}

func fixedIntConverter() *Converter {
	return must(NewConverter(HandlerFixedInt, func(value any) (any, error) {
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := rv.Uint()
			if u > math.MaxInt64 {
				return json.Number(strconv.FormatUint(u, 10)), nil
			}
			return int64(u), nil
		default:
			return nil, fmt.Errorf("not an integer: %T", value)
		}
	},
		reflect.TypeFor[int8](),
		reflect.TypeFor[int16](),
		reflect.TypeFor[int32](),
		reflect.TypeFor[uint](),
		reflect.TypeFor[uint8](),
		reflect.TypeFor[uint16](),
		reflect.TypeFor[uint32](),
		reflect.TypeFor[uint64](),
		reflect.TypeFor[uintptr](),
	))
}

func fixedFloatConverter() *Converter {
	return must(NewConverter(HandlerFixedFloat, func(value any) (any, error) {
		f, ok := value.(float32)
		if !ok {
			return nil, fmt.Errorf("not a float32: %T", value)
		}
		// Widen through the shortest decimal so 0.1f stays 0.1.
		return strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	}, reflect.TypeFor[float32]()))
}

func sequenceConverter() *Converter {
	return must(NewConverter(HandlerSequence, func(value any) (any, error) {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("not a sequence: %T", value)
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	},
		reflect.TypeFor[[]int](),
		reflect.TypeFor[[]int32](),
		reflect.TypeFor[[]int64](),
		reflect.TypeFor[[]uint32](),
		reflect.TypeFor[[]uint64](),
		reflect.TypeFor[[]float32](),
		reflect.TypeFor[[]float64](),
		reflect.TypeFor[[]string](),
		reflect.TypeFor[[]bool](),
		reflect.TypeFor[[]time.Time](),
		reflect.TypeFor[[]map[string]any](),
		reflect.TypeFor[[]*Map](),
		reflect.TypeFor[[][]any](),
	))
}

func stringMapConverter() *Converter {
	return must(NewConverter(HandlerStringMap, func(value any) (any, error) {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("not a string keyed map: %T", value)
		}
		plain := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			plain[iter.Key().String()] = iter.Value().Interface()
		}
		return mapFromGo(plain), nil
	},
		reflect.TypeFor[map[string]string](),
		reflect.TypeFor[map[string]int](),
		reflect.TypeFor[map[string]int64](),
		reflect.TypeFor[map[string]float64](),
		reflect.TypeFor[map[string]bool](),
		reflect.TypeFor[map[string][]any](),
		reflect.TypeFor[map[string]*Map](),
	))
}
