package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goliatone/go-docstore/frame"
)

// roundTrip stores value under one key in format and returns what loads back.
func roundTrip(t *testing.T, format Format, value any) any {
	t.Helper()
	doc := NewDocument(WithFormat(format))
	data, err := doc.Dump(MapOf("v", value))
	if err != nil {
		t.Fatalf("%s: Dump(%#v): %v", format, value, err)
	}
	tree, err := doc.Parse(data)
	if err != nil {
		t.Fatalf("%s: Parse: %v\n%s", format, err, data)
	}
	got, _ := tree.(*Map).Get("v")
	return got
}

func TestDatetimeRoundTrip(t *testing.T) {
	cases := map[string]time.Time{
		"utc nanos":           time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC),
		"positive offset":     time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("IST", 5*3600+1800)),
		"negative offset":     time.Date(1999, 12, 31, 23, 59, 59, 999, time.FixedZone("", -3*3600)),
		"zero value":          {},
		"year zero":           time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC),
		"last representable":  time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC),
		"local mean time":     time.Date(1900, 1, 1, 12, 0, 0, 0, time.FixedZone("LMT", 19*60+32)),
		"negative second lmt": time.Date(1880, 6, 1, 0, 0, 0, 0, time.FixedZone("LMT", -(4*3600 + 56*60 + 2))),
		"monotonic reading":   time.Now(),
	}
	for name, want := range cases {
		for _, format := range allFormats {
			got, ok := roundTrip(t, format, want).(time.Time)
			if !ok || !got.Equal(want) {
				t.Fatalf("%s/%s: got %v, want %v", name, format, got, want)
			}
			if _, offset := want.Zone(); offset%60 == 0 {
				if _, gotOffset := got.Zone(); gotOffset != offset {
					t.Fatalf("%s/%s: offset %d, want %d", name, format, gotOffset, offset)
				}
			}
		}
	}
}

func TestDatetimeRejectsYearsWithoutRFC3339Form(t *testing.T) {
	for _, when := range []time.Time{
		time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(-1, 12, 31, 0, 0, 0, 0, time.UTC),
	} {
		_, err := NewDocument().Dump(MapOf("when", when))
		var encErr *EncodeError
		if !errors.As(err, &encErr) || encErr.Handler != HandlerDatetime {
			t.Fatalf("expected datetime EncodeError for %v, got %v", when, err)
		}
	}

	ctx := context.Background()
	store := newFileStore(t, "far.json")
	if _, err := store.Save(ctx, MapOf("when", time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))); err == nil {
		t.Fatalf("expected save of year 10000 to fail")
	}
	if store.Exists(ctx) {
		t.Fatalf("failed save created the document")
	}
}

func TestFormatTimeWritesSubMinuteOffsetsAsUTC(t *testing.T) {
	lmt := time.Date(1900, 1, 1, 12, 0, 0, 0, time.FixedZone("LMT", 19*60+32))
	repr, err := FormatTime(lmt)
	if err != nil {
		t.Fatalf("FormatTime: %v", err)
	}
	if repr != "1900-01-01T11:40:28Z" {
		t.Fatalf("unexpected repr %q", repr)
	}
	repr, err = FormatTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("", 3600)))
	if err != nil || repr != "2024-01-02T03:04:05+01:00" {
		t.Fatalf("expected offset kept, got %q (%v)", repr, err)
	}
}

func TestTimedeltaRoundTrip(t *testing.T) {
	cases := []Timedelta{
		{},
		{Seconds: 90000},
		{Days: -1},
		{Seconds: -5, Microseconds: -7},
		{Days: 3, Seconds: 86399, Microseconds: 999999},
		{Microseconds: 5_000_000},
		{Days: math.MaxInt64, Seconds: math.MinInt64, Microseconds: math.MaxInt64},
		NewTimedelta(0, -1, 0),
	}
	for _, want := range cases {
		for _, format := range allFormats {
			if got := roundTrip(t, format, want); got != want {
				t.Fatalf("%s: got %#v, want %#v", format, got, want)
			}
		}
	}
}

func TestDurationRoundTrip(t *testing.T) {
	cases := []time.Duration{
		0,
		time.Nanosecond,
		-time.Nanosecond,
		1500 * time.Millisecond,
		-90 * time.Minute,
		math.MaxInt64,
		math.MinInt64,
	}
	for _, want := range cases {
		for _, format := range allFormats {
			if got := roundTrip(t, format, want); got != want {
				t.Fatalf("%s: got %#v, want %v", format, got, want)
			}
		}
	}
}

func TestDataframeRoundTripCellTypes(t *testing.T) {
	when := time.Date(2024, 2, 29, 10, 0, 0, 0, time.FixedZone("", -5*3600))
	cases := map[string][][]any{
		"natives":   {{int64(1), 2.5, "x", true, nil}},
		"unsigned":  {{uint(7), uint64(math.MaxUint64), uint64(3), uintptr(9), uint8(1)}},
		"datetimes": {{when, time.Date(1900, 1, 1, 12, 0, 0, 0, time.FixedZone("LMT", 19*60+32)), nil, "", int64(0)}},
		"durations": {{90 * time.Second, NewTimedelta(-1, 5, 0), Timedelta{Seconds: 90000}, time.Duration(math.MinInt64), float32(0.1)}},
		"nested":    {{MapOf("k", "v"), []any{int64(1), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}, "s", nil, int8(-3)}},
	}
	columns := []string{"a", "b", "c", "d", "e"}
	for name, rows := range cases {
		want, err := frame.New(columns, nil, rows)
		if err != nil {
			t.Fatalf("%s: frame.New: %v", name, err)
		}
		for _, format := range allFormats {
			got, ok := roundTrip(t, format, want).(*frame.Frame)
			if !ok {
				t.Fatalf("%s/%s: expected frame, got %T", name, format, got)
			}
			if !TreeEqual(got, want) {
				t.Fatalf("%s/%s: round trip mismatch\n got: %#v\nwant: %#v", name, format, got.Rows(), want.Rows())
			}
		}
	}
}

func TestDataframeUnsignedCellsWiden(t *testing.T) {
	f, err := frame.New([]string{"n"}, nil, [][]any{{uint64(math.MaxUint64)}, {uint(4)}})
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	if cell, _ := f.Cell(0, 0); cell != json.Number("18446744073709551615") {
		t.Fatalf("expected exact decimal for large unsigned, got %#v", cell)
	}
	if cell, _ := f.Cell(1, 0); cell != int64(4) {
		t.Fatalf("expected int64, got %#v", cell)
	}
}

func TestDataframeRejectsUnstorableCells(t *testing.T) {
	type opaque struct{ X int }
	inner, _ := frame.New([]string{"a"}, nil, [][]any{{int64(1)}})
	for name, cell := range map[string]any{"opaque": opaque{X: 1}, "nested frame": inner} {
		f, err := frame.New([]string{"a"}, nil, [][]any{{cell}})
		if err != nil {
			t.Fatalf("%s: frame.New: %v", name, err)
		}
		_, err = NewDocument().Dump(MapOf("table", f))
		var encErr *EncodeError
		if !errors.As(err, &encErr) || encErr.Handler != HandlerDataframe || !errors.Is(err, ErrUnknownType) {
			t.Fatalf("%s: expected dataframe EncodeError wrapping ErrUnknownType, got %v", name, err)
		}
	}
}
