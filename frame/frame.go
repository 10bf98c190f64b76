// Package frame provides a small tabular container: named columns, string
// row labels, and a rectangular grid of cells.
//
// Cells hold document values: natives and any type the document registry
// can store, such as time.Time. Integer and float kinds are widened to int64
// and float64 on construction (unsigned values above MaxInt64 become
// json.Number) so that a frame compares equal to the one rebuilt from its
// serialized form.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// ErrShape reports mismatched column, index, or row lengths.
var ErrShape = errors.New("frame: shape mismatch")

// Frame is an immutable table.
type Frame struct {
	columns []string
	index   []string
	cells   [][]any
}

// Row is any ordered record that can feed FromRows.
type Row interface {
	Keys() []string
	Get(key string) (any, bool)
}

// New builds a frame from explicit columns, row labels, and rows. A nil
// index is replaced by positional labels "0", "1", ...
func New(columns, index []string, rows [][]any) (*Frame, error) {
	if index == nil {
		index = positional(len(rows))
	}
	if len(index) != len(rows) {
		return nil, fmt.Errorf("%w: %d labels for %d rows", ErrShape, len(index), len(rows))
	}
	if dup := firstDuplicate(columns); dup != "" {
		return nil, fmt.Errorf("frame: duplicate column %q", dup)
	}
	cells := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %q has %d cells, want %d", ErrShape, index[i], len(row), len(columns))
		}
		cells[i] = make([]any, len(row))
		for j, cell := range row {
			cells[i][j] = normalizeCell(cell)
		}
	}
	return &Frame{
		columns: append([]string{}, columns...),
		index:   append([]string{}, index...),
		cells:   cells,
	}, nil
}

// FromRows builds a frame whose columns are the union of the row keys in
// first-seen order. Missing cells are nil.
func FromRows(index []string, rows []Row) (*Frame, error) {
	if index == nil {
		index = positional(len(rows))
	}
	if len(index) != len(rows) {
		return nil, fmt.Errorf("%w: %d labels for %d rows", ErrShape, len(index), len(rows))
	}
	var columns []string
	seen := map[string]struct{}{}
	for _, row := range rows {
		for _, key := range row.Keys() {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			columns = append(columns, key)
		}
	}
	grid := make([][]any, len(rows))
	for i, row := range rows {
		grid[i] = make([]any, len(columns))
		for j, column := range columns {
			if value, ok := row.Get(column); ok {
				grid[i][j] = value
			}
		}
	}
	return New(columns, index, grid)
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string { return append([]string{}, f.columns...) }

// Index returns the row labels in order.
func (f *Frame) Index() []string { return append([]string{}, f.index...) }

// NumRows returns the number of rows.
func (f *Frame) NumRows() int { return len(f.index) }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.columns) }

// Cell returns the value at row i, column j.
func (f *Frame) Cell(i, j int) (any, bool) {
	if i < 0 || i >= len(f.cells) || j < 0 || j >= len(f.columns) {
		return nil, false
	}
	return f.cells[i][j], true
}

// Column returns a copy of the named column.
func (f *Frame) Column(name string) ([]any, bool) {
	j := slices.Index(f.columns, name)
	if j < 0 {
		return nil, false
	}
	out := make([]any, len(f.cells))
	for i := range f.cells {
		out[i] = f.cells[i][j]
	}
	return out, true
}

// Row returns a copy of the row labelled label.
func (f *Frame) Row(label string) ([]any, bool) {
	i := slices.Index(f.index, label)
	if i < 0 {
		return nil, false
	}
	return append([]any{}, f.cells[i]...), true
}

// Rows returns a copy of every row in order.
func (f *Frame) Rows() [][]any {
	out := make([][]any, len(f.cells))
	for i, row := range f.cells {
		out[i] = append([]any{}, row...)
	}
	return out
}

// Equal reports whether both frames have the same labels and cells.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	if !slices.Equal(f.columns, other.columns) || !slices.Equal(f.index, other.index) {
		return false
	}
	for i, row := range f.cells {
		for j, cell := range row {
			if !cellEqual(cell, other.cells[i][j]) {
				return false
			}
		}
	}
	return true
}

// cellEqual compares times as instants; zone and monotonic readings do not
// survive storage.
func cellEqual(a, b any) bool {
	ta, aok := a.(time.Time)
	tb, bok := b.(time.Time)
	if aok && bok {
		return ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func normalizeCell(cell any) any {
	switch v := cell.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint:
		return widenUnsigned(uint64(v))
	case uint64:
		return widenUnsigned(v)
	case uintptr:
		return widenUnsigned(uint64(v))
	case float32:
		f, _ := strconv.ParseFloat(strconv.FormatFloat(float64(v), 'g', -1, 32), 64)
		return f
	default:
		return cell
	}
}

// widenUnsigned keeps values above MaxInt64 as exact decimal numbers.
func widenUnsigned(u uint64) any {
	if u > math.MaxInt64 {
		return json.Number(strconv.FormatUint(u, 10))
	}
	return int64(u)
}

func positional(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func firstDuplicate(values []string) string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			return value
		}
		seen[value] = struct{}{}
	}
	return ""
}
