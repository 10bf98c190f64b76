package docstore

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
)

// Comparator orders two sort keys, returning a negative number when a sorts
// before b, zero when they are equivalent, and a positive number otherwise.
type Comparator func(a, b any) int

// KeyFunc derives the sort key of one item: a mapping key (string) or a
// sequence element.
type KeyFunc func(item any) (any, error)

// Ascending orders values naturally: nil, then bools, numbers, strings,
// times, and finally anything else by its printed form.
func Ascending(a, b any) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankNil:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		return compareNumbers(a, b)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// Descending reverses Ascending.
func Descending(a, b any) int {
	return -Ascending(a, b)
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankString
	rankTime
	rankOther
)

func sortRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case string:
		return rankString
	case time.Time:
		return rankTime
	case json.Number:
		return rankNumber
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return rankNumber
	}
	return rankOther
}

func compareNumbers(a, b any) int {
	ai, aInt := asInt64(a)
	bi, bInt := asInt64(b)
	if aInt && bInt {
		return cmp.Compare(ai, bi)
	}
	return cmp.Compare(asFloat64(a), asFloat64(b))
}

func asInt64(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		i, err := n.Int64()
		return i, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		return int64(u), u <= 1<<63-1
	}
	return 0, false
}

func asFloat64(v any) float64 {
	if n, ok := v.(json.Number); ok {
		f, _ := n.Float64()
		return f
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return 0
}

// sorter reorders the top level of a tree. key derives a sort key per item
// (the item itself when nil) and compare orders those keys.
type sorter struct {
	compare Comparator
	key     func(SortContext) (any, error)
	onDone  func(items int, duration time.Duration, err error)
}

func (s *sorter) apply(value any) (any, error) {
	switch v := value.(type) {
	case *Map:
		keys := v.Keys()
		items := make([]SortContext, len(keys))
		for i, key := range keys {
			item, _ := v.Get(key)
			items[i] = SortContext{Key: key, Value: item, Index: i}
		}
		order, err := s.order(items)
		if err != nil {
			return nil, err
		}
		sorted := make([]string, len(order))
		for i, idx := range order {
			sorted[i] = keys[idx]
		}
		v.reorder(sorted)
		return v, nil
	case []any:
		items := make([]SortContext, len(v))
		for i, item := range v {
			items[i] = SortContext{Key: item, Value: item, Index: i}
		}
		order, err := s.order(items)
		if err != nil {
			return nil, err
		}
		sorted := make([]any, len(order))
		for i, idx := range order {
			sorted[i] = v[idx]
		}
		return sorted, nil
	default:
		return nil, configError("sort", "sorting is only allowed with sequences or mappings, got %T", value)
	}
}

func (s *sorter) order(items []SortContext) ([]int, error) {
	start := time.Now()
	keys := make([]any, len(items))
	var err error
	for i, item := range items {
		if s.key == nil {
			keys[i] = item.Key
			continue
		}
		keys[i], err = s.key(item)
		if err != nil {
			break
		}
	}
	if s.onDone != nil {
		s.onDone(len(items), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	compare := s.compare
	if compare == nil {
		compare = Ascending
	}
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return compare(keys[a], keys[b])
	})
	return order, nil
}
