package docstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

const (
	cborMajorArray = 4
	cborMajorMap   = 5
	cborBreak      = 0xff
)

// cborEncMode writes scalars with the smallest encoding. Maps are written by
// Map.MarshalCBOR in insertion order, so the sort setting only matters for
// stray Go maps.
var cborEncMode cbor.EncMode

// cborDecMode decodes scalars into interface values; maps and arrays are
// walked by parseCBORItem so order survives.
var cborDecMode cbor.DecMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("docstore: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("docstore: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborFormat struct{}

func (cborFormat) marshal(tree any, _ string) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCBOR(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (cborFormat) unmarshal(data []byte) (any, error) {
	value, rest, err := parseCBORItem(data)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("docstore: %d bytes after top-level CBOR item", len(rest))
	}
	return value, nil
}

func writeCBOR(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case *Map:
		if v == nil {
			buf.WriteByte(0xf6)
			return nil
		}
		return writeCBORMap(buf, v)
	case []any:
		writeCBORHead(buf, cborMajorArray, uint64(len(v)))
		for _, item := range v {
			if err := writeCBOR(buf, item); err != nil {
				return err
			}
		}
		return nil
	case json.Number:
		return writeCBOR(buf, cborNumber(v))
	case nil, bool, string, int64, int, uint64, float64, *big.Int:
		encoded, err := cborEncMode.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	default:
		return &UnknownTypeError{Type: reflect.TypeOf(value)}
	}
}

func writeCBORMap(buf *bytes.Buffer, m *Map) error {
	writeCBORHead(buf, cborMajorMap, uint64(m.Len()))
	for _, key := range m.keys {
		if err := writeCBOR(buf, key); err != nil {
			return err
		}
		if err := writeCBOR(buf, m.values[key]); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

func writeCBORHead(buf *bytes.Buffer, major byte, n uint64) {
	head := major << 5
	switch {
	case n < 24:
		buf.WriteByte(head | byte(n))
	case n <= math.MaxUint8:
		buf.WriteByte(head | 24)
		buf.WriteByte(byte(n))
	case n <= math.MaxUint16:
		buf.WriteByte(head | 25)
		buf.Write(binary.BigEndian.AppendUint16(nil, uint16(n)))
	case n <= math.MaxUint32:
		buf.WriteByte(head | 26)
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(n)))
	default:
		buf.WriteByte(head | 27)
		buf.Write(binary.BigEndian.AppendUint64(nil, n))
	}
}

func cborNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
		return u
	}
	if b, ok := new(big.Int).SetString(string(n), 10); ok {
		return b
	}
	f, _ := n.Float64()
	return f
}

// parseCBORItem decodes the first item in data. Arrays and maps are walked
// here so map entries keep their encoded order; scalars go through the
// library decoder.
func parseCBORItem(data []byte) (any, []byte, error) {
	if len(data) == 0 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	major := data[0] >> 5
	if major != cborMajorArray && major != cborMajorMap {
		var value any
		rest, err := cborDecMode.UnmarshalFirst(data, &value)
		if err != nil {
			return nil, nil, err
		}
		return normalizeCBOR(value), rest, nil
	}

	count, indefinite, rest, err := readCBORHead(data)
	if err != nil {
		return nil, nil, err
	}
	more := func(i uint64) bool {
		if indefinite {
			return len(rest) > 0 && rest[0] != cborBreak
		}
		return i < count
	}

	if major == cborMajorArray {
		items := []any{}
		for i := uint64(0); more(i); i++ {
			var item any
			item, rest, err = parseCBORItem(rest)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, item)
		}
		rest, err = consumeBreak(rest, indefinite)
		return items, rest, err
	}

	m := NewMap()
	for i := uint64(0); more(i); i++ {
		var key string
		rest, err = cborDecMode.UnmarshalFirst(rest, &key)
		if err != nil {
			return nil, nil, fmt.Errorf("docstore: CBOR map key: %w", err)
		}
		var value any
		value, rest, err = parseCBORItem(rest)
		if err != nil {
			return nil, nil, err
		}
		m.Set(key, value)
	}
	rest, err = consumeBreak(rest, indefinite)
	return m, rest, err
}

func readCBORHead(data []byte) (count uint64, indefinite bool, rest []byte, err error) {
	info := data[0] & 0x1f
	rest = data[1:]
	width := 0
	switch {
	case info < 24:
		return uint64(info), false, rest, nil
	case info == 24:
		width = 1
	case info == 25:
		width = 2
	case info == 26:
		width = 4
	case info == 27:
		width = 8
	case info == 31:
		return 0, true, rest, nil
	default:
		return 0, false, nil, fmt.Errorf("docstore: invalid CBOR additional info %d", info)
	}
	if len(rest) < width {
		return 0, false, nil, io.ErrUnexpectedEOF
	}
	for _, b := range rest[:width] {
		count = count<<8 | uint64(b)
	}
	return count, false, rest[width:], nil
}

func consumeBreak(rest []byte, indefinite bool) ([]byte, error) {
	if !indefinite {
		return rest, nil
	}
	if len(rest) == 0 || rest[0] != cborBreak {
		return nil, io.ErrUnexpectedEOF
	}
	return rest[1:], nil
}

func normalizeCBOR(value any) any {
	switch v := value.(type) {
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return json.Number(strconv.FormatUint(v, 10))
	case big.Int:
		return json.Number(v.String())
	case *big.Int:
		return json.Number(v.String())
	case float32:
		return float64(v)
	case []byte:
		return string(v)
	case map[string]any:
		return mapFromGo(v)
	default:
		return value
	}
}
