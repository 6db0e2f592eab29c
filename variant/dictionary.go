// Package variant reads and writes the KDBX 4 "variant dictionary", a small
// typed key/value encoding used for KDF parameters and public custom data.
package variant

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Version      = 0x0100
	CriticalMask = 0xff00
)

// Type is the one-byte value type tag.
type Type byte

const (
	TypeEnd       Type = 0
	TypeUint32    Type = 0x04
	TypeUint64    Type = 0x05
	TypeBool      Type = 0x08
	TypeInt32     Type = 0x0c
	TypeInt64     Type = 0x0d
	TypeString    Type = 0x18
	TypeByteArray Type = 0x42
)

// Errors
var (
	ErrFormat  = errors.New("variant: malformed dictionary")
	ErrVersion = errors.New("variant: unsupported dictionary version")
)

type item struct {
	name  string
	value any
}

// Dictionary is an ordered set of typed values. Values are one of uint32,
// uint64, bool, int32, int64, string or []byte.
type Dictionary struct {
	items []item
}

func New() *Dictionary {
	return &Dictionary{}
}

func typeOf(v any) (Type, bool) {
	switch v.(type) {
	case uint32:
		return TypeUint32, true
	case uint64:
		return TypeUint64, true
	case bool:
		return TypeBool, true
	case int32:
		return TypeInt32, true
	case int64:
		return TypeInt64, true
	case string:
		return TypeString, true
	case []byte:
		return TypeByteArray, true
	}
	return TypeEnd, false
}

// Set stores v under name, replacing any previous value in place.
// It panics if v is not one of the supported types.
func (d *Dictionary) Set(name string, v any) {
	if _, ok := typeOf(v); !ok {
		panic(fmt.Sprintf("variant: unsupported value type %T", v))
	}
	if b, ok := v.([]byte); ok {
		v = append([]byte(nil), b...)
	}
	for i := range d.items {
		if d.items[i].name == name {
			d.items[i].value = v
			return
		}
	}
	d.items = append(d.items, item{name, v})
}

// Get returns the raw value stored under name.
func (d *Dictionary) Get(name string) (any, bool) {
	if d == nil {
		return nil, false
	}
	for _, it := range d.items {
		if it.name == name {
			return it.value, true
		}
	}
	return nil, false
}

func (d *Dictionary) Delete(name string) {
	for i := range d.items {
		if d.items[i].name == name {
			d.items = append(d.items[:i], d.items[i+1:]...)
			return
		}
	}
}

// Keys returns the names in insertion order.
func (d *Dictionary) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.items))
	for i, it := range d.items {
		keys[i] = it.name
	}
	return keys
}

func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

func (d *Dictionary) Uint32(name string) (uint32, bool) {
	v, ok := d.Get(name)
	u, ok2 := v.(uint32)
	return u, ok && ok2
}

func (d *Dictionary) Uint64(name string) (uint64, bool) {
	v, ok := d.Get(name)
	u, ok2 := v.(uint64)
	return u, ok && ok2
}

func (d *Dictionary) Bool(name string) (bool, bool) {
	v, ok := d.Get(name)
	b, ok2 := v.(bool)
	return b, ok && ok2
}

func (d *Dictionary) Int32(name string) (int32, bool) {
	v, ok := d.Get(name)
	i, ok2 := v.(int32)
	return i, ok && ok2
}

func (d *Dictionary) Int64(name string) (int64, bool) {
	v, ok := d.Get(name)
	i, ok2 := v.(int64)
	return i, ok && ok2
}

func (d *Dictionary) String(name string) (string, bool) {
	v, ok := d.Get(name)
	s, ok2 := v.(string)
	return s, ok && ok2
}

// Bytes returns a copy of the byte array stored under name.
func (d *Dictionary) Bytes(name string) ([]byte, bool) {
	v, ok := d.Get(name)
	b, ok2 := v.([]byte)
	if !ok || !ok2 {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Clone returns a deep copy of d.
func (d *Dictionary) Clone() *Dictionary {
	c := New()
	if d == nil {
		return c
	}
	for _, it := range d.items {
		c.Set(it.name, it.value)
	}
	return c
}

// Equal reports whether d and other hold the same names, types and values
// in the same order.
func (d *Dictionary) Equal(other *Dictionary) bool {
	if d.Len() != other.Len() {
		return false
	}
	for i := 0; i < d.Len(); i++ {
		a, b := d.items[i], other.items[i]
		if a.name != b.name {
			return false
		}
		ab, aIsBytes := a.value.([]byte)
		bb, bIsBytes := b.value.([]byte)
		if aIsBytes || bIsBytes {
			if !aIsBytes || !bIsBytes || !bytes.Equal(ab, bb) {
				return false
			}
			continue
		}
		if a.value != b.value {
			return false
		}
	}
	return true
}

// Unmarshal parses a serialized dictionary.
func Unmarshal(data []byte) (*Dictionary, error) {
	r := bytes.NewReader(data)

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: missing version", ErrFormat)
	}
	if version&CriticalMask > Version&CriticalMask {
		return nil, fmt.Errorf("%w: %#04x", ErrVersion, version)
	}

	d := New()
	for {
		var fieldType [1]byte
		if _, err := io.ReadFull(r, fieldType[:]); err != nil {
			return nil, fmt.Errorf("%w: missing terminator", ErrFormat)
		}
		if Type(fieldType[0]) == TypeEnd {
			return d, nil
		}

		name, err := readChunk(r)
		if err != nil {
			return nil, err
		}
		value, err := readChunk(r)
		if err != nil {
			return nil, err
		}

		v, err := decodeValue(Type(fieldType[0]), value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFormat, name, err)
		}
		d.items = append(d.items, item{string(name), v})
	}
}

func readChunk(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: truncated length", ErrFormat)
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrFormat, n, r.Len())
	}
	b := make([]byte, n)
	io.ReadFull(r, b)
	return b, nil
}

func decodeValue(t Type, b []byte) (any, error) {
	want := map[Type]int{
		TypeUint32: 4,
		TypeUint64: 8,
		TypeBool:   1,
		TypeInt32:  4,
		TypeInt64:  8,
	}
	if n, ok := want[t]; ok && len(b) != n {
		return nil, fmt.Errorf("value size is %d, should be %d", len(b), n)
	}
	switch t {
	case TypeUint32:
		return binary.LittleEndian.Uint32(b), nil
	case TypeUint64:
		return binary.LittleEndian.Uint64(b), nil
	case TypeBool:
		return b[0] != 0, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(b)), nil
	case TypeInt64:
		return int64(binary.LittleEndian.Uint64(b)), nil
	case TypeString:
		return string(b), nil
	case TypeByteArray:
		return b, nil
	default:
		return nil, fmt.Errorf("unknown field type %#02x", byte(t))
	}
}

// Marshal serializes d.
func (d *Dictionary) Marshal() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint16(Version))
	for _, it := range d.items {
		t, _ := typeOf(it.value)
		var value []byte
		switch v := it.value.(type) {
		case uint32:
			value = binary.LittleEndian.AppendUint32(nil, v)
		case uint64:
			value = binary.LittleEndian.AppendUint64(nil, v)
		case bool:
			value = []byte{0}
			if v {
				value[0] = 1
			}
		case int32:
			value = binary.LittleEndian.AppendUint32(nil, uint32(v))
		case int64:
			value = binary.LittleEndian.AppendUint64(nil, uint64(v))
		case string:
			value = []byte(v)
		case []byte:
			value = v
		}
		buf.WriteByte(byte(t))
		binary.Write(&buf, binary.LittleEndian, uint32(len(it.name)))
		buf.WriteString(it.name)
		binary.Write(&buf, binary.LittleEndian, uint32(len(value)))
		buf.Write(value)
	}
	buf.WriteByte(byte(TypeEnd))
	return buf.Bytes()
}
