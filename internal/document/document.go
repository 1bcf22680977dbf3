// Package document implements the engine's JSON-like document type and its
// length-prefixed binary wire format. Nested documents are held by pointer
// (shared by reference); serialization is the only authoritative form.
package document

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"strconv"
)

// Kind tags the type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindFloat64
	KindString
	KindDocument
	KindBool
	KindInt32
	KindInt64
)

// Value is a tagged union over the document's primitive types.
type Value struct {
	Kind Kind
	F64  float64
	Str  string
	Doc  *Document
	Bool bool
	I32  int32
	I64  int64
}

func Null() Value              { return Value{Kind: KindNull} }
func Float64(v float64) Value  { return Value{Kind: KindFloat64, F64: v} }
func String(v string) Value    { return Value{Kind: KindString, Str: v} }
func Sub(v *Document) Value    { return Value{Kind: KindDocument, Doc: v} }
func Bool(v bool) Value        { return Value{Kind: KindBool, Bool: v} }
func Int32(v int32) Value      { return Value{Kind: KindInt32, I32: v} }
func Int64(v int64) Value      { return Value{Kind: KindInt64, I64: v} }

// Equal reports whether two values have the same kind and content. Nested
// documents compare structurally, not by pointer identity.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindFloat64:
		return v.F64 == o.F64
	case KindString:
		return v.Str == o.Str
	case KindDocument:
		return v.Doc.Equal(o.Doc)
	case KindBool:
		return v.Bool == o.Bool
	case KindInt32:
		return v.I32 == o.I32
	case KindInt64:
		return v.I64 == o.I64
	}
	return false
}

// Document is an ordered mapping from field name to Value. Iteration order
// is always the lexicographic order of the keys, not insertion order.
type Document struct {
	fields map[string]Value
}

// New returns an empty document.
func New() *Document {
	return &Document{fields: make(map[string]Value)}
}

// Set assigns a field, overwriting any existing value.
func (d *Document) Set(key string, v Value) {
	d.fields[key] = v
}

// Get returns a field's value and whether it was present.
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Delete removes a field, if present.
func (d *Document) Delete(key string) {
	delete(d.fields, key)
}

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.fields) }

// Keys returns the field names in lexicographic order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.fields))
	for k := range d.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge overwrites d's fields with every field of patch, leaving fields
// absent from patch untouched. This implements the engine's update
// semantics: merge_doc overwrites matching fields, others are preserved.
func (d *Document) Merge(patch *Document) {
	for _, k := range patch.Keys() {
		v, _ := patch.Get(k)
		d.Set(k, v)
	}
}

// Equal compares two documents field-by-field, ignoring nothing.
func (d *Document) Equal(o *Document) bool {
	if o == nil {
		return d == nil
	}
	if d == nil {
		return false
	}
	if d.Len() != o.Len() {
		return false
	}
	for k, v := range d.fields {
		ov, ok := o.fields[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers can mutate a fetched document
// without aliasing the buffer-pool page it was deserialized from.
func (d *Document) Clone() *Document {
	c := New()
	for k, v := range d.fields {
		if v.Kind == KindDocument && v.Doc != nil {
			v = Sub(v.Doc.Clone())
		}
		c.Set(k, v)
	}
	return c
}

var (
	ErrTruncated = errors.New("document: truncated buffer")
	ErrBadKind   = errors.New("document: unknown value kind")
)

// Serialize encodes d as: num_fields(u32), then per field in key order:
// key_len(u32) key_bytes kind(u8) payload.
func Serialize(d *Document) []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint32(buf, uint32(d.Len()))
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		buf = appendUint32(buf, uint32(len(k)))
		buf = append(buf, k...)
		buf = appendValue(buf, v)
	}
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindFloat64:
		buf = appendUint64(buf, math.Float64bits(v.F64))
	case KindString:
		buf = appendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	case KindDocument:
		buf = append(buf, Serialize(v.Doc)...)
	case KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindInt32:
		buf = appendUint32(buf, uint32(v.I32))
	case KindInt64:
		buf = appendUint64(buf, uint64(v.I64))
	}
	return buf
}

// Deserialize decodes a document from the start of buf, returning the
// number of bytes consumed.
func Deserialize(buf []byte) (*Document, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrTruncated
	}
	n := binary.LittleEndian.Uint32(buf)
	off := 4
	d := New()
	for i := uint32(0); i < n; i++ {
		if len(buf) < off+4 {
			return nil, 0, ErrTruncated
		}
		klen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if len(buf) < off+klen {
			return nil, 0, ErrTruncated
		}
		key := string(buf[off : off+klen])
		off += klen

		v, consumed, err := decodeValue(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += consumed
		d.Set(key, v)
	}
	return d, off, nil
}

func decodeValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, ErrTruncated
	}
	kind := Kind(buf[0])
	off := 1
	switch kind {
	case KindNull:
		return Null(), off, nil
	case KindFloat64:
		if len(buf) < off+8 {
			return Value{}, 0, ErrTruncated
		}
		bits := binary.LittleEndian.Uint64(buf[off:])
		return Float64(math.Float64frombits(bits)), off + 8, nil
	case KindString:
		if len(buf) < off+4 {
			return Value{}, 0, ErrTruncated
		}
		slen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if len(buf) < off+slen {
			return Value{}, 0, ErrTruncated
		}
		return String(string(buf[off : off+slen])), off + slen, nil
	case KindDocument:
		sub, consumed, err := Deserialize(buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		return Sub(sub), off + consumed, nil
	case KindBool:
		if len(buf) < off+1 {
			return Value{}, 0, ErrTruncated
		}
		return Bool(buf[off] != 0), off + 1, nil
	case KindInt32:
		if len(buf) < off+4 {
			return Value{}, 0, ErrTruncated
		}
		return Int32(int32(binary.LittleEndian.Uint32(buf[off:]))), off + 4, nil
	case KindInt64:
		if len(buf) < off+8 {
			return Value{}, 0, ErrTruncated
		}
		return Int64(int64(binary.LittleEndian.Uint64(buf[off:]))), off + 8, nil
	default:
		return Value{}, 0, ErrBadKind
	}
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// CoerceKey converts a value to a B+ tree index key per the catalog's
// create_index rule: strings pass through, 32-bit ints become their decimal
// representation, everything else is not indexable.
func CoerceKey(v Value) (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindInt32:
		return strconv.FormatInt(int64(v.I32), 10), true
	default:
		return "", false
	}
}
