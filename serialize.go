package kvrpc

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/juju/errors"
)

/* =========================
   Serialization agent
   typed values <-> string params / results
   ========================= */

// DateLayout is the canonical wire form of a Date value. Only years
// 0 through 9999 are representable; other times cannot be serialized
// and fall back to their fmt form, which does not decode.
const DateLayout = time.RFC3339Nano

// Char is a single character. On the wire it is a one-rune JSON string.
type Char rune

func (c Char) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(rune(c)))
}

func (c *Char) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) {
		return errors.NotValidf("char %q", s)
	}
	*c = Char(r)
	return nil
}

// Enum is implemented by enumeration types whose wire form is the
// declared constant name returned by String. MarshalText makes
// encoding/json use the name at every nesting level (slices, maps,
// struct fields); implement it with EnumText, and UnmarshalText on the
// pointer type with ParseEnum:
//
//	func (c Color) MarshalText() ([]byte, error) { return kvrpc.EnumText(c) }
//
//	func (c *Color) UnmarshalText(b []byte) (err error) {
//		*c, err = kvrpc.ParseEnum[Color](string(b))
//		return err
//	}
type Enum[T any] interface {
	fmt.Stringer
	encoding.TextMarshaler
	EnumValues() []T
}

// EnumText returns the wire name of v.
func EnumText[T fmt.Stringer](v T) ([]byte, error) {
	return []byte(v.String()), nil
}

// ParseEnum resolves a declared constant name. The match is exact and
// case-sensitive; an unknown name is a NotFound error.
func ParseEnum[T Enum[T]](name string) (T, error) {
	var zero T
	for _, v := range zero.EnumValues() {
		if v.String() == name {
			return v, nil
		}
	}
	return zero, errors.NotFoundf("enum constant %q", name)
}

// DeserializeError is the user-visible failure of the last decode tier.
type DeserializeError struct {
	Type  string
	Value string
	Err   error
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("cannot deserialize %q as %s: %v", truncate(e.Value, 64), e.Type, e.Err)
}

func (e *DeserializeError) Unwrap() error { return e.Err }

const (
	errNotStandardType = errors.ConstError("not a standard type")
	errNotEnumType     = errors.ConstError("not an enum type")
)

// Serialize encodes v for a params slot. A nil value (including typed nil
// pointers, maps, slices and interfaces) yields nil.
func Serialize(v any) *string {
	if isNil(v) {
		return nil
	}
	s := SerializeNotNull(v)
	return &s
}

// SerializeNotNull encodes v as JSON. Enum values encode as their name,
// nested or not. Values JSON cannot encode fall back to fmt.Sprint as a
// JSON string.
func SerializeNotNull(v any) string {
	b, err := json.Marshal(v)
	if err == nil {
		return string(b)
	}
	logger.Debugf("json encoding of %T failed, using string form: %v", v, err)
	return quote(fmt.Sprint(v))
}

// Deserialize decodes a result string into T: standard wire types first,
// then enum names, then structural JSON decoding.
func Deserialize[T any](value string) (T, error) {
	return decodeValue[T]([]byte(value))
}

// DeserializeList decodes a JSON array, element by element, with the
// same strategy as Deserialize.
func DeserializeList[T any](value string) ([]T, error) {
	raw := bytes.TrimSpace([]byte(value))
	if bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &DeserializeError{Type: typeName[[]T](), Value: value, Err: err}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := decodeValue[T](item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeValue[T any](raw []byte) (T, error) {
	var zero T
	v, err := decodeStandard[T](raw)
	if err == nil {
		return v, nil
	}
	if err != errNotStandardType {
		return zero, &DeserializeError{Type: typeName[T](), Value: string(raw), Err: err}
	}

	v, err = decodeEnum[T](raw)
	if err == nil {
		return v, nil
	}
	if err != errNotEnumType {
		return zero, &DeserializeError{Type: typeName[T](), Value: string(raw), Err: err}
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, &DeserializeError{Type: typeName[T](), Value: string(raw), Err: err}
	}
	return v, nil
}

/* ----- tier 1: standard wire types ----- */

type wireTag int

const (
	tagString wireTag = iota
	tagNumber
	tagLong
	tagBoolean
	tagChar
	tagShort
	tagDate
	tagByte
)

var standardTypes = map[reflect.Type]wireTag{
	reflect.TypeFor[string]():    tagString,
	reflect.TypeFor[float64]():   tagNumber,
	reflect.TypeFor[float32]():   tagNumber,
	reflect.TypeFor[int64]():     tagLong,
	reflect.TypeFor[int]():       tagLong,
	reflect.TypeFor[bool]():      tagBoolean,
	reflect.TypeFor[Char]():      tagChar,
	reflect.TypeFor[int16]():     tagShort,
	reflect.TypeFor[time.Time](): tagDate,
	reflect.TypeFor[int8]():      tagByte,
}

func decodeStandard[T any](raw []byte) (T, error) {
	var zero T
	typ := reflect.TypeFor[T]()
	tag, ok := standardTypes[typ]
	if !ok {
		return zero, errNotStandardType
	}
	var decoded any
	var err error
	switch tag {
	case tagString:
		var s string
		err = json.Unmarshal(raw, &s)
		decoded = s
	case tagNumber:
		var f float64
		err = json.Unmarshal(raw, &f)
		decoded = f
	case tagLong:
		decoded, err = decodeInteger(raw, math.MinInt64, math.MaxInt64)
	case tagBoolean:
		var b bool
		err = json.Unmarshal(raw, &b)
		decoded = b
	case tagChar:
		var c Char
		err = json.Unmarshal(raw, &c)
		decoded = c
	case tagShort:
		decoded, err = decodeInteger(raw, math.MinInt16, math.MaxInt16)
	case tagDate:
		var s string
		if err = json.Unmarshal(raw, &s); err == nil {
			decoded, err = time.Parse(DateLayout, s)
		}
	case tagByte:
		decoded, err = decodeInteger(raw, math.MinInt8, math.MaxInt8)
	}
	if err != nil {
		return zero, err
	}
	return reflect.ValueOf(decoded).Convert(typ).Interface().(T), nil
}

func decodeInteger(raw []byte, lo, hi int64) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, err
	}
	if i < lo || i > hi {
		return 0, errors.NotValidf("value %d out of range [%d, %d]", i, lo, hi)
	}
	return i, nil
}

/* ----- tier 2: enums ----- */

func decodeEnum[T any](raw []byte) (T, error) {
	var zero T
	enum, ok := any(zero).(Enum[T])
	if !ok {
		return zero, errNotEnumType
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return zero, err
	}
	for _, v := range enum.EnumValues() {
		if s, ok := any(v).(fmt.Stringer); ok && s.String() == name {
			return v, nil
		}
	}
	return zero, errors.NotFoundf("enum constant %q", name)
}

/* ----- helpers ----- */

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
