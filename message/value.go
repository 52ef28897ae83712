package message

import (
	"fmt"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind byte

const (
	KindNull   ValueKind = 'N'
	KindVoid   ValueKind = 'V'
	KindString ValueKind = 'S'
	KindBool   ValueKind = 'B'
	KindLong   ValueKind = 'L'
	KindDouble ValueKind = 'D'
	KindObject ValueKind = 'O'
	KindList   ValueKind = 'A'
	KindMap    ValueKind = 'M'
)

// Value is a tagged union of everything that crosses the wire as an argument
// or result: scalars, lists and maps of values, and object references.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Str    string    `json:"str,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
	Long   int64     `json:"long,omitempty"`
	Double float64   `json:"double,omitempty"`
	Ref    int64     `json:"ref,omitempty"`   // object id for KindObject
	Class  string    `json:"class,omitempty"` // optional class name for KindObject
	List   []Value   `json:"list,omitempty"`
	Map    []Entry   `json:"map,omitempty"` // ordered, keys are unique
}

// Entry is one key/value pair of a map Value.
type Entry struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

func Null() Value               { return Value{Kind: KindNull} }
func Void() Value               { return Value{Kind: KindVoid} }
func String(s string) Value     { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Long(n int64) Value        { return Value{Kind: KindLong, Long: n} }
func Double(f float64) Value    { return Value{Kind: KindDouble, Double: f} }
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }
func Map(entries ...Entry) Value {
	return Value{Kind: KindMap, Map: entries}
}

// Object references a host object by id.
func Object(id int64, class string) Value {
	return Value{Kind: KindObject, Ref: id, Class: class}
}

// IsNull reports whether v carries no value (null or void).
func (v Value) IsNull() bool {
	return v.Kind == KindNull || v.Kind == KindVoid || v.Kind == 0
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull, KindVoid, 0:
		return "null"
	case KindString:
		return strconv.Quote(v.Str)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindLong:
		return strconv.FormatInt(v.Long, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case KindObject:
		return fmt.Sprintf("object#%d(%s)", v.Ref, v.Class)
	case KindList:
		return fmt.Sprintf("list[%d]", len(v.List))
	case KindMap:
		return fmt.Sprintf("map[%d]", len(v.Map))
	default:
		return fmt.Sprintf("value(%c)", v.Kind)
	}
}
