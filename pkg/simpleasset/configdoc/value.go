// Package configdoc models site configuration documents as a typed tree and
// finds or replaces the storage URLs referenced from their string leaves.
//
// Documents are walked structurally. No schema is assumed beyond "string
// leaves may be URLs", so unknown keys and nesting survive a rewrite
// untouched, including object key order and duplicate keys.
package configdoc

import "fmt"

// Kind identifies the variant of a Value
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a node of a configuration document. The set of implementations
// is closed: Null, Bool, Number, String, Array and Object.
type Value interface {
	Kind() Kind
	sealed()
}

type (
	// Null is the JSON null literal
	Null struct{}

	// Bool is a JSON boolean
	Bool bool

	// Number keeps the literal text of a JSON number so documents
	// round-trip without float rounding.
	Number string

	// String is a JSON string
	String string

	// Array is an ordered list of values
	Array []Value

	// Object is an ordered list of members. Key order and duplicate keys
	// are preserved as parsed.
	Object []Member
)

// Member is a single key/value pair of an Object
type Member struct {
	Key   string
	Value Value
}

func (Null) Kind() Kind { return KindNull }
func (Bool) Kind() Kind { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind { return KindArray }
func (Object) Kind() Kind { return KindObject }

func (Null) sealed() {}
func (Bool) sealed() {}
func (Number) sealed() {}
func (String) sealed() {}
func (Array) sealed() {}
func (Object) sealed() {}

// Get returns the value of the first member named key.
func (o Object) Get(key string) (Value, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Visitor has one method per variant. Adding a variant to Value breaks
// every Visitor at compile time, which keeps walks exhaustive.
type Visitor[R any] interface {
	VisitNull() R
	VisitBool(b Bool) R
	VisitNumber(n Number) R
	VisitString(s String) R
	VisitArray(a Array) R
	VisitObject(o Object) R
}

// Visit dispatches v to the matching Visitor method. A nil Value is
// visited as Null.
func Visit[R any](v Value, vis Visitor[R]) R {
	switch t := v.(type) {
	case nil, Null:
		return vis.VisitNull()
	case Bool:
		return vis.VisitBool(t)
	case Number:
		return vis.VisitNumber(t)
	case String:
		return vis.VisitString(t)
	case Array:
		return vis.VisitArray(t)
	case Object:
		return vis.VisitObject(t)
	}
	panic(fmt.Sprintf("configdoc: unknown value type %T", v))
}
