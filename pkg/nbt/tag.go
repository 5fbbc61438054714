// Package nbt reads and writes the typed tag tree used for every record
// payload and for the small side-car data files next to a world.
//
// A document is a named root Compound. Numbers are big-endian, strings are
// u16-length prefixed UTF-8, arrays and lists carry an i32 length. Lists are
// homogeneous: every element has the list's declared element type.
package nbt

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// TagType is the one byte type id written before every tag.
type TagType byte

const (
	TagEnd TagType = iota
	TagByte
	TagShort
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagByteArray
	TagString
	TagList
	TagCompound
	TagIntArray
	TagLongArray
)

var tagTypeNames = [...]string{
	TagEnd:       "End",
	TagByte:      "Byte",
	TagShort:     "Short",
	TagInt:       "Int",
	TagLong:      "Long",
	TagFloat:     "Float",
	TagDouble:    "Double",
	TagByteArray: "ByteArray",
	TagString:    "String",
	TagList:      "List",
	TagCompound:  "Compound",
	TagIntArray:  "IntArray",
	TagLongArray: "LongArray",
}

func (t TagType) String() string {
	if int(t) < len(tagTypeNames) {
		return tagTypeNames[t]
	}
	return fmt.Sprintf("TagType(%d)", byte(t))
}

// Valid reports whether t is a known type id.
func (t TagType) Valid() bool {
	return t <= TagLongArray
}

// Errors returned by the codec. Decode failures always wrap ErrMalformed.
var (
	ErrMalformed     = errors.New("nbt: malformed data")
	ErrListType      = errors.New("nbt: list element type mismatch")
	ErrStringTooLong = errors.New("nbt: string longer than 65535 bytes")
	ErrNilTag        = errors.New("nbt: nil tag")
)

// Tag is one node of the tree.
type Tag interface {
	Type() TagType
}

type (
	End       struct{}
	Byte      int8
	Short     int16
	Int       int32
	Long      int64
	Float     float32
	Double    float64
	ByteArray []byte
	String    string
	IntArray  []int32
	LongArray []int64
)

func (End) Type() TagType       { return TagEnd }
func (Byte) Type() TagType      { return TagByte }
func (Short) Type() TagType     { return TagShort }
func (Int) Type() TagType       { return TagInt }
func (Long) Type() TagType      { return TagLong }
func (Float) Type() TagType     { return TagFloat }
func (Double) Type() TagType    { return TagDouble }
func (ByteArray) Type() TagType { return TagByteArray }
func (String) Type() TagType    { return TagString }
func (IntArray) Type() TagType  { return TagIntArray }
func (LongArray) Type() TagType { return TagLongArray }

// List is an ordered sequence of tags sharing ElemType. An empty list
// conventionally declares TagEnd.
type List struct {
	ElemType TagType
	Items    []Tag
}

// NewList returns an empty list of the given element type.
func NewList(elemType TagType) *List {
	return &List{ElemType: elemType}
}

func (*List) Type() TagType { return TagList }

// Len returns the number of elements.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Items)
}

// Add appends tag. An empty End-typed list adopts the type of its first
// element; any other mismatch is rejected.
func (l *List) Add(tag Tag) error {
	if tag == nil {
		return ErrNilTag
	}
	if len(l.Items) == 0 && l.ElemType == TagEnd {
		l.ElemType = tag.Type()
	}
	if tag.Type() != l.ElemType {
		return errors.Wrapf(ErrListType, "adding %s to list of %s", tag.Type(), l.ElemType)
	}
	l.Items = append(l.Items, tag)
	return nil
}

// Compound maps names to tags, keeping insertion order so a document
// renders back in the order it was read.
type Compound struct {
	names  []string
	values map[string]Tag
}

// NewCompound returns an empty compound.
func NewCompound() *Compound {
	return &Compound{values: make(map[string]Tag)}
}

func (*Compound) Type() TagType { return TagCompound }

// Len returns the number of named children.
func (c *Compound) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Names returns the child names in order.
func (c *Compound) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Set stores tag under name. Replacing an existing name keeps its position.
func (c *Compound) Set(name string, tag Tag) {
	if c.values == nil {
		c.values = make(map[string]Tag)
	}
	if _, ok := c.values[name]; !ok {
		c.names = append(c.names, name)
	}
	c.values[name] = tag
}

// Get returns the child called name.
func (c *Compound) Get(name string) (Tag, bool) {
	if c == nil || c.values == nil {
		return nil, false
	}
	tag, ok := c.values[name]
	return tag, ok
}

// Delete removes name; it is a no-op when absent.
func (c *Compound) Delete(name string) {
	if _, ok := c.values[name]; !ok {
		return
	}
	delete(c.values, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
}

// GetCompound returns the child compound called name.
func (c *Compound) GetCompound(name string) (*Compound, bool) {
	tag, ok := c.Get(name)
	if !ok {
		return nil, false
	}
	child, ok := tag.(*Compound)
	return child, ok
}

// GetList returns the child list called name.
func (c *Compound) GetList(name string) (*List, bool) {
	tag, ok := c.Get(name)
	if !ok {
		return nil, false
	}
	list, ok := tag.(*List)
	return list, ok
}

// GetInt returns the child Int called name.
func (c *Compound) GetInt(name string) (int32, bool) {
	tag, ok := c.Get(name)
	if !ok {
		return 0, false
	}
	v, ok := tag.(Int)
	return int32(v), ok
}

// GetIntArray returns the child IntArray called name.
func (c *Compound) GetIntArray(name string) (IntArray, bool) {
	tag, ok := c.Get(name)
	if !ok {
		return nil, false
	}
	v, ok := tag.(IntArray)
	return v, ok
}

// Equal reports whether a and b are the same tree. Floating point values
// are compared bitwise so NaN payloads survive a round trip check.
func Equal(a, b Tag) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	switch av := a.(type) {
	case End:
		return true
	case Byte:
		return av == b.(Byte)
	case Short:
		return av == b.(Short)
	case Int:
		return av == b.(Int)
	case Long:
		return av == b.(Long)
	case Float:
		return math.Float32bits(float32(av)) == math.Float32bits(float32(b.(Float)))
	case Double:
		return math.Float64bits(float64(av)) == math.Float64bits(float64(b.(Double)))
	case String:
		return av == b.(String)
	case ByteArray:
		bv := b.(ByteArray)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case IntArray:
		bv := b.(IntArray)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case LongArray:
		bv := b.(LongArray)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case *List:
		bv := b.(*List)
		if av.Len() != bv.Len() {
			return false
		}
		if av.Len() > 0 && av.ElemType != bv.ElemType {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case *Compound:
		bv := b.(*Compound)
		if av.Len() != bv.Len() {
			return false
		}
		for i, name := range av.names {
			if bv.names[i] != name {
				return false
			}
			if !Equal(av.values[name], bv.values[name]) {
				return false
			}
		}
		return true
	}
	return false
}
