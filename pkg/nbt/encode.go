package nbt

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

type encoder struct {
	buf []byte
}

// Encode writes root as a named document to w.
func Encode(w io.Writer, name string, root *Compound) error {
	data, err := Marshal(name, root)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return errors.Wrap(err, "write nbt document")
}

// Marshal renders root as a named document. Rendering does not modify root.
func Marshal(name string, root *Compound) ([]byte, error) {
	if root == nil {
		return nil, ErrNilTag
	}
	e := &encoder{buf: make([]byte, 0, 4096)}
	e.buf = append(e.buf, byte(TagCompound))
	if err := e.writeString(name); err != nil {
		return nil, err
	}
	if err := e.writePayload(root); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// EncodeTag writes the unnamed payload of tag to w.
func EncodeTag(w io.Writer, tag Tag) error {
	e := &encoder{}
	if err := e.writePayload(tag); err != nil {
		return err
	}
	_, err := io.Copy(w, bytes.NewReader(e.buf))
	return err
}

func (e *encoder) writeString(s string) error {
	if len(s) > math.MaxUint16 {
		return errors.Wrapf(ErrStringTooLong, "%d bytes", len(s))
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

func (e *encoder) writeLength(n int) error {
	if n > math.MaxInt32 {
		return errors.Errorf("nbt: length %d does not fit in int32", n)
	}
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(n))
	return nil
}

func (e *encoder) writePayload(tag Tag) error {
	switch v := tag.(type) {
	case nil:
		return ErrNilTag
	case End:
	case Byte:
		e.buf = append(e.buf, byte(v))
	case Short:
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(v))
	case Int:
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
	case Long:
		e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
	case Float:
		e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(float32(v)))
	case Double:
		e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(float64(v)))
	case ByteArray:
		if err := e.writeLength(len(v)); err != nil {
			return err
		}
		e.buf = append(e.buf, v...)
	case String:
		return e.writeString(string(v))
	case IntArray:
		if err := e.writeLength(len(v)); err != nil {
			return err
		}
		for _, x := range v {
			e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(x))
		}
	case LongArray:
		if err := e.writeLength(len(v)); err != nil {
			return err
		}
		for _, x := range v {
			e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(x))
		}
	case *List:
		return e.writeList(v)
	case *Compound:
		return e.writeCompound(v)
	default:
		return errors.Errorf("nbt: cannot encode %T", tag)
	}
	return nil
}

func (e *encoder) writeList(l *List) error {
	elem := l.ElemType
	if len(l.Items) == 0 && !elem.Valid() {
		elem = TagEnd
	}
	e.buf = append(e.buf, byte(elem))
	if err := e.writeLength(len(l.Items)); err != nil {
		return err
	}
	for i, item := range l.Items {
		if item == nil {
			return errors.Wrapf(ErrNilTag, "list element %d", i)
		}
		if item.Type() != elem {
			return errors.Wrapf(ErrListType, "element %d is %s in list of %s", i, item.Type(), elem)
		}
		if err := e.writePayload(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) writeCompound(c *Compound) error {
	for _, name := range c.names {
		tag := c.values[name]
		if tag == nil {
			return errors.Wrapf(ErrNilTag, "compound child %q", name)
		}
		if tag.Type() == TagEnd {
			return errors.Errorf("nbt: compound child %q is End", name)
		}
		e.buf = append(e.buf, byte(tag.Type()))
		if err := e.writeString(name); err != nil {
			return err
		}
		if err := e.writePayload(tag); err != nil {
			return errors.Wrapf(err, "tag %q", name)
		}
	}
	e.buf = append(e.buf, byte(TagEnd))
	return nil
}
